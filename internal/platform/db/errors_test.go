package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, shared.ErrNotFound},
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "franchises_slug_key"}, shared.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, shared.ErrInvalidArgument},
		{"check", &pgconn.PgError{Code: "23514"}, shared.ErrInvalidArgument},
		{"serialization", &pgconn.PgError{Code: "40001"}, shared.ErrUnavailable},
		{"deadline", context.DeadlineExceeded, shared.ErrUnavailable},
		{"wrapped no rows", fmt.Errorf("load: %w", pgx.ErrNoRows), shared.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, Classify(tc.err), tc.want)
		})
	}
}

func TestClassifyPassesThrough(t *testing.T) {
	assert.NoError(t, Classify(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, Classify(plain))

	kinded := fmt.Errorf("tenants: %w", shared.ErrForbidden)
	assert.Same(t, kinded, Classify(kinded))

	assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)
	assert.NotErrorIs(t, Classify(context.Canceled), shared.ErrUnavailable)
}
