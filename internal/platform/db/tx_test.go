package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTx struct {
	pgx.Tx
	stmts      []string
	args       [][]any
	committed  bool
	rolledBack bool
}

func (t *recordingTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.stmts = append(t.stmts, sql)
	t.args = append(t.args, args)
	return pgconn.CommandTag{}, nil
}

func (t *recordingTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *recordingTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type recordingBeginner struct {
	opts pgx.TxOptions
	tx   *recordingTx
}

func (b *recordingBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = opts
	b.tx = &recordingTx{}
	return b.tx, nil
}

func TestWithKeyLockUsesReadCommittedAndLocksFirst(t *testing.T) {
	b := &recordingBeginner{}
	err := withKeyLock(context.Background(), b, "profit_share:k", func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "UPDATE t SET x = 1")
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, pgx.ReadCommitted, b.opts.IsoLevel)
	require.Len(t, b.tx.stmts, 2)
	assert.Contains(t, b.tx.stmts[0], "pg_advisory_xact_lock")
	assert.Equal(t, []any{"profit_share:k"}, b.tx.args[0])
	assert.Equal(t, "UPDATE t SET x = 1", b.tx.stmts[1])
	assert.True(t, b.tx.committed)
}

func TestWithKeyLockRollsBackOnError(t *testing.T) {
	b := &recordingBeginner{}
	boom := errors.New("boom")
	err := withKeyLock(context.Background(), b, "k", func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, b.tx.committed)
	assert.True(t, b.tx.rolledBack)
}

func TestWithTxOptionsRequiresPool(t *testing.T) {
	require.Error(t, WithTx(context.Background(), nil, func(pgx.Tx) error { return nil }))
	require.Error(t, WithKeyLock(context.Background(), nil, "k", func(pgx.Tx) error { return nil }))
}
