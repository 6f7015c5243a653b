package db

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeInvalidText         = "22P02"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

// Classify wraps a pgx error with the matching shared error kind. Errors that
// already carry a kind, and nil, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{
		shared.ErrNotFound, shared.ErrConflict, shared.ErrInvalidArgument,
		shared.ErrUnavailable, shared.ErrForbidden, shared.ErrUnauthenticated,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", shared.ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.ConstraintName)
		case codeForeignKeyViolation, codeCheckViolation, codeInvalidText:
			return fmt.Errorf("%w: %s", shared.ErrInvalidArgument, pgErr.Message)
		case codeSerialization, codeDeadlock:
			return fmt.Errorf("%w: %s", shared.ErrUnavailable, pgErr.Message)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", shared.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", shared.ErrUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", shared.ErrUnavailable, err)
	}
	return err
}
