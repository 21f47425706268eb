package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error classes used for retryability decisions.
const (
	pgUniqueViolation            = "23505"
	pgClassConnection            = "08"
	pgClassInsufficientResources = "53"
	pgClassOperatorIntervention  = "57"
)

// isUniqueViolation reports whether err is a unique-constraint rejection.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsRetryable classifies a storage error: connection failures, resource
// exhaustion, and operator interventions (failover) may succeed on retry;
// constraint and data errors will not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		case pgClassConnection, pgClassInsufficientResources, pgClassOperatorIntervention:
			return true
		}
		return false
	}
	// Driver-level failures without a SQLSTATE (broken pipe, EOF) are
	// treated as transient.
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrDuplicateAttempt) &&
		!errors.Is(err, ErrLeaseHeld)
}
