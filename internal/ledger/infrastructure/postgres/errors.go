package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"ledgerflow/internal/ledger/domain"
)

// Postgres error codes the processor's retry policy depends on.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// mapError translates pgx errors into domain sentinels so the processor
// can classify conflicts without importing pgconn.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", domain.ErrSerializationFailure, pgErr.Code)
		}
	}
	return err
}
