package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Storage errors shared by the PostgreSQL and in-memory stores.
var (
	ErrPoolNotFound        = errors.New("credit pool not found")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrGrantConflict       = errors.New("plan id already used for a different grant")
	ErrPrincipalNotFound   = errors.New("principal not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrMessageExists       = errors.New("message already exists")
)

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
