package ledger

import (
	"errors"
	"fmt"
)

// Ledger errors.
var (
	ErrInsufficientCredit = errors.New("no credits remaining")
	ErrPlanExpired        = fmt.Errorf("%w: plan expired", ErrInsufficientCredit)
	ErrNotFound           = errors.New("not found")
	ErrGrantConflict      = errors.New("plan id already applied with different parameters")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidBalance     = errors.New("balance must not be negative")
	ErrInvalidKind        = errors.New("invalid credit kind")
	ErrInvalidTenant      = errors.New("tenant id is required")
	ErrInvalidPlanID      = errors.New("plan id is required")
	ErrExpiresInPast      = errors.New("expires_at must be in the future")
)
