package availability

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// GetActiveByDoctor returns the doctor's window when it exists and is not
	// disabled. An unconfigured schedule is not an error: (nil, nil).
	GetActiveByDoctor(ctx context.Context, doctorID uuid.UUID) (*Availability, error)

	// GetByDoctor returns the doctor's window regardless of status.
	// Returns ErrNotConfigured when absent.
	GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*Availability, error)

	// Upsert creates or replaces the doctor's single window.
	Upsert(ctx context.Context, a *Availability) error
}
