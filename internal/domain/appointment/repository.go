package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, q *ListQuery) (*PagedAppointments, error)

	// UpdateStatus persists a status transition already applied to a.
	UpdateStatus(ctx context.Context, a *Appointment) error

	// UpdateSessionToken records the most recently issued video token.
	UpdateSessionToken(ctx context.Context, id uuid.UUID, token string) error

	// HasConflict checks whether a doctor already has a scheduled appointment
	// whose [start_time, end_time) overlaps the given half-open interval.
	HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error)

	// ListScheduledInRange returns the doctor's scheduled appointments
	// intersecting [from, to), ordered by start time. Feeds the slot
	// generator's busy snapshot.
	ListScheduledInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
}
