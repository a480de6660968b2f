package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/domain/schedule"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusDisabled  Status = "disabled"
)

// Availability is a doctor's single recurring daily work window. One row per
// doctor, enforced by a unique index on doctor_id; saving again replaces the
// existing window.
type Availability struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	DoctorID    uuid.UUID `gorm:"column:doctor_id;type:uuid;not null;uniqueIndex"`
	StartMinute int       `gorm:"column:start_minute;not null"`
	EndMinute   int       `gorm:"column:end_minute;not null"`
	Status      Status    `gorm:"column:status;type:varchar(20);not null;default:'available'"`
}

func (Availability) TableName() string {
	return "booking.availabilities"
}

func (a *Availability) Window() *schedule.Window {
	return &schedule.Window{StartMinute: a.StartMinute, EndMinute: a.EndMinute}
}

type SetAvailabilityCommand struct {
	DoctorID    uuid.UUID
	StartMinute int
	EndMinute   int
	Status      Status
}
