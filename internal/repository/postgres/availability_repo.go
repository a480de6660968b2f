package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medibook/medibook/internal/domain/availability"
)

type AvailabilityRepo struct {
	db *gorm.DB
}

func NewAvailabilityRepo(db *gorm.DB) *AvailabilityRepo {
	return &AvailabilityRepo{db: db}
}

func (r *AvailabilityRepo) GetActiveByDoctor(ctx context.Context, doctorID uuid.UUID) (*availability.Availability, error) {
	var a availability.Availability
	err := conn(ctx, r.db).
		Where("doctor_id = ? AND status = ?", doctorID, availability.StatusAvailable).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Not an error: the doctor simply has no schedule yet.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching availability: %w", err)
	}
	return &a, nil
}

func (r *AvailabilityRepo) GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*availability.Availability, error) {
	var a availability.Availability
	err := conn(ctx, r.db).Where("doctor_id = ?", doctorID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, availability.ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("fetching availability: %w", err)
	}
	return &a, nil
}

func (r *AvailabilityRepo) Upsert(ctx context.Context, a *availability.Availability) error {
	// One window per doctor: the unique index on doctor_id turns a second
	// save into an update of the existing row.
	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doctor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"start_minute", "end_minute", "status", "updated_at"}),
	}).Create(a).Error
	if err != nil {
		return fmt.Errorf("saving availability: %w", err)
	}
	return nil
}
