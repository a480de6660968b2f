package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medibook/medibook/internal/domain/appointment"
)

type AppointmentRepo struct {
	db *gorm.DB
}

func NewAppointmentRepo(db *gorm.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

func (r *AppointmentRepo) Create(ctx context.Context, a *appointment.Appointment) error {
	if err := conn(ctx, r.db).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			// The partial unique index on (doctor_id, start_time) fired:
			// a competing reservation won the race.
			return appointment.ErrSlotTaken
		}
		return fmt.Errorf("creating appointment: %w", err)
	}
	return nil
}

func (r *AppointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := conn(ctx, r.db).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appointment.ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching appointment: %w", err)
	}
	return &a, nil
}

func (r *AppointmentRepo) UpdateStatus(ctx context.Context, a *appointment.Appointment) error {
	return conn(ctx, r.db).Model(&appointment.Appointment{}).Where("id = ?", a.ID).Updates(map[string]any{
		"status":       a.Status,
		"cancelled_at": a.CancelledAt,
		"cancelled_by": a.CancelledBy,
		"completed_at": a.CompletedAt,
	}).Error
}

func (r *AppointmentRepo) UpdateSessionToken(ctx context.Context, id uuid.UUID, token string) error {
	return conn(ctx, r.db).Model(&appointment.Appointment{}).
		Where("id = ?", id).
		Update("video_session_token", token).Error
}

func (r *AppointmentRepo) HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	// Same half-open semantics as schedule.Overlaps: touching endpoints are
	// not a conflict.
	var count int64
	err := conn(ctx, r.db).Model(&appointment.Appointment{}).
		Where("doctor_id = ? AND status = ? AND start_time < ? AND end_time > ?",
			doctorID, appointment.StatusScheduled, end, start).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking conflicts: %w", err)
	}
	return count > 0, nil
}

func (r *AppointmentRepo) ListScheduledInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*appointment.Appointment, error) {
	var appts []*appointment.Appointment
	err := conn(ctx, r.db).
		Where("doctor_id = ? AND status = ? AND start_time < ? AND end_time > ?",
			doctorID, appointment.StatusScheduled, to, from).
		Order("start_time ASC").
		Find(&appts).Error
	if err != nil {
		return nil, fmt.Errorf("listing scheduled appointments: %w", err)
	}
	return appts, nil
}

func (r *AppointmentRepo) List(ctx context.Context, q *appointment.ListQuery) (*appointment.PagedAppointments, error) {
	db := conn(ctx, r.db).Model(&appointment.Appointment{})

	if q.PatientID != nil {
		db = db.Where("patient_id = ?", *q.PatientID)
	}
	if q.DoctorID != nil {
		db = db.Where("doctor_id = ?", *q.DoctorID)
	}
	if q.Status != nil {
		db = db.Where("status = ?", *q.Status)
	}
	if q.DateFrom != nil {
		db = db.Where("start_time >= ?", *q.DateFrom)
	}
	if q.DateTo != nil {
		db = db.Where("start_time < ?", *q.DateTo)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting appointments: %w", err)
	}

	var appts []*appointment.Appointment
	err := db.Order("start_time ASC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&appts).Error
	if err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}

	return &appointment.PagedAppointments{
		Appointments: appts,
		TotalCount:   total,
		Page:         q.Page,
		PageSize:     q.PageSize,
		TotalPages:   int(math.Ceil(float64(total) / float64(q.PageSize))),
	}, nil
}
