package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/appointment"
	"github.com/medibook/medibook/internal/domain/availability"
	"github.com/medibook/medibook/internal/domain/schedule"
	"github.com/medibook/medibook/pkg/metrics"
)

// SlotService derives the free, bookable slots for a doctor over the rolling
// horizon. The result is display data only: the reservation path re-derives
// everything against live storage, because a listed slot may be taken by the
// time the patient commits.
type SlotService struct {
	availRepo availability.Repository
	apptRepo  appointment.Repository
	userRepo  UserRepository
	metrics   *metrics.Collector
	horizon   int
	now       func() time.Time
	log       *zap.Logger
}

func NewSlotService(
	availRepo availability.Repository,
	apptRepo appointment.Repository,
	userRepo UserRepository,
	collector *metrics.Collector,
	horizonDays int,
	log *zap.Logger,
) *SlotService {
	return &SlotService{
		availRepo: availRepo,
		apptRepo:  apptRepo,
		userRepo:  userRepo,
		metrics:   collector,
		horizon:   horizonDays,
		now:       time.Now,
		log:       log,
	}
}

func (s *SlotService) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID) ([]schedule.Day, error) {
	doctor, err := s.userRepo.GetByID(ctx, doctorID)
	if err != nil || !doctor.IsBookableDoctor() {
		return nil, domain.ErrDoctorNotFound
	}

	now := s.now()

	avail, err := s.availRepo.GetActiveByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	var win *schedule.Window
	var busy []schedule.Interval
	if avail != nil {
		win = avail.Window()

		// Snapshot the doctor's scheduled appointments across the horizon.
		lastDay := now.AddDate(0, 0, s.horizon-1)
		y, m, d := lastDay.Date()
		horizonEnd := time.Date(y, m, d, 23, 59, 59, 0, lastDay.Location())

		appts, err := s.apptRepo.ListScheduledInRange(ctx, doctorID, now, horizonEnd)
		if err != nil {
			return nil, err
		}
		busy = make([]schedule.Interval, 0, len(appts))
		for _, a := range appts {
			busy = append(busy, schedule.Interval{Start: a.StartTime, End: a.EndTime})
		}
	}

	days := schedule.BuildDays(win, now, s.horizon, busy)
	s.metrics.SlotQueriesTotal.Inc()
	return days, nil
}
