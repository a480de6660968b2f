package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/appointment"
	"github.com/medibook/medibook/internal/domain/availability"
	"github.com/medibook/medibook/internal/domain/ledger"
	"github.com/medibook/medibook/internal/domain/schedule"
	"github.com/medibook/medibook/internal/video"
	"github.com/medibook/medibook/pkg/metrics"
)

// BookingService is the reservation engine. Reserve is the only path that
// creates appointments; it never trusts a slot the client saw earlier and
// re-derives every precondition against live storage inside one transaction.
type BookingService struct {
	apptRepo   appointment.Repository
	userRepo   UserRepository
	availRepo  availability.Repository
	ledgerRepo ledger.Repository
	videoSvc   video.Provider
	tx         TxRunner
	auditSvc   *AuditService
	metrics    *metrics.Collector
	cfg        config.BookingConfig
	now        func() time.Time
	log        *zap.Logger
}

func NewBookingService(
	apptRepo appointment.Repository,
	userRepo UserRepository,
	availRepo availability.Repository,
	ledgerRepo ledger.Repository,
	videoSvc video.Provider,
	tx TxRunner,
	auditSvc *AuditService,
	collector *metrics.Collector,
	cfg config.BookingConfig,
	log *zap.Logger,
) *BookingService {
	return &BookingService{
		apptRepo:   apptRepo,
		userRepo:   userRepo,
		availRepo:  availRepo,
		ledgerRepo: ledgerRepo,
		videoSvc:   videoSvc,
		tx:         tx,
		auditSvc:   auditSvc,
		metrics:    collector,
		cfg:        cfg,
		now:        time.Now,
		log:        log,
	}
}

// Reserve books one slot for a patient. Precondition failures are detected
// before any mutation. The video session is provisioned before the
// transaction: if the transaction then fails, the unused session is leaked on
// the provider side, which is acceptable; a debit without an appointment is
// not, so debit and insert commit or roll back together.
func (s *BookingService) Reserve(ctx context.Context, cmd *appointment.ReserveCommand, ip string) (*appointment.Appointment, error) {
	// ── Preconditions, each a distinct failure ─────────────────────────────
	patient, err := s.userRepo.GetByID(ctx, cmd.PatientID)
	if err != nil || patient.Role != domain.RolePatient {
		s.metrics.BookingsTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrPatientNotFound
	}

	doctor, err := s.userRepo.GetByID(ctx, cmd.DoctorID)
	if err != nil || doctor.Role != domain.RoleDoctor {
		s.metrics.BookingsTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrDoctorNotFound
	}
	if !doctor.IsBookableDoctor() {
		s.metrics.BookingsTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrDoctorNotVerified
	}

	if err := s.validateInterval(ctx, cmd); err != nil {
		s.metrics.BookingsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// Fail fast on balance and overlap before touching the provider. Both
	// are re-checked authoritatively inside the transaction below.
	if patient.Credits < s.cfg.CostCredits {
		s.metrics.BookingsTotal.WithLabelValues("rejected").Inc()
		return nil, ledger.ErrInsufficientCredits
	}
	conflict, err := s.apptRepo.HasConflict(ctx, cmd.DoctorID, cmd.StartTime, cmd.EndTime)
	if err != nil {
		return nil, err
	}
	if conflict {
		s.metrics.BookingsTotal.WithLabelValues("conflict").Inc()
		return nil, appointment.ErrSlotTaken
	}

	// ── Session provisioning, ordered before the atomic section ────────────
	sessionID, err := s.videoSvc.CreateSession(ctx)
	if err != nil {
		s.metrics.VideoSessionsTotal.WithLabelValues("error").Inc()
		s.metrics.BookingsTotal.WithLabelValues("upstream_error").Inc()
		return nil, err
	}
	s.metrics.VideoSessionsTotal.WithLabelValues("ok").Inc()

	appt := &appointment.Appointment{
		PatientID:      cmd.PatientID,
		DoctorID:       cmd.DoctorID,
		StartTime:      cmd.StartTime,
		EndTime:        cmd.EndTime,
		Status:         appointment.StatusScheduled,
		Description:    cmd.Description,
		VideoSessionID: sessionID,
	}

	// ── Atomic section ─────────────────────────────────────────────────────
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		// Serialize competing reservations for this doctor. The overlap
		// re-check below runs under this lock, so of two concurrent attempts
		// for overlapping times one blocks and then sees the other's row.
		if err := s.userRepo.LockForBooking(ctx, cmd.DoctorID); err != nil {
			return err
		}

		conflict, err := s.apptRepo.HasConflict(ctx, cmd.DoctorID, cmd.StartTime, cmd.EndTime)
		if err != nil {
			return err
		}
		if conflict {
			return appointment.ErrSlotTaken
		}

		if err := s.userRepo.DebitCredits(ctx, cmd.PatientID, s.cfg.CostCredits); err != nil {
			return err
		}
		if err := s.ledgerRepo.Append(ctx, &ledger.Transaction{
			UserID: cmd.PatientID,
			Type:   ledger.TypeAppointmentDeduction,
			Amount: -s.cfg.CostCredits,
		}); err != nil {
			return err
		}

		return s.apptRepo.Create(ctx, appt)
	})
	if err != nil {
		switch {
		case isBusinessConflict(err):
			s.metrics.BookingsTotal.WithLabelValues("conflict").Inc()
		default:
			s.metrics.BookingsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	s.metrics.BookingsTotal.WithLabelValues("booked").Inc()
	s.metrics.CreditDebitsTotal.Inc()

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: cmd.PatientID, UserRole: string(domain.RolePatient),
		Action: "create", ResourceType: "appointment", ResourceID: appt.ID.String(), IPAddress: ip,
	})

	s.log.Info("appointment reserved",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor_id", cmd.DoctorID.String()),
		zap.Time("start_time", cmd.StartTime),
	)

	return appt, nil
}

// validateInterval enforces the fixed slot shape and that the requested
// interval lies inside the doctor's active window.
func (s *BookingService) validateInterval(ctx context.Context, cmd *appointment.ReserveCommand) error {
	if !cmd.StartTime.Before(cmd.EndTime) || cmd.EndTime.Sub(cmd.StartTime) != schedule.SlotDuration {
		return appointment.ErrInvalidInterval
	}
	if cmd.StartTime.Before(s.now()) {
		return appointment.ErrScheduledInPast
	}

	avail, err := s.availRepo.GetActiveByDoctor(ctx, cmd.DoctorID)
	if err != nil {
		return err
	}
	if avail == nil || !avail.Window().Contains(cmd.StartTime, cmd.EndTime) {
		return appointment.ErrOutsideAvailability
	}
	return nil
}

// SessionToken is the join credential for an appointment's video call.
type SessionToken struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueSessionToken mints a time-bounded join token for a participant. The
// call opens JoinLeadTime before the start; the upper bound is policy:
// JoinCutoffAfterEnd of zero allows late joins indefinitely.
func (s *BookingService) IssueSessionToken(ctx context.Context, appointmentID, callerID uuid.UUID, ip string) (*SessionToken, error) {
	appt, err := s.apptRepo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if !appt.IsParticipant(callerID) {
		return nil, ErrForbidden
	}

	if appt.Status != appointment.StatusScheduled {
		return nil, appointment.ErrNotScheduled
	}

	now := s.now()
	if now.Before(appt.StartTime.Add(-s.cfg.JoinLeadTime)) {
		return nil, ErrCallWindowNotOpen
	}
	if s.cfg.JoinCutoffAfterEnd > 0 && now.After(appt.EndTime.Add(s.cfg.JoinCutoffAfterEnd)) {
		return nil, ErrCallWindowClosed
	}

	caller, err := s.userRepo.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}

	metadata, _ := json.Marshal(map[string]string{
		"name":    caller.Name,
		"role":    string(caller.Role),
		"user_id": caller.ID.String(),
	})

	expiresAt := appt.EndTime.Add(s.cfg.TokenTTLAfterEnd)
	token, err := s.videoSvc.IssueToken(ctx, video.TokenRequest{
		SessionID: appt.VideoSessionID,
		Role:      "publisher",
		ExpiresAt: expiresAt,
		Metadata:  string(metadata),
	})
	if err != nil {
		return nil, err
	}

	if err := s.apptRepo.UpdateSessionToken(ctx, appt.ID, token); err != nil {
		return nil, fmt.Errorf("recording session token: %w", err)
	}

	s.metrics.VideoTokensIssued.Inc()

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: string(caller.Role),
		Action: "read", ResourceType: "video_token", ResourceID: appt.ID.String(), IPAddress: ip,
	})

	return &SessionToken{
		SessionID: appt.VideoSessionID,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *BookingService) GetAppointment(ctx context.Context, id, callerID uuid.UUID) (*appointment.Appointment, error) {
	appt, err := s.apptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.IsParticipant(callerID) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// CancelAppointment transitions a scheduled appointment to cancelled. Credits
// are not refunded.
func (s *BookingService) CancelAppointment(ctx context.Context, id, callerID uuid.UUID, ip string) (*appointment.Appointment, error) {
	appt, err := s.apptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.IsParticipant(callerID) {
		return nil, ErrForbidden
	}

	if err := appt.Cancel(callerID); err != nil {
		return nil, err
	}
	if err := s.apptRepo.UpdateStatus(ctx, appt); err != nil {
		return nil, fmt.Errorf("updating appointment status: %w", err)
	}

	s.metrics.BookingsTotal.WithLabelValues("cancelled").Inc()

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: roleOnAppointment(appt, callerID),
		Action: "update", ResourceType: "appointment", ResourceID: id.String(), IPAddress: ip,
		Changes: `{"status":"cancelled"}`,
	})

	return appt, nil
}

// CompleteAppointment is doctor-only.
func (s *BookingService) CompleteAppointment(ctx context.Context, id, callerID uuid.UUID, ip string) (*appointment.Appointment, error) {
	appt, err := s.apptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != callerID {
		return nil, ErrForbidden
	}

	if err := appt.Complete(); err != nil {
		return nil, err
	}
	if err := s.apptRepo.UpdateStatus(ctx, appt); err != nil {
		return nil, fmt.Errorf("updating appointment status: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: string(domain.RoleDoctor),
		Action: "update", ResourceType: "appointment", ResourceID: id.String(), IPAddress: ip,
		Changes: `{"status":"completed"}`,
	})

	return appt, nil
}

// ListAppointments returns the caller's own appointments, on whichever side
// of the consultation they sit.
func (s *BookingService) ListAppointments(ctx context.Context, callerID uuid.UUID, callerRole domain.Role, q *appointment.ListQuery) (*appointment.PagedAppointments, error) {
	switch callerRole {
	case domain.RolePatient:
		q.PatientID = &callerID
	case domain.RoleDoctor:
		q.DoctorID = &callerID
	default:
		return nil, ErrForbidden
	}
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return s.apptRepo.List(ctx, q)
}

func isBusinessConflict(err error) bool {
	return errors.Is(err, appointment.ErrSlotTaken) || errors.Is(err, ledger.ErrInsufficientCredits)
}

func roleOnAppointment(a *appointment.Appointment, callerID uuid.UUID) string {
	if a.DoctorID == callerID {
		return string(domain.RoleDoctor)
	}
	return string(domain.RolePatient)
}
