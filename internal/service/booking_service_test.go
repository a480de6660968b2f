package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/appointment"
	"github.com/medibook/medibook/internal/domain/availability"
	"github.com/medibook/medibook/internal/domain/ledger"
	"github.com/medibook/medibook/internal/video"
)

type bookingFixture struct {
	svc     *BookingService
	store   *memStore
	video   *fakeVideo
	now     time.Time
	patient *domain.User
	doctor  *domain.User
}

// newBookingFixture wires a booking service over the in-memory store with a
// frozen clock: Tuesday 2026-03-10 08:00 UTC, one patient holding two credits
// and one verified doctor working 09:00-17:00.
func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()

	store := newMemStore()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	patient := store.addUser(&domain.User{
		Email:    "pat@example.com",
		Name:     "Pat Doe",
		Role:     domain.RolePatient,
		Credits:  2,
		IsActive: true,
	})
	doctor := store.addUser(&domain.User{
		Email:              "doc@example.com",
		Name:               "Dr. Reyes",
		Role:               domain.RoleDoctor,
		Specialty:          "Cardiology",
		VerificationStatus: domain.VerificationVerified,
		IsActive:           true,
	})
	if err := (availStore{store}).Upsert(context.Background(), &availability.Availability{
		DoctorID:    doctor.ID,
		StartMinute: 9 * 60,
		EndMinute:   17 * 60,
		Status:      availability.StatusAvailable,
	}); err != nil {
		t.Fatalf("seeding availability: %v", err)
	}

	fv := &fakeVideo{}
	log := zap.NewNop()
	auditSvc := NewAuditService(nopAuditRepo{}, testCollector, log)
	t.Cleanup(auditSvc.Shutdown)

	cfg := config.BookingConfig{
		CostCredits:      2,
		HorizonDays:      4,
		JoinLeadTime:     30 * time.Minute,
		TokenTTLAfterEnd: 60 * time.Minute,
	}
	svc := NewBookingService(apptStore{store}, store, availStore{store}, ledgerStore{store}, fv, store, auditSvc, testCollector, cfg, log)
	svc.now = func() time.Time { return now }

	return &bookingFixture{svc: svc, store: store, video: fv, now: now, patient: patient, doctor: doctor}
}

func (f *bookingFixture) reserveCmd(hour, min int) *appointment.ReserveCommand {
	start := time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
	return &appointment.ReserveCommand{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	}
}

func TestReserve(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Reserve(ctx, f.reserveCmd(10, 0), "10.0.0.1")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	if appt.ID == uuid.Nil {
		t.Error("appointment has no ID")
	}
	if appt.Status != appointment.StatusScheduled {
		t.Errorf("status = %q, want scheduled", appt.Status)
	}
	if appt.VideoSessionID == "" {
		t.Error("video session was not provisioned")
	}

	u, _ := f.store.GetByID(ctx, f.patient.ID)
	if u.Credits != 0 {
		t.Errorf("patient credits = %d, want 0", u.Credits)
	}

	entries := f.store.entriesFor(f.patient.ID)
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	if entries[0].Type != ledger.TypeAppointmentDeduction || entries[0].Amount != -2 {
		t.Errorf("ledger entry = %s %d, want appointment_deduction -2", entries[0].Type, entries[0].Amount)
	}
}

func TestReserveInsufficientCredits(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	f.patient.Credits = 1
	if err := f.store.UpdateProfile(ctx, f.patient); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Reserve(ctx, f.reserveCmd(10, 0), "10.0.0.1")
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("Reserve() error = %v, want ErrInsufficientCredits", err)
	}

	u, _ := f.store.GetByID(ctx, f.patient.ID)
	if u.Credits != 1 {
		t.Errorf("credits changed on failed reserve: %d", u.Credits)
	}
	if len(f.store.entriesFor(f.patient.ID)) != 0 {
		t.Error("ledger written on failed reserve")
	}
	if f.video.sessions.Load() != 0 {
		t.Error("video session provisioned despite failing the balance check")
	}
}

func TestReserveSlotTaken(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	other := f.store.addUser(&domain.User{
		Email: "other@example.com", Name: "Other", Role: domain.RolePatient, Credits: 2, IsActive: true,
	})
	first := f.reserveCmd(10, 0)
	first.PatientID = other.ID
	if _, err := f.svc.Reserve(ctx, first, "10.0.0.2"); err != nil {
		t.Fatalf("seed reservation failed: %v", err)
	}

	_, err := f.svc.Reserve(ctx, f.reserveCmd(10, 0), "10.0.0.1")
	if !errors.Is(err, appointment.ErrSlotTaken) {
		t.Fatalf("Reserve() error = %v, want ErrSlotTaken", err)
	}

	// An overlapping but not identical interval is also rejected.
	_, err = f.svc.Reserve(ctx, f.reserveCmd(9, 30), "10.0.0.1")
	if err == nil {
		t.Fatal("expected overlap rejection for adjacent-start interval")
	}
}

func TestReserveConcurrentSameSlot(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	second := f.store.addUser(&domain.User{
		Email: "rival@example.com", Name: "Rival", Role: domain.RolePatient, Credits: 2, IsActive: true,
	})

	cmds := []*appointment.ReserveCommand{f.reserveCmd(11, 0), f.reserveCmd(11, 0)}
	cmds[1].PatientID = second.ID

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Reserve(ctx, cmds[i], "10.0.0.1")
		}(i)
	}
	wg.Wait()

	var booked, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			booked++
		case errors.Is(err, appointment.ErrSlotTaken):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if booked != 1 || conflicted != 1 {
		t.Fatalf("booked=%d conflicted=%d, want exactly one of each", booked, conflicted)
	}

	// Exactly one appointment exists and exactly one patient paid.
	page, _ := (apptStore{f.store}).List(ctx, &appointment.ListQuery{DoctorID: &f.doctor.ID})
	if len(page.Appointments) != 1 {
		t.Fatalf("appointments = %d, want 1", len(page.Appointments))
	}
	p1, _ := f.store.GetByID(ctx, f.patient.ID)
	p2, _ := f.store.GetByID(ctx, second.ID)
	if p1.Credits+p2.Credits != 2 {
		t.Errorf("combined credits = %d, want 2 (one debit of 2)", p1.Credits+p2.Credits)
	}
}

func TestReserveIntervalValidation(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	t.Run("wrong duration", func(t *testing.T) {
		cmd := f.reserveCmd(10, 0)
		cmd.EndTime = cmd.StartTime.Add(time.Hour)
		if _, err := f.svc.Reserve(ctx, cmd, ""); !errors.Is(err, appointment.ErrInvalidInterval) {
			t.Errorf("error = %v, want ErrInvalidInterval", err)
		}
	})

	t.Run("in the past", func(t *testing.T) {
		cmd := f.reserveCmd(7, 0)
		if _, err := f.svc.Reserve(ctx, cmd, ""); !errors.Is(err, appointment.ErrScheduledInPast) {
			t.Errorf("error = %v, want ErrScheduledInPast", err)
		}
	})

	t.Run("before window opens", func(t *testing.T) {
		cmd := f.reserveCmd(8, 30)
		if _, err := f.svc.Reserve(ctx, cmd, ""); !errors.Is(err, appointment.ErrOutsideAvailability) {
			t.Errorf("error = %v, want ErrOutsideAvailability", err)
		}
	})

	t.Run("misaligned start", func(t *testing.T) {
		cmd := f.reserveCmd(10, 15)
		if _, err := f.svc.Reserve(ctx, cmd, ""); !errors.Is(err, appointment.ErrOutsideAvailability) {
			t.Errorf("error = %v, want ErrOutsideAvailability", err)
		}
	})

	t.Run("spills past window end", func(t *testing.T) {
		cmd := f.reserveCmd(16, 45)
		cmd.EndTime = cmd.StartTime.Add(30 * time.Minute)
		if _, err := f.svc.Reserve(ctx, cmd, ""); !errors.Is(err, appointment.ErrOutsideAvailability) {
			t.Errorf("error = %v, want ErrOutsideAvailability", err)
		}
	})
}

func TestReserveUnverifiedDoctor(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	f.doctor.VerificationStatus = domain.VerificationPending
	if err := f.store.UpdateProfile(ctx, f.doctor); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Reserve(ctx, f.reserveCmd(10, 0), "")
	if !errors.Is(err, domain.ErrDoctorNotVerified) {
		t.Fatalf("Reserve() error = %v, want ErrDoctorNotVerified", err)
	}
}

func TestReserveVideoProviderDown(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	f.video.fail.Store(true)

	_, err := f.svc.Reserve(ctx, f.reserveCmd(10, 0), "")
	if !errors.Is(err, video.ErrProviderUnavailable) {
		t.Fatalf("Reserve() error = %v, want ErrProviderUnavailable", err)
	}

	u, _ := f.store.GetByID(ctx, f.patient.ID)
	if u.Credits != 2 {
		t.Errorf("credits debited despite provider failure: %d", u.Credits)
	}
	if len(f.store.entriesFor(f.patient.ID)) != 0 {
		t.Error("ledger written despite provider failure")
	}
}

func TestIssueSessionToken(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Reserve(ctx, f.reserveCmd(10, 0), "")
	if err != nil {
		t.Fatalf("seed reservation failed: %v", err)
	}

	t.Run("too early", func(t *testing.T) {
		// 10:00 start, 30 minute lead: the window opens at 09:30. At 09:29
		// the request is still early.
		f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 9, 29, 0, 0, time.UTC) }
		_, err := f.svc.IssueSessionToken(ctx, appt.ID, f.patient.ID, "")
		if !errors.Is(err, ErrCallWindowNotOpen) {
			t.Errorf("error = %v, want ErrCallWindowNotOpen", err)
		}
	})

	t.Run("inside the lead window", func(t *testing.T) {
		f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 9, 31, 0, 0, time.UTC) }
		tok, err := f.svc.IssueSessionToken(ctx, appt.ID, f.patient.ID, "")
		if err != nil {
			t.Fatalf("IssueSessionToken() error = %v", err)
		}
		if tok.SessionID != appt.VideoSessionID {
			t.Errorf("session ID = %q, want %q", tok.SessionID, appt.VideoSessionID)
		}
		if tok.Token == "" {
			t.Error("empty token")
		}
		wantExpiry := appt.EndTime.Add(60 * time.Minute)
		if !tok.ExpiresAt.Equal(wantExpiry) {
			t.Errorf("expiry = %v, want %v", tok.ExpiresAt, wantExpiry)
		}

		// The token is recorded on the appointment.
		stored, _ := (apptStore{f.store}).GetByID(ctx, appt.ID)
		if stored.VideoSessionToken != tok.Token {
			t.Error("token not persisted on the appointment")
		}
	})

	t.Run("doctor may also join", func(t *testing.T) {
		f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC) }
		if _, err := f.svc.IssueSessionToken(ctx, appt.ID, f.doctor.ID, ""); err != nil {
			t.Errorf("doctor token request failed: %v", err)
		}
	})

	t.Run("stranger is refused", func(t *testing.T) {
		f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC) }
		_, err := f.svc.IssueSessionToken(ctx, appt.ID, uuid.New(), "")
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("error = %v, want ErrForbidden", err)
		}
	})

	t.Run("late join allowed when no cutoff", func(t *testing.T) {
		f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
		if _, err := f.svc.IssueSessionToken(ctx, appt.ID, f.patient.ID, ""); err != nil {
			t.Errorf("late join rejected with cutoff disabled: %v", err)
		}
	})

	t.Run("cutoff enforced when configured", func(t *testing.T) {
		f.svc.cfg.JoinCutoffAfterEnd = 15 * time.Minute
		defer func() { f.svc.cfg.JoinCutoffAfterEnd = 0 }()

		f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
		_, err := f.svc.IssueSessionToken(ctx, appt.ID, f.patient.ID, "")
		if !errors.Is(err, ErrCallWindowClosed) {
			t.Errorf("error = %v, want ErrCallWindowClosed", err)
		}
	})

	t.Run("cancelled appointment", func(t *testing.T) {
		f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 9, 45, 0, 0, time.UTC) }
		if _, err := f.svc.CancelAppointment(ctx, appt.ID, f.patient.ID, ""); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		_, err := f.svc.IssueSessionToken(ctx, appt.ID, f.patient.ID, "")
		if !errors.Is(err, appointment.ErrNotScheduled) {
			t.Errorf("error = %v, want ErrNotScheduled", err)
		}
	})
}

func TestCancelAndComplete(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	t.Run("cancel keeps the debit", func(t *testing.T) {
		appt, err := f.svc.Reserve(ctx, f.reserveCmd(10, 0), "")
		if err != nil {
			t.Fatal(err)
		}

		cancelled, err := f.svc.CancelAppointment(ctx, appt.ID, f.patient.ID, "")
		if err != nil {
			t.Fatalf("CancelAppointment() error = %v", err)
		}
		if cancelled.Status != appointment.StatusCancelled {
			t.Errorf("status = %q, want cancelled", cancelled.Status)
		}
		if cancelled.CancelledBy == nil || *cancelled.CancelledBy != f.patient.ID {
			t.Error("cancelled_by not recorded")
		}

		// No refund on cancellation.
		u, _ := f.store.GetByID(ctx, f.patient.ID)
		if u.Credits != 0 {
			t.Errorf("credits = %d after cancel, want 0", u.Credits)
		}

		// The slot frees up for someone else.
		other := f.store.addUser(&domain.User{
			Email: "again@example.com", Name: "Again", Role: domain.RolePatient, Credits: 2, IsActive: true,
		})
		cmd := f.reserveCmd(10, 0)
		cmd.PatientID = other.ID
		if _, err := f.svc.Reserve(ctx, cmd, ""); err != nil {
			t.Errorf("rebooking a cancelled slot failed: %v", err)
		}
	})

	t.Run("only the doctor completes", func(t *testing.T) {
		other := f.store.addUser(&domain.User{
			Email: "p3@example.com", Name: "P3", Role: domain.RolePatient, Credits: 2, IsActive: true,
		})
		cmd := f.reserveCmd(14, 0)
		cmd.PatientID = other.ID
		appt, err := f.svc.Reserve(ctx, cmd, "")
		if err != nil {
			t.Fatal(err)
		}

		if _, err := f.svc.CompleteAppointment(ctx, appt.ID, other.ID, ""); !errors.Is(err, ErrForbidden) {
			t.Errorf("patient completing: error = %v, want ErrForbidden", err)
		}

		done, err := f.svc.CompleteAppointment(ctx, appt.ID, f.doctor.ID, "")
		if err != nil {
			t.Fatalf("CompleteAppointment() error = %v", err)
		}
		if done.Status != appointment.StatusCompleted {
			t.Errorf("status = %q, want completed", done.Status)
		}

		// Completed is terminal.
		if _, err := f.svc.CancelAppointment(ctx, appt.ID, other.ID, ""); !errors.Is(err, appointment.ErrNotScheduled) {
			t.Errorf("cancelling a completed appointment: error = %v, want ErrNotScheduled", err)
		}
	})
}
