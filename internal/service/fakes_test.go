package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/appointment"
	"github.com/medibook/medibook/internal/domain/availability"
	"github.com/medibook/medibook/internal/domain/ledger"
	"github.com/medibook/medibook/internal/domain/schedule"
	"github.com/medibook/medibook/internal/video"
	"github.com/medibook/medibook/pkg/metrics"
)

// The collector registers on the process-wide default registry, so the test
// binary gets exactly one.
var testCollector = metrics.NewCollector("test")

// memStore is an in-memory stand-in for the postgres repositories. A single
// transaction mutex serializes InTx sections the way the doctor-row lock does
// in production, and a state snapshot taken at transaction start gives
// all-or-nothing rollback.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users          map[uuid.UUID]*domain.User
	appointments   []*appointment.Appointment
	entries        []*ledger.Transaction
	availabilities map[uuid.UUID]*availability.Availability
}

func newMemStore() *memStore {
	return &memStore{
		users:          make(map[uuid.UUID]*domain.User),
		availabilities: make(map[uuid.UUID]*availability.Availability),
	}
}

type storeSnapshot struct {
	users          map[uuid.UUID]*domain.User
	appointments   []*appointment.Appointment
	entries        []*ledger.Transaction
	availabilities map[uuid.UUID]*availability.Availability
}

func (s *memStore) snapshot() storeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := storeSnapshot{
		users:          make(map[uuid.UUID]*domain.User, len(s.users)),
		appointments:   make([]*appointment.Appointment, len(s.appointments)),
		entries:        make([]*ledger.Transaction, len(s.entries)),
		availabilities: make(map[uuid.UUID]*availability.Availability, len(s.availabilities)),
	}
	for id, u := range s.users {
		cp := *u
		snap.users[id] = &cp
	}
	for i, a := range s.appointments {
		cp := *a
		snap.appointments[i] = &cp
	}
	for i, e := range s.entries {
		cp := *e
		snap.entries[i] = &cp
	}
	for id, a := range s.availabilities {
		cp := *a
		snap.availabilities[id] = &cp
	}
	return snap
}

func (s *memStore) restore(snap storeSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.appointments = snap.appointments
	s.entries = snap.entries
	s.availabilities = snap.availabilities
}

// InTx implements TxRunner.
func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// ── UserRepository ──────────────────────────────────────────────────────────

func (s *memStore) addUser(u *domain.User) *domain.User {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return u
}

func (s *memStore) Create(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return domain.ErrEmailTaken
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *memStore) UpdateLoginAttempt(ctx context.Context, id uuid.UUID, success bool) error {
	return nil
}

func (s *memStore) UpdateProfile(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return domain.ErrUserNotFound
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memStore) UpdateVerificationStatus(ctx context.Context, id uuid.UUID, status domain.VerificationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.VerificationStatus = status
	return nil
}

func (s *memStore) ListVerifiedDoctors(ctx context.Context, specialty string, page, pageSize int) ([]*domain.User, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.User
	for _, u := range s.users {
		if u.IsBookableDoctor() && (specialty == "" || u.Specialty == specialty) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (s *memStore) LockForBooking(ctx context.Context, doctorID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[doctorID]; !ok {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *memStore) DebitCredits(ctx context.Context, userID uuid.UUID, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if u.Credits < amount {
		return ledger.ErrInsufficientCredits
	}
	u.Credits -= amount
	return nil
}

func (s *memStore) CreditCredits(ctx context.Context, userID uuid.UUID, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Credits += amount
	return nil
}

// ── appointment.Repository ──────────────────────────────────────────────────

type apptStore struct{ *memStore }

func (s apptStore) Create(ctx context.Context, a *appointment.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	cp := *a
	s.appointments = append(s.appointments, &cp)
	return nil
}

func (s apptStore) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.appointments {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (s apptStore) List(ctx context.Context, q *appointment.ListQuery) (*appointment.PagedAppointments, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*appointment.Appointment
	for _, a := range s.appointments {
		if q.PatientID != nil && a.PatientID != *q.PatientID {
			continue
		}
		if q.DoctorID != nil && a.DoctorID != *q.DoctorID {
			continue
		}
		if q.Status != nil && a.Status != *q.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return &appointment.PagedAppointments{
		Appointments: out,
		TotalCount:   int64(len(out)),
		Page:         q.Page,
		PageSize:     q.PageSize,
		TotalPages:   1,
	}, nil
}

func (s apptStore) UpdateStatus(ctx context.Context, a *appointment.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.appointments {
		if existing.ID == a.ID {
			*existing = *a
			return nil
		}
	}
	return appointment.ErrAppointmentNotFound
}

func (s apptStore) UpdateSessionToken(ctx context.Context, id uuid.UUID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.appointments {
		if existing.ID == id {
			existing.VideoSessionToken = token
			return nil
		}
	}
	return appointment.ErrAppointmentNotFound
}

func (s apptStore) HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.appointments {
		if a.DoctorID == doctorID && a.Status == appointment.StatusScheduled &&
			schedule.Overlaps(a.StartTime, a.EndTime, start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (s apptStore) ListScheduledInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*appointment.Appointment
	for _, a := range s.appointments {
		if a.DoctorID == doctorID && a.Status == appointment.StatusScheduled &&
			schedule.Overlaps(a.StartTime, a.EndTime, from, to) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ── ledger.Repository ───────────────────────────────────────────────────────

type ledgerStore struct{ *memStore }

func (s ledgerStore) Append(ctx context.Context, t *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now()
	cp := *t
	s.entries = append(s.entries, &cp)
	return nil
}

func (s ledgerStore) ListByUser(ctx context.Context, q *ledger.ListQuery) (*ledger.PagedTransactions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Transaction
	for _, e := range s.entries {
		if e.UserID == q.UserID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return &ledger.PagedTransactions{
		Transactions: out,
		TotalCount:   int64(len(out)),
		Page:         q.Page,
		PageSize:     q.PageSize,
		TotalPages:   1,
	}, nil
}

func (s ledgerStore) SumByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	for _, e := range s.entries {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (s *memStore) entriesFor(userID uuid.UUID) []*ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Transaction
	for _, e := range s.entries {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// ── availability.Repository ─────────────────────────────────────────────────

type availStore struct{ *memStore }

func (s availStore) GetActiveByDoctor(ctx context.Context, doctorID uuid.UUID) (*availability.Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.availabilities[doctorID]
	if !ok || a.Status == availability.StatusDisabled {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s availStore) GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*availability.Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.availabilities[doctorID]
	if !ok {
		return nil, availability.ErrNotConfigured
	}
	cp := *a
	return &cp, nil
}

func (s availStore) Upsert(ctx context.Context, a *availability.Availability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	s.availabilities[a.DoctorID] = &cp
	return nil
}

// ── AuditRepository ─────────────────────────────────────────────────────────

type nopAuditRepo struct{}

func (nopAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error { return nil }

// ── video.Provider ──────────────────────────────────────────────────────────

type fakeVideo struct {
	sessions atomic.Int64
	tokens   atomic.Int64
	fail     atomic.Bool
}

func (f *fakeVideo) CreateSession(ctx context.Context) (string, error) {
	if f.fail.Load() {
		return "", fmt.Errorf("%w: connection refused", video.ErrProviderUnavailable)
	}
	return fmt.Sprintf("sess-%d", f.sessions.Add(1)), nil
}

func (f *fakeVideo) IssueToken(ctx context.Context, req video.TokenRequest) (string, error) {
	if f.fail.Load() {
		return "", fmt.Errorf("%w: connection refused", video.ErrProviderUnavailable)
	}
	return fmt.Sprintf("tok-%d-%s", f.tokens.Add(1), req.SessionID), nil
}
