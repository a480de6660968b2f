package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/availability"
)

type AvailabilityService struct {
	repo     availability.Repository
	userRepo UserRepository
	auditSvc *AuditService
	log      *zap.Logger
}

func NewAvailabilityService(repo availability.Repository, userRepo UserRepository, auditSvc *AuditService, log *zap.Logger) *AvailabilityService {
	return &AvailabilityService{repo: repo, userRepo: userRepo, auditSvc: auditSvc, log: log}
}

// SetAvailability saves the caller's single recurring daily window. An
// inverted window is accepted and stored; it simply produces no bookable
// slots until corrected.
func (s *AvailabilityService) SetAvailability(ctx context.Context, cmd *availability.SetAvailabilityCommand, ip string) (*availability.Availability, error) {
	doctor, err := s.userRepo.GetByID(ctx, cmd.DoctorID)
	if err != nil {
		return nil, err
	}
	if doctor.Role != domain.RoleDoctor {
		return nil, ErrForbidden
	}

	a := &availability.Availability{
		DoctorID:    cmd.DoctorID,
		StartMinute: cmd.StartMinute,
		EndMinute:   cmd.EndMinute,
		Status:      cmd.Status,
	}
	if !a.Window().Valid() {
		return nil, availability.ErrInvalidWindow
	}
	if a.Status == "" {
		a.Status = availability.StatusAvailable
	}

	if err := s.repo.Upsert(ctx, a); err != nil {
		return nil, fmt.Errorf("saving availability: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: cmd.DoctorID, UserRole: string(domain.RoleDoctor),
		Action: "update", ResourceType: "availability", ResourceID: cmd.DoctorID.String(), IPAddress: ip,
		Changes: fmt.Sprintf(`{"start_minute":%d,"end_minute":%d,"status":%q}`, cmd.StartMinute, cmd.EndMinute, a.Status),
	})

	return a, nil
}

func (s *AvailabilityService) GetMyAvailability(ctx context.Context, doctorID uuid.UUID) (*availability.Availability, error) {
	return s.repo.GetByDoctor(ctx, doctorID)
}
