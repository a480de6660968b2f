package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/medibook/internal/domain"
)

type UserService struct {
	repo     UserRepository
	auditSvc *AuditService
	log      *zap.Logger
}

func NewUserService(repo UserRepository, auditSvc *AuditService, log *zap.Logger) *UserService {
	return &UserService{repo: repo, auditSvc: auditSvc, log: log}
}

type DoctorProfile struct {
	Specialty       string
	ExperienceYears int
	CredentialURL   string
	Description     string
}

// SetRole completes onboarding. Patients are activated directly; doctors must
// supply a profile and enter the verification queue as pending.
func (s *UserService) SetRole(ctx context.Context, userID uuid.UUID, role domain.Role, profile *DoctorProfile, ip string) (*domain.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch role {
	case domain.RolePatient:
		user.Role = domain.RolePatient

	case domain.RoleDoctor:
		if err := validateDoctorProfile(profile); err != nil {
			return nil, err
		}
		user.Role = domain.RoleDoctor
		user.Specialty = strings.TrimSpace(profile.Specialty)
		user.ExperienceYears = profile.ExperienceYears
		user.CredentialURL = strings.TrimSpace(profile.CredentialURL)
		user.Description = strings.TrimSpace(profile.Description)
		user.VerificationStatus = domain.VerificationPending

	default:
		return nil, domain.ErrInvalidRole
	}

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: userID, UserRole: string(user.Role),
		Action: "update", ResourceType: "user", ResourceID: userID.String(), IPAddress: ip,
		Changes: fmt.Sprintf(`{"role":%q}`, user.Role),
	})

	return user, nil
}

func (s *UserService) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.repo.GetByID(ctx, userID)
}

// GetDoctor returns a doctor visible to patients: verified only.
func (s *UserService) GetDoctor(ctx context.Context, doctorID uuid.UUID) (*domain.User, error) {
	u, err := s.repo.GetByID(ctx, doctorID)
	if err != nil {
		return nil, domain.ErrDoctorNotFound
	}
	if !u.IsBookableDoctor() {
		return nil, domain.ErrDoctorNotFound
	}
	return u, nil
}

func (s *UserService) ListDoctors(ctx context.Context, specialty string, page, pageSize int) ([]*domain.User, int64, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}
	return s.repo.ListVerifiedDoctors(ctx, specialty, page, pageSize)
}

// SetVerificationStatus is an admin action resolving a doctor's pending
// verification.
func (s *UserService) SetVerificationStatus(ctx context.Context, doctorID uuid.UUID, status domain.VerificationStatus, callerID uuid.UUID, ip string) error {
	if status != domain.VerificationVerified && status != domain.VerificationRejected {
		return &ValidationError{Fields: []string{"status must be verified or rejected"}}
	}

	if err := s.repo.UpdateVerificationStatus(ctx, doctorID, status); err != nil {
		return err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: callerID, UserRole: string(domain.RoleAdmin),
		Action: "update", ResourceType: "doctor_verification", ResourceID: doctorID.String(), IPAddress: ip,
		Changes: fmt.Sprintf(`{"verification_status":%q}`, status),
	})

	s.log.Info("doctor verification updated",
		zap.String("doctor_id", doctorID.String()),
		zap.String("status", string(status)),
	)

	return nil
}

func validateDoctorProfile(p *DoctorProfile) error {
	var fields []string
	if p == nil {
		return &ValidationError{Fields: []string{"doctor profile is required"}}
	}
	if strings.TrimSpace(p.Specialty) == "" {
		fields = append(fields, "specialty is required")
	}
	if p.ExperienceYears < 0 {
		fields = append(fields, "experience must be a non-negative number of years")
	}
	if strings.TrimSpace(p.CredentialURL) == "" {
		fields = append(fields, "credential URL is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		fields = append(fields, "description is required")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
