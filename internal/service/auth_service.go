package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/ledger"
	"github.com/medibook/medibook/pkg/auth"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked due to multiple failed login attempts")
	ErrAccountInactive    = errors.New("account is inactive")
)

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateLoginAttempt(ctx context.Context, id uuid.UUID, success bool) error
	UpdateProfile(ctx context.Context, u *domain.User) error
	UpdateVerificationStatus(ctx context.Context, id uuid.UUID, status domain.VerificationStatus) error
	ListVerifiedDoctors(ctx context.Context, specialty string, page, pageSize int) ([]*domain.User, int64, error)

	// LockForBooking and DebitCredits are only meaningful inside a TxRunner
	// transaction; see BookingService.Reserve.
	LockForBooking(ctx context.Context, doctorID uuid.UUID) error
	DebitCredits(ctx context.Context, userID uuid.UUID, amount int) error
	CreditCredits(ctx context.Context, userID uuid.UUID, amount int) error
}

type AuthService struct {
	userRepo   UserRepository
	ledgerRepo ledger.Repository
	tx         TxRunner
	jwtManager *auth.JWTManager
	credits    config.CreditsConfig
	auditSvc   *AuditService
	log        *zap.Logger
}

func NewAuthService(
	userRepo UserRepository,
	ledgerRepo ledger.Repository,
	tx TxRunner,
	jwtManager *auth.JWTManager,
	credits config.CreditsConfig,
	auditSvc *AuditService,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		ledgerRepo: ledgerRepo,
		tx:         tx,
		jwtManager: jwtManager,
		credits:    credits,
		auditSvc:   auditSvc,
		log:        log,
	}
}

// Register provisions a new account. The signup credit grant is written as the
// account's opening ledger entry in the same transaction as the user row, so
// the ledger stays the source of truth from the first instant.
func (s *AuthService) Register(ctx context.Context, email, password, name, ip string) (*domain.User, error) {
	if err := validateRegistration(email, password, name); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &domain.User{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(name),
		Role:         domain.RoleUnassigned,
		Credits:      s.credits.SignupGrant,
		IsActive:     true,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.userRepo.Create(ctx, user); err != nil {
			return err
		}
		return s.ledgerRepo.Append(ctx, &ledger.Transaction{
			UserID:    user.ID,
			Type:      ledger.TypeInitialCredits,
			Amount:    s.credits.SignupGrant,
			PackageID: "free_user_signup",
		})
	})
	if err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       user.ID,
		UserRole:     string(user.Role),
		Action:       "create",
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		IPAddress:    ip,
	})

	s.log.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.Int("signup_grant", s.credits.SignupGrant),
	)

	return user, nil
}

func (s *AuthService) Login(ctx context.Context, email, password, ip string) (*domain.TokenPair, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		// Use bcrypt dummy hash to prevent timing-based user enumeration.
		_, _ = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	if user.IsLocked() {
		return nil, ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		// Record failed attempt; lock if threshold exceeded
		_ = s.userRepo.UpdateLoginAttempt(ctx, user.ID, false)
		s.log.Warn("failed login attempt",
			zap.String("email", email),
			zap.String("ip", ip),
		)
		return nil, ErrInvalidCredentials
	}

	_ = s.userRepo.UpdateLoginAttempt(ctx, user.ID, true)

	pair, err := s.jwtManager.GenerateTokenPair(&domain.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		s.log.Error("failed to generate token pair", zap.Error(err))
		return nil, fmt.Errorf("generating tokens: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID: user.ID, UserRole: string(user.Role),
		Action: "login", ResourceType: "user", ResourceID: user.ID.String(), IPAddress: ip,
	})

	return pair, nil
}

// RefreshToken issues a new access token given a valid refresh token.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// Re-validate user is still active
	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil || !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	return s.jwtManager.GenerateTokenPair(&domain.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
}

func validateRegistration(email, password, name string) error {
	var fields []string
	if !strings.Contains(email, "@") {
		fields = append(fields, "email must be a valid address")
	}
	if len(password) < 12 {
		fields = append(fields, "password must be at least 12 characters")
	}
	if strings.TrimSpace(name) == "" {
		fields = append(fields, "name is required")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
