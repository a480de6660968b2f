package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/ledger"
)

const maxFailedAttempts = 5

const lockDuration = 15 * time.Minute

type UserRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if err := conn(ctx, r.db).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailTaken
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := conn(ctx, r.db).Where("id = ? AND deleted_at IS NULL", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := conn(ctx, r.db).Where("email = ? AND deleted_at IS NULL", strings.ToLower(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user by email: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) UpdateLoginAttempt(ctx context.Context, id uuid.UUID, success bool) error {
	db := conn(ctx, r.db).Model(&domain.User{}).Where("id = ?", id)
	if success {
		return db.Updates(map[string]any{
			"failed_login_count": 0,
			"locked_until":       nil,
			"last_login_at":      time.Now(),
		}).Error
	}
	return db.Updates(map[string]any{
		"failed_login_count": gorm.Expr("failed_login_count + 1"),
		"locked_until": gorm.Expr(
			"CASE WHEN failed_login_count + 1 >= ? THEN ? ELSE locked_until END",
			maxFailedAttempts, time.Now().Add(lockDuration),
		),
	}).Error
}

// UpdateProfile persists role selection and, for doctors, the profile fields
// that feed verification.
func (r *UserRepo) UpdateProfile(ctx context.Context, u *domain.User) error {
	return conn(ctx, r.db).Model(&domain.User{}).Where("id = ?", u.ID).Updates(map[string]any{
		"role":                u.Role,
		"specialty":           u.Specialty,
		"experience_years":    u.ExperienceYears,
		"credential_url":      u.CredentialURL,
		"description":         u.Description,
		"verification_status": u.VerificationStatus,
	}).Error
}

func (r *UserRepo) UpdateVerificationStatus(ctx context.Context, id uuid.UUID, status domain.VerificationStatus) error {
	res := conn(ctx, r.db).Model(&domain.User{}).
		Where("id = ? AND role = ?", id, domain.RoleDoctor).
		Update("verification_status", status)
	if res.Error != nil {
		return fmt.Errorf("updating verification status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrDoctorNotFound
	}
	return nil
}

func (r *UserRepo) ListVerifiedDoctors(ctx context.Context, specialty string, page, pageSize int) ([]*domain.User, int64, error) {
	db := conn(ctx, r.db).Model(&domain.User{}).
		Where("role = ? AND verification_status = ? AND is_active AND deleted_at IS NULL",
			domain.RoleDoctor, domain.VerificationVerified)
	if specialty != "" {
		db = db.Where("specialty = ?", specialty)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting doctors: %w", err)
	}

	var doctors []*domain.User
	err := db.Order("name ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&doctors).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing doctors: %w", err)
	}
	return doctors, total, nil
}

// LockForBooking takes a row-level exclusive lock on the doctor, serializing
// concurrent reservations for the same doctor at the store. Only meaningful
// inside a transaction.
func (r *UserRepo) LockForBooking(ctx context.Context, doctorID uuid.UUID) error {
	var u struct{ ID uuid.UUID }
	err := conn(ctx, r.db).Model(&domain.User{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ? AND role = ?", doctorID, domain.RoleDoctor).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrDoctorNotFound
	}
	return err
}

// DebitCredits atomically decrements the cached balance, guarded by the
// balance check in the same statement. Two concurrent debits can never both
// pass against a stale read.
func (r *UserRepo) DebitCredits(ctx context.Context, userID uuid.UUID, amount int) error {
	res := conn(ctx, r.db).Model(&domain.User{}).
		Where("id = ? AND credits >= ?", userID, amount).
		Update("credits", gorm.Expr("credits - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("debiting credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrInsufficientCredits
	}
	return nil
}

func (r *UserRepo) CreditCredits(ctx context.Context, userID uuid.UUID, amount int) error {
	res := conn(ctx, r.db).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("credits", gorm.Expr("credits + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("crediting credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// 23505 is Postgres unique_violation; the pgx error text always carries it.
	return err != nil && strings.Contains(err.Error(), "23505")
}
