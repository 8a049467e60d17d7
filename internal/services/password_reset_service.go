package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/models"
	"github.com/teatalks/teatalks/pkg/crypto"
	apperrors "github.com/teatalks/teatalks/pkg/errors"
	"github.com/teatalks/teatalks/pkg/logger"
	"github.com/teatalks/teatalks/pkg/mail"
	"github.com/teatalks/teatalks/pkg/metrics"
)

// PasswordResetOption customises the PasswordResetService.
type PasswordResetOption func(*PasswordResetService)

// WithPasswordResetClock injects a custom time source.
func WithPasswordResetClock(clock func() time.Time) PasswordResetOption {
	return func(s *PasswordResetService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithPasswordResetPolicy overrides the code policy.
func WithPasswordResetPolicy(policy OTPPolicy) PasswordResetOption {
	return func(s *PasswordResetService) {
		s.policy = policy.withDefaults()
	}
}

// WithPasswordResetCodeGenerator replaces the one-time code source.
func WithPasswordResetCodeGenerator(gen CodeGenerator) PasswordResetOption {
	return func(s *PasswordResetService) {
		if gen != nil {
			s.codes = gen
		}
	}
}

// PasswordResetService handles forgot-password codes for confirmed users.
type PasswordResetService struct {
	db     *gorm.DB
	sender OTPSender
	codes  CodeGenerator
	policy OTPPolicy
	now    func() time.Time
	log    *zap.Logger
}

// NewPasswordResetService constructs a PasswordResetService.
func NewPasswordResetService(db *gorm.DB, sender OTPSender, opts ...PasswordResetOption) (*PasswordResetService, error) {
	if db == nil {
		return nil, errors.New("password reset service: db is required")
	}
	if sender == nil {
		return nil, errors.New("password reset service: otp sender is required")
	}

	svc := &PasswordResetService{
		db:     db,
		sender: sender,
		codes:  HOTPCodeGenerator{},
		policy: DefaultOTPPolicy(),
		now:    utcNow,
		log:    logger.WithModule("password_reset"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Request emails a reset code when the address belongs to a user. Unknown addresses are
// acknowledged the same way so the endpoint cannot be used to probe for accounts.
func (s *PasswordResetService) Request(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)
	email = models.NormalizeEmail(email)

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Debug("password reset for unknown email", zap.String("email", email))
		return nil
	}
	if err != nil {
		return fmt.Errorf("password reset service: load user: %w", err)
	}

	code, challenge, err := s.policy.issue(s.codes, s.now())
	if err != nil {
		return fmt.Errorf("password reset service: %w", err)
	}

	reset := models.PasswordReset{OTPChallenge: challenge, Email: email, UserID: user.ID}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email = ?", email).Delete(&models.PasswordReset{}).Error; err != nil {
			return err
		}
		return tx.Create(&reset).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return apperrors.ErrConflict.WithMessage("Password reset already in progress")
		}
		return fmt.Errorf("password reset service: store reset: %w", err)
	}

	if err := s.sender.SendOTP(ctx, mail.PurposePasswordReset, email, code); err != nil {
		if delErr := s.db.WithContext(ctx).Where("id = ?", reset.ID).Delete(&models.PasswordReset{}).Error; delErr != nil {
			s.log.Error("rollback password reset", zap.String("email", email), zap.Error(delErr))
		}
		metrics.PasswordResets.WithLabelValues("dispatch_failed").Inc()
		return apperrors.ErrDispatchFailure.WithInternal(err)
	}

	metrics.PasswordResets.WithLabelValues("requested").Inc()
	return nil
}

// Reset replaces the password when the code matches and revokes the stored refresh token.
func (s *PasswordResetService) Reset(ctx context.Context, email, code, newPassword string) error {
	ctx = ensureContext(ctx)
	email = models.NormalizeEmail(email)
	code = strings.TrimSpace(code)

	var reset models.PasswordReset
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&reset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrResetNotFound
	}
	if err != nil {
		return fmt.Errorf("password reset service: load reset: %w", err)
	}

	verdict, attempts, err := s.policy.verify(ctx, s.db, &models.PasswordReset{}, reset.ID, code, s.now())
	if err != nil {
		return fmt.Errorf("password reset service: %w", err)
	}
	switch verdict {
	case challengeGone:
		return ErrResetNotFound
	case challengeExpired:
		s.discard(ctx, reset.ID)
		metrics.PasswordResets.WithLabelValues("expired").Inc()
		return apperrors.ErrOTPExpired
	case challengeExhausted:
		s.discard(ctx, reset.ID)
		metrics.PasswordResets.WithLabelValues("exhausted").Inc()
		return apperrors.ErrOTPAttemptsExhausted
	case challengeMismatch:
		remaining := s.policy.remaining(attempts)
		return apperrors.ErrOTPInvalid.
			WithMessage(fmt.Sprintf("Invalid reset code, %d attempts remaining", remaining)).
			WithDetail("remainingAttempts", remaining)
	}

	hash, err := crypto.HashPasswordWithCost(newPassword, s.policy.HashCost)
	if err != nil {
		return fmt.Errorf("password reset service: hash password: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", reset.ID).Delete(&models.PasswordReset{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrResetNotFound
		}
		res = tx.Model(&models.User{}).
			Where("id = ?", reset.UserID).
			Updates(map[string]any{"password_hash": hash, "refresh_token": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return fmt.Errorf("password reset service: update password: %w", err)
	}

	metrics.PasswordResets.WithLabelValues("completed").Inc()
	s.log.Info("password reset", zap.String("user_id", reset.UserID))
	return nil
}

// PurgeExpired removes reset challenges whose lifetime has passed.
func (s *PasswordResetService) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ensureContext(ctx)).
		Where("expires_at < ?", s.now()).
		Delete(&models.PasswordReset{})
	return res.RowsAffected, res.Error
}

func (s *PasswordResetService) discard(ctx context.Context, id string) {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PasswordReset{}).Error; err != nil {
		s.log.Error("discard password reset", zap.String("id", id), zap.Error(err))
	}
}
