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

// RegistrationOption customises the RegistrationService.
type RegistrationOption func(*RegistrationService)

// WithRegistrationClock injects a custom time source.
func WithRegistrationClock(clock func() time.Time) RegistrationOption {
	return func(s *RegistrationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithRegistrationPolicy overrides code length, lifetime, attempt ceiling and hash cost.
func WithRegistrationPolicy(policy OTPPolicy) RegistrationOption {
	return func(s *RegistrationService) {
		s.policy = policy.withDefaults()
	}
}

// WithRegistrationCodeGenerator replaces the one-time code source.
func WithRegistrationCodeGenerator(gen CodeGenerator) RegistrationOption {
	return func(s *RegistrationService) {
		if gen != nil {
			s.codes = gen
		}
	}
}

// WithCollegeDomain restricts sign-ups to addresses under domain.
func WithCollegeDomain(domain string) RegistrationOption {
	return func(s *RegistrationService) {
		s.collegeDomain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@"))
	}
}

// RegisterInput carries a validated sign-up request.
type RegisterInput struct {
	Email    string
	UserName string
	Password string
	FullName string
}

// RegistrationAck is all a caller learns from a successful request or resend.
type RegistrationAck struct {
	Email string `json:"email"`
}

// RegistrationService runs the two-phase sign-up: request a code, then verify it to
// materialise the account.
type RegistrationService struct {
	db            *gorm.DB
	sender        OTPSender
	codes         CodeGenerator
	policy        OTPPolicy
	collegeDomain string
	now           func() time.Time
	log           *zap.Logger
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(db *gorm.DB, sender OTPSender, opts ...RegistrationOption) (*RegistrationService, error) {
	if db == nil {
		return nil, errors.New("registration service: db is required")
	}
	if sender == nil {
		return nil, errors.New("registration service: otp sender is required")
	}

	svc := &RegistrationService{
		db:     db,
		sender: sender,
		codes:  HOTPCodeGenerator{},
		policy: DefaultOTPPolicy(),
		now:    utcNow,
		log:    logger.WithModule("registration"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Request starts a registration. It parks the profile in a pending record and emails a code.
func (s *RegistrationService) Request(ctx context.Context, in RegisterInput) (*RegistrationAck, error) {
	ctx = ensureContext(ctx)

	email := models.NormalizeEmail(in.Email)
	userName := models.NormalizeUserName(in.UserName)
	fullName := strings.TrimSpace(in.FullName)
	if email == "" || userName == "" || fullName == "" || in.Password == "" {
		return nil, apperrors.NewBadRequest("All fields are required")
	}
	if !s.allowedEmail(email) {
		return nil, ErrNonCollegeEmail
	}

	now := s.now()
	if err := s.ensureAvailable(ctx, email, userName, now); err != nil {
		return nil, err
	}

	passwordHash, err := crypto.HashPasswordWithCost(in.Password, s.policy.HashCost)
	if err != nil {
		return nil, fmt.Errorf("registration service: hash password: %w", err)
	}
	code, challenge, err := s.policy.issue(s.codes, now)
	if err != nil {
		return nil, fmt.Errorf("registration service: %w", err)
	}

	pending := models.PendingRegistration{
		OTPChallenge: challenge,
		Email:        email,
		UserName:     userName,
		FullName:     fullName,
		PasswordHash: passwordHash,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email = ?", email).Delete(&models.PendingRegistration{}).Error; err != nil {
			return err
		}
		return tx.Create(&pending).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrRegistrationInProgress
		}
		return nil, fmt.Errorf("registration service: store pending registration: %w", err)
	}

	if err := s.sender.SendOTP(ctx, mail.PurposeRegistration, email, code); err != nil {
		if delErr := s.db.WithContext(ctx).
			Where("id = ?", pending.ID).
			Delete(&models.PendingRegistration{}).Error; delErr != nil {
			s.log.Error("rollback pending registration", zap.String("email", email), zap.Error(delErr))
		}
		metrics.Registrations.WithLabelValues("dispatch_failed").Inc()
		s.log.Warn("otp dispatch failed", zap.String("email", email), zap.Error(err))
		return nil, apperrors.ErrDispatchFailure.WithInternal(err)
	}

	metrics.Registrations.WithLabelValues("requested").Inc()
	return &RegistrationAck{Email: email}, nil
}

// Verify checks a code and, on success, turns the pending record into a user.
func (s *RegistrationService) Verify(ctx context.Context, email, code string) (*models.User, error) {
	ctx = ensureContext(ctx)
	email = models.NormalizeEmail(email)
	code = strings.TrimSpace(code)

	pending, err := s.findPending(ctx, email)
	if err != nil {
		return nil, err
	}

	verdict, attempts, err := s.policy.verify(ctx, s.db, &models.PendingRegistration{}, pending.ID, code, s.now())
	if err != nil {
		return nil, fmt.Errorf("registration service: %w", err)
	}
	switch verdict {
	case challengeGone:
		return nil, ErrPendingNotFound
	case challengeExpired:
		s.discard(ctx, pending.ID)
		metrics.Registrations.WithLabelValues("expired").Inc()
		return nil, apperrors.ErrOTPExpired
	case challengeExhausted:
		s.discard(ctx, pending.ID)
		metrics.Registrations.WithLabelValues("exhausted").Inc()
		return nil, apperrors.ErrOTPAttemptsExhausted
	case challengeMismatch:
		metrics.Registrations.WithLabelValues("invalid_code").Inc()
		remaining := s.policy.remaining(attempts)
		return nil, apperrors.ErrOTPInvalid.
			WithMessage(fmt.Sprintf("Invalid verification code, %d attempts remaining", remaining)).
			WithDetail("remainingAttempts", remaining)
	}

	user := models.User{
		Email:        pending.Email,
		UserName:     pending.UserName,
		FullName:     pending.FullName,
		PasswordHash: pending.PasswordHash,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Claiming the pending row first means only one concurrent verifier can proceed.
		res := tx.Where("id = ?", pending.ID).Delete(&models.PendingRegistration{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPendingNotFound
		}
		if err := tx.Create(&user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrUserExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("registration service: create user: %w", err)
	}

	metrics.Registrations.WithLabelValues("verified").Inc()
	s.log.Info("user registered", zap.String("user_id", user.ID), zap.String("user_name", user.UserName))
	return &user, nil
}

// Resend issues a fresh code for an outstanding registration. The stored challenge is only
// replaced after the new code was dispatched, so a failed send leaves the old code usable.
func (s *RegistrationService) Resend(ctx context.Context, email string) (*RegistrationAck, error) {
	ctx = ensureContext(ctx)
	email = models.NormalizeEmail(email)

	pending, err := s.findPending(ctx, email)
	if err != nil {
		return nil, err
	}

	code, challenge, err := s.policy.issue(s.codes, s.now())
	if err != nil {
		return nil, fmt.Errorf("registration service: %w", err)
	}

	if err := s.sender.SendOTP(ctx, mail.PurposeRegistration, email, code); err != nil {
		metrics.Registrations.WithLabelValues("dispatch_failed").Inc()
		s.log.Warn("otp resend failed", zap.String("email", email), zap.Error(err))
		return nil, apperrors.ErrDispatchFailure.WithInternal(err)
	}

	res := s.db.WithContext(ctx).
		Model(&models.PendingRegistration{}).
		Where("id = ?", pending.ID).
		Updates(map[string]any{
			"otp_hash":      challenge.OTPHash,
			"expires_at":    challenge.ExpiresAt,
			"attempt_count": 0,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("registration service: reset challenge: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrPendingNotFound
	}

	metrics.Registrations.WithLabelValues("resent").Inc()
	return &RegistrationAck{Email: email}, nil
}

// PurgeExpired removes pending registrations whose code lifetime has passed.
func (s *RegistrationService) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ensureContext(ctx)).
		Where("expires_at < ?", s.now()).
		Delete(&models.PendingRegistration{})
	return res.RowsAffected, res.Error
}

func (s *RegistrationService) allowedEmail(email string) bool {
	if s.collegeDomain == "" {
		return true
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && email[at+1:] == s.collegeDomain
}

// ensureAvailable rejects identities that collide with confirmed users or with a live
// pending registration for a different email. Expired pending rows no longer reserve anything.
func (s *RegistrationService) ensureAvailable(ctx context.Context, email, userName string, now time.Time) error {
	var users int64
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ? OR user_name = ?", email, userName).
		Count(&users).Error; err != nil {
		return fmt.Errorf("registration service: check users: %w", err)
	}
	if users > 0 {
		return ErrUserExists
	}

	var reserved int64
	if err := s.db.WithContext(ctx).
		Model(&models.PendingRegistration{}).
		Where("user_name = ? AND email <> ? AND expires_at >= ?", userName, email, now).
		Count(&reserved).Error; err != nil {
		return fmt.Errorf("registration service: check pending: %w", err)
	}
	if reserved > 0 {
		return ErrUserNameReserved
	}
	return nil
}

func (s *RegistrationService) findPending(ctx context.Context, email string) (*models.PendingRegistration, error) {
	if email == "" {
		return nil, ErrPendingNotFound
	}
	var pending models.PendingRegistration
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&pending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registration service: load pending registration: %w", err)
	}
	return &pending, nil
}

func (s *RegistrationService) discard(ctx context.Context, id string) {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PendingRegistration{}).Error; err != nil {
		s.log.Error("discard pending registration", zap.String("id", id), zap.Error(err))
	}
}
