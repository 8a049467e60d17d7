package services

import (
	"context"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/models"
	"github.com/teatalks/teatalks/pkg/crypto"
	"github.com/teatalks/teatalks/pkg/mail"
)

const (
	defaultOTPLength      = 6
	defaultOTPTTL         = 10 * time.Minute
	defaultOTPMaxAttempts = 5
)

// OTPPolicy controls one-time code generation and verification.
type OTPPolicy struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int
	// HashCost is the bcrypt cost used for codes and passwords.
	HashCost int
}

// DefaultOTPPolicy returns the production policy: six digits, ten minutes, five attempts.
func DefaultOTPPolicy() OTPPolicy {
	return OTPPolicy{
		Length:      defaultOTPLength,
		TTL:         defaultOTPTTL,
		MaxAttempts: defaultOTPMaxAttempts,
		HashCost:    crypto.DefaultCost,
	}
}

func (p OTPPolicy) withDefaults() OTPPolicy {
	def := DefaultOTPPolicy()
	if p.Length <= 0 {
		p.Length = def.Length
	}
	if p.TTL <= 0 {
		p.TTL = def.TTL
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.HashCost <= 0 {
		p.HashCost = def.HashCost
	}
	return p
}

// CodeGenerator produces numeric one-time codes.
type CodeGenerator interface {
	Generate(digits int) (string, error)
}

// HOTPCodeGenerator derives codes from a fresh random secret and counter per call,
// so consecutive codes are unrelated.
type HOTPCodeGenerator struct{}

func (HOTPCodeGenerator) Generate(digits int) (string, error) {
	secret, err := crypto.GenerateBytes(20)
	if err != nil {
		return "", fmt.Errorf("otp: generate secret: %w", err)
	}
	counterBytes, err := crypto.GenerateBytes(8)
	if err != nil {
		return "", fmt.Errorf("otp: generate counter: %w", err)
	}

	code, err := hotp.GenerateCodeCustom(
		base32.StdEncoding.EncodeToString(secret),
		binary.BigEndian.Uint64(counterBytes),
		hotp.ValidateOpts{Digits: otp.Digits(digits), Algorithm: otp.AlgorithmSHA1},
	)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return code, nil
}

// OTPSender delivers one-time codes to an email address.
type OTPSender interface {
	SendOTP(ctx context.Context, purpose mail.Purpose, to, code string) error
}

// MailOTPSender renders code emails and hands them to a Mailer.
type MailOTPSender struct {
	mailer mail.Mailer
	ttl    time.Duration
}

// NewMailOTPSender builds an OTPSender; ttl is only used for the email wording.
func NewMailOTPSender(mailer mail.Mailer, ttl time.Duration) *MailOTPSender {
	if ttl <= 0 {
		ttl = defaultOTPTTL
	}
	return &MailOTPSender{mailer: mailer, ttl: ttl}
}

func (s *MailOTPSender) SendOTP(ctx context.Context, purpose mail.Purpose, to, code string) error {
	if s == nil || s.mailer == nil {
		return mail.ErrSMTPDisabled
	}
	msg, err := mail.CodeMessage(purpose, to, code, s.ttl)
	if err != nil {
		return err
	}
	return s.mailer.Send(ensureContext(ctx), msg)
}

type challengeResult int

const (
	challengeAccepted challengeResult = iota
	challengeExpired
	challengeExhausted
	challengeMismatch
	challengeGone
)

// verify spends one attempt on the challenge stored for id in model's table, then compares
// code. The attempt is claimed with a compare-and-swap on attempt_count and otp_hash before
// the hash is checked, so parallel guesses share the ceiling and a correct code cannot
// revive an expired or exhausted challenge. It returns the attempt count it claimed.
func (p OTPPolicy) verify(ctx context.Context, db *gorm.DB, model any, id, code string, now time.Time) (challengeResult, int, error) {
	for {
		var c models.OTPChallenge
		err := db.WithContext(ctx).
			Model(model).
			Select("otp_hash", "expires_at", "attempt_count").
			Where("id = ?", id).
			Take(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return challengeGone, 0, nil
		}
		if err != nil {
			return 0, 0, fmt.Errorf("otp: load challenge: %w", err)
		}

		switch {
		case c.Expired(now):
			return challengeExpired, c.AttemptCount, nil
		case c.Exhausted(p.MaxAttempts):
			return challengeExhausted, c.AttemptCount, nil
		}

		res := db.WithContext(ctx).
			Model(model).
			Where("id = ? AND attempt_count = ? AND otp_hash = ?", id, c.AttemptCount, c.OTPHash).
			UpdateColumn("attempt_count", gorm.Expr("attempt_count + 1"))
		if res.Error != nil {
			return 0, 0, fmt.Errorf("otp: claim attempt: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Another attempt or a resend changed the row first.
			continue
		}

		claimed := c.AttemptCount + 1
		if !crypto.VerifyPassword(c.OTPHash, code) {
			return challengeMismatch, claimed, nil
		}
		return challengeAccepted, claimed, nil
	}
}

// issue generates a fresh code and returns it with its hashed challenge.
func (p OTPPolicy) issue(gen CodeGenerator, now time.Time) (string, models.OTPChallenge, error) {
	code, err := gen.Generate(p.Length)
	if err != nil {
		return "", models.OTPChallenge{}, err
	}
	hash, err := crypto.HashPasswordWithCost(code, p.HashCost)
	if err != nil {
		return "", models.OTPChallenge{}, fmt.Errorf("otp: hash code: %w", err)
	}
	return code, models.OTPChallenge{
		OTPHash:      hash,
		ExpiresAt:    now.Add(p.TTL),
		AttemptCount: 0,
	}, nil
}

func (p OTPPolicy) remaining(attempts int) int {
	if left := p.MaxAttempts - attempts; left > 0 {
		return left
	}
	return 0
}
