package models

import "time"

// OTPChallenge holds the hashed one-time code shared by registration and password reset.
type OTPChallenge struct {
	OTPHash      string    `gorm:"not null" json:"-"`
	ExpiresAt    time.Time `gorm:"index;not null" json:"expiresAt"`
	AttemptCount int       `gorm:"not null;default:0" json:"attemptCount"`
}

// Expired reports whether the code is past its validity window at now.
func (c OTPChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Exhausted reports whether the attempt ceiling has been reached.
func (c OTPChallenge) Exhausted(maxAttempts int) bool {
	return c.AttemptCount >= maxAttempts
}
