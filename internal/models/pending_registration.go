package models

// PendingRegistration is an unverified sign-up keyed by email.
type PendingRegistration struct {
	BaseModel
	OTPChallenge

	Email        string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	UserName     string `gorm:"index;size:30;not null" json:"userName"`
	FullName     string `gorm:"size:100;not null" json:"fullName"`
	PasswordHash string `gorm:"not null" json:"-"`
}
