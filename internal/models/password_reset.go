package models

// PasswordReset is an outstanding forgot-password challenge for an existing user.
type PasswordReset struct {
	BaseModel
	OTPChallenge

	Email  string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	UserID string `gorm:"size:36;not null;index" json:"userId"`
}
