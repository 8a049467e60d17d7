package models

import "strings"

// User is a confirmed account. It is only ever created from a verified PendingRegistration.
type User struct {
	BaseModel

	Email        string  `gorm:"uniqueIndex;size:255;not null" json:"email"`
	UserName     string  `gorm:"uniqueIndex;size:30;not null" json:"userName"`
	FullName     string  `gorm:"size:100;not null" json:"fullName"`
	PasswordHash string  `gorm:"not null" json:"-"`
	Bio          string  `gorm:"size:300" json:"bio"`
	RefreshToken *string `gorm:"size:1024" json:"-"`
}

// Author is the public projection of a user embedded in posts, comments and reactions.
type Author struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	FullName string `json:"fullName"`
}

// TableName maps the projection onto the users table.
func (Author) TableName() string {
	return "users"
}

// NormalizeUserName folds user names to the stored form.
func NormalizeUserName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeEmail folds email addresses to the stored form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
