package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/models"
)

const activityWindow = 7 * 24 * time.Hour

// WeeklyActivity counts what a user created during the trailing seven days.
type WeeklyActivity struct {
	PostsCreated int64 `json:"postsCreated"`
	CommentsMade int64 `json:"commentsMade"`
}

// Profile is the public rollup of a user.
type Profile struct {
	User           models.User    `json:"user"`
	Posts          []models.Post  `json:"posts"`
	PostCount      int64          `json:"postCount"`
	CommentCount   int64          `json:"commentCount"`
	WeeklyActivity WeeklyActivity `json:"weeklyActivity"`
}

// ProfileOption customises the ProfileService.
type ProfileOption func(*ProfileService)

// WithProfileClock injects a custom time source.
func WithProfileClock(clock func() time.Time) ProfileOption {
	return func(s *ProfileService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// ProfileService assembles profile rollups. Results are computed on every call.
type ProfileService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewProfileService constructs a ProfileService.
func NewProfileService(db *gorm.DB, opts ...ProfileOption) (*ProfileService, error) {
	if db == nil {
		return nil, errors.New("profile service: db is required")
	}
	svc := &ProfileService{db: db, now: utcNow}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// GetProfile returns the user with the given user name and their activity.
func (s *ProfileService) GetProfile(ctx context.Context, userName string) (*Profile, error) {
	ctx = ensureContext(ctx)
	userName = models.NormalizeUserName(userName)
	if userName == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("user_name = ?", userName).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile service: load user: %w", err)
	}

	profile := &Profile{User: user, Posts: []models.Post{}}
	if err := s.db.WithContext(ctx).
		Preload("Author").
		Where("author_id = ?", user.ID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&profile.Posts).Error; err != nil {
		return nil, fmt.Errorf("profile service: list posts: %w", err)
	}
	profile.PostCount = int64(len(profile.Posts))

	if err := s.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("author_id = ?", user.ID).
		Count(&profile.CommentCount).Error; err != nil {
		return nil, fmt.Errorf("profile service: count comments: %w", err)
	}

	now := s.now()
	since := now.Add(-activityWindow)
	for _, post := range profile.Posts {
		if !post.CreatedAt.Before(since) && !post.CreatedAt.After(now) {
			profile.WeeklyActivity.PostsCreated++
		}
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("author_id = ? AND created_at >= ? AND created_at <= ?", user.ID, since, now).
		Count(&profile.WeeklyActivity.CommentsMade).Error; err != nil {
		return nil, fmt.Errorf("profile service: count weekly comments: %w", err)
	}

	return profile, nil
}
