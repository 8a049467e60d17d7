package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/cache"
	"github.com/teatalks/teatalks/internal/models"
	"github.com/teatalks/teatalks/pkg/crypto"
	apperrors "github.com/teatalks/teatalks/pkg/errors"
	"github.com/teatalks/teatalks/pkg/logger"
)

const (
	platformStatsCacheKey = "stats:platform"
	platformStatsTTL      = time.Minute
)

// PlatformStats is the site-wide activity summary.
type PlatformStats struct {
	UserCount      int64 `json:"userCount"`
	PostCount      int64 `json:"postCount"`
	CommentCount   int64 `json:"commentCount"`
	DailyPostCount int64 `json:"dailyPostCount"`
}

// UserOption customises the UserService.
type UserOption func(*UserService)

// WithUserClock injects a custom time source.
func WithUserClock(clock func() time.Time) UserOption {
	return func(s *UserService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithUserCache enables caching of platform statistics.
func WithUserCache(store cache.Store) UserOption {
	return func(s *UserService) {
		s.cache = store
	}
}

// UserService covers credential checks and self-service account reads and edits.
type UserService struct {
	db    *gorm.DB
	cache cache.Store
	now   func() time.Time
	log   *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, opts ...UserOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	svc := &UserService{db: db, now: utcNow, log: logger.WithModule("users")}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Authenticate resolves identifier as an email or a user name and checks the password.
// Unknown identities and wrong passwords are indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	ctx = ensureContext(ctx)
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, apperrors.NewBadRequest("Email or username and password are required")
	}

	column, value := "user_name", models.NormalizeUserName(identifier)
	if strings.Contains(identifier, "@") {
		column, value = "email", models.NormalizeEmail(identifier)
	}

	var user models.User
	err := s.db.WithContext(ctx).Where(column+" = ?", value).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	if !crypto.VerifyPassword(user.PasswordHash, password) {
		return nil, apperrors.ErrInvalidCredentials
	}
	return &user, nil
}

// GetByID loads a user by primary key.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ensureContext(ctx)).Take(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get: %w", err)
	}
	return &user, nil
}

// UpdateBio replaces the user's bio with sanitised text. An empty bio clears it.
func (s *UserService) UpdateBio(ctx context.Context, id, bio string) (*models.User, error) {
	ctx = ensureContext(ctx)

	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("bio", cleanText(bio))
	if res.Error != nil {
		return nil, fmt.Errorf("user service: update bio: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}
	return s.GetByID(ctx, id)
}

// PlatformStats returns site-wide counts, served from the cache for up to a minute.
func (s *UserService) PlatformStats(ctx context.Context) (*PlatformStats, error) {
	ctx = ensureContext(ctx)

	var stats PlatformStats
	if s.cache != nil {
		hit, err := cache.GetJSON(ctx, s.cache, platformStatsCacheKey, &stats)
		if err != nil {
			s.log.Warn("read platform stats cache", zap.Error(err))
		}
		if hit {
			return &stats, nil
		}
	}

	db := s.db.WithContext(ctx)
	if err := db.Model(&models.User{}).Count(&stats.UserCount).Error; err != nil {
		return nil, fmt.Errorf("user service: count users: %w", err)
	}
	if err := db.Model(&models.Post{}).Count(&stats.PostCount).Error; err != nil {
		return nil, fmt.Errorf("user service: count posts: %w", err)
	}
	if err := db.Model(&models.Comment{}).Count(&stats.CommentCount).Error; err != nil {
		return nil, fmt.Errorf("user service: count comments: %w", err)
	}
	if err := db.Model(&models.Post{}).
		Where("created_at >= ?", s.now().Add(-24*time.Hour)).
		Count(&stats.DailyPostCount).Error; err != nil {
		return nil, fmt.Errorf("user service: count daily posts: %w", err)
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, platformStatsCacheKey, stats, platformStatsTTL); err != nil {
			s.log.Warn("write platform stats cache", zap.Error(err))
		}
	}
	return &stats, nil
}
