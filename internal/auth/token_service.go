package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/models"
	apperrors "github.com/teatalks/teatalks/pkg/errors"
	"github.com/teatalks/teatalks/pkg/logger"
	"github.com/teatalks/teatalks/pkg/metrics"
)

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenService issues token pairs and rotates refresh tokens. Each user holds at most one
// live refresh token, stored on the user row; issuing or rotating replaces it.
type TokenService struct {
	db  *gorm.DB
	jwt *JWTService
	log *zap.Logger
}

// NewTokenService constructs a TokenService backed by the provided database and JWT service.
func NewTokenService(db *gorm.DB, jwtService *JWTService) (*TokenService, error) {
	if db == nil {
		return nil, errors.New("token service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("token service: jwt service is required")
	}
	return &TokenService{db: db, jwt: jwtService, log: logger.WithModule("tokens")}, nil
}

// JWT exposes the underlying signer for middleware that validates access tokens.
func (s *TokenService) JWT() *JWTService {
	return s.jwt
}

// IssueTokens signs a fresh pair for user and stores the refresh token, superseding any
// previously issued one.
func (s *TokenService) IssueTokens(ctx context.Context, user *models.User) (TokenPair, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, errors.New("token service: user is required")
	}

	pair, err := s.sign(user)
	if err != nil {
		return TokenPair{}, err
	}

	res := s.db.WithContext(ensureContext(ctx)).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("refresh_token", pair.RefreshToken)
	if res.Error != nil {
		return TokenPair{}, fmt.Errorf("token service: store refresh token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return TokenPair{}, apperrors.ErrUnauthorized
	}

	user.RefreshToken = &pair.RefreshToken
	return pair, nil
}

// RefreshTokens exchanges the presented refresh token for a new pair. A token that fails
// validation or names an unknown user is Unauthorized; a valid token that is no longer the
// stored one is Stale. The swap is conditional on the stored value so concurrent refreshes
// with the same token cannot both succeed.
func (s *TokenService) RefreshTokens(ctx context.Context, presented string) (TokenPair, *models.User, error) {
	ctx = ensureContext(ctx)
	presented = strings.TrimSpace(presented)

	claims, err := s.jwt.ValidateRefreshToken(presented)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("refresh", "invalid").Inc()
		return TokenPair{}, nil, apperrors.ErrUnauthorized.WithMessage("Invalid refresh token").WithInternal(err)
	}

	var user models.User
	err = s.db.WithContext(ctx).Take(&user, "id = ?", claims.Subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AuthAttempts.WithLabelValues("refresh", "invalid").Inc()
		return TokenPair{}, nil, apperrors.ErrUnauthorized.WithMessage("Invalid refresh token")
	}
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("token service: load user: %w", err)
	}

	if user.RefreshToken == nil || *user.RefreshToken != presented {
		metrics.AuthAttempts.WithLabelValues("refresh", "stale").Inc()
		return TokenPair{}, nil, apperrors.ErrStaleToken
	}

	pair, err := s.sign(&user)
	if err != nil {
		return TokenPair{}, nil, err
	}

	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND refresh_token = ?", user.ID, presented).
		Update("refresh_token", pair.RefreshToken)
	if res.Error != nil {
		return TokenPair{}, nil, fmt.Errorf("token service: rotate refresh token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.AuthAttempts.WithLabelValues("refresh", "stale").Inc()
		s.log.Info("refresh token lost rotation race", zap.String("user_id", user.ID))
		return TokenPair{}, nil, apperrors.ErrStaleToken
	}

	metrics.AuthAttempts.WithLabelValues("refresh", "success").Inc()
	user.RefreshToken = &pair.RefreshToken
	return pair, &user, nil
}

// Logout clears the user's stored refresh token. Access tokens stay valid until they expire.
func (s *TokenService) Logout(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.ErrUnauthorized
	}
	if err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("refresh_token", nil).Error; err != nil {
		return fmt.Errorf("token service: clear refresh token: %w", err)
	}
	return nil
}

func (s *TokenService) sign(user *models.User) (TokenPair, error) {
	access, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:   user.ID,
		Email:    user.Email,
		UserName: user.UserName,
		FullName: user.FullName,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("token service: generate access token: %w", err)
	}
	refresh, err := s.jwt.GenerateRefreshToken(user.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("token service: generate refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
