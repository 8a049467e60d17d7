package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/teatalks/teatalks/internal/auth"
	"github.com/teatalks/teatalks/internal/middleware"
	"github.com/teatalks/teatalks/internal/models"
	"github.com/teatalks/teatalks/internal/services"
	appErrors "github.com/teatalks/teatalks/pkg/errors"
	"github.com/teatalks/teatalks/pkg/logger"
	"github.com/teatalks/teatalks/pkg/metrics"
	"github.com/teatalks/teatalks/pkg/response"
)

// CookieSettings controls the attributes of the token cookies.
type CookieSettings struct {
	Secure bool
	Domain string
}

// AuthHandler manages registration, login, token rotation and password recovery.
type AuthHandler struct {
	registration *services.RegistrationService
	resets       *services.PasswordResetService
	users        *services.UserService
	tokens       *iauth.TokenService
	cookies      CookieSettings
}

// NewAuthHandler wires the auth endpoints.
func NewAuthHandler(
	registration *services.RegistrationService,
	resets *services.PasswordResetService,
	users *services.UserService,
	tokens *iauth.TokenService,
	cookies CookieSettings,
) *AuthHandler {
	return &AuthHandler{
		registration: registration,
		resets:       resets,
		users:        users,
		tokens:       tokens,
		cookies:      cookies,
	}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	UserName string `json:"userName" validate:"required,username"`
	Password string `json:"password" validate:"required,min=6,max=100"`
	FullName string `json:"fullName" validate:"required,notblank,trimmedmax=100"`
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,numeric,max=10"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"omitempty,email"`
	UserName string `json:"userName"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	OTP         string `json:"otp" validate:"required,numeric,max=10"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=100"`
}

type sessionResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

// POST /api/v1/users/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ack, err := h.registration.Request(requestContext(c), services.RegisterInput{
		Email:    req.Email,
		UserName: req.UserName,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"email":   ack.Email,
		"message": "Verification code sent to your email",
	})
}

// POST /api/v1/users/verify-otp
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.registration.Verify(requestContext(c), req.Email, req.OTP)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"user": user})
}

// POST /api/v1/users/resend-otp
func (h *AuthHandler) ResendOTP(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ack, err := h.registration.Resend(requestContext(c), req.Email)
	if err != nil {
		// A missing pending registration is a client mistake on this endpoint.
		if errors.Is(err, appErrors.ErrNotFound) {
			respondError(c, appErrors.FromError(err).WithStatus(http.StatusBadRequest))
			return
		}
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"email":   ack.Email,
		"message": "A new verification code has been sent",
	})
}

// POST /api/v1/users/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	identifier := strings.TrimSpace(req.Email)
	if identifier == "" {
		identifier = strings.TrimSpace(req.UserName)
	}
	if identifier == "" {
		response.Error(c, appErrors.NewBadRequest("Email or userName is required"))
		return
	}

	user, err := h.users.Authenticate(requestContext(c), identifier, req.Password)
	if err != nil {
		if errors.Is(err, appErrors.ErrInvalidCredentials) {
			metrics.AuthAttempts.WithLabelValues("login", "failure").Inc()
		}
		respondError(c, err)
		return
	}

	pair, err := h.tokens.IssueTokens(requestContext(c), user)
	if err != nil {
		respondError(c, err)
		return
	}

	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()
	logger.WithModule("auth").Info("user logged in", zap.String("user_id", user.ID))

	h.setTokenCookies(c, pair)
	response.Success(c, http.StatusOK, sessionResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// POST /api/v1/users/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.tokens.Logout(requestContext(c), userID); err != nil {
		respondError(c, err)
		return
	}

	h.clearTokenCookies(c)
	response.Message(c, http.StatusOK, "Logged out")
}

// POST /api/v1/users/refresh-token
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	presented, _ := c.Cookie(middleware.RefreshTokenCookie)
	if strings.TrimSpace(presented) == "" {
		presented = req.RefreshToken
	}
	if strings.TrimSpace(presented) == "" {
		response.Error(c, appErrors.ErrUnauthorized.WithMessage("Refresh token is required"))
		return
	}

	pair, user, err := h.tokens.RefreshTokens(requestContext(c), presented)
	if err != nil {
		if errors.Is(err, appErrors.ErrUnauthorized) || errors.Is(err, appErrors.ErrStaleToken) {
			h.clearTokenCookies(c)
		}
		respondError(c, err)
		return
	}

	h.setTokenCookies(c, pair)
	response.Success(c, http.StatusOK, sessionResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// POST /api/v1/users/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.resets.Request(requestContext(c), req.Email); err != nil {
		respondError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "If the email is registered, a reset code has been sent")
}

// POST /api/v1/users/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.resets.Reset(requestContext(c), req.Email, req.OTP, req.NewPassword); err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			respondError(c, appErrors.FromError(err).WithStatus(http.StatusBadRequest))
			return
		}
		respondError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Password has been reset, please log in again")
}

func (h *AuthHandler) setTokenCookies(c *gin.Context, pair iauth.TokenPair) {
	jwt := h.tokens.JWT()
	h.setCookie(c, middleware.AccessTokenCookie, pair.AccessToken, jwt.AccessTokenTTL())
	h.setCookie(c, middleware.RefreshTokenCookie, pair.RefreshToken, jwt.RefreshTokenTTL())
}

func (h *AuthHandler) clearTokenCookies(c *gin.Context) {
	h.setCookie(c, middleware.AccessTokenCookie, "", -1)
	h.setCookie(c, middleware.RefreshTokenCookie, "", -1)
}

func (h *AuthHandler) setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if ttl < 0 {
		maxAge = -1
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   maxAge,
		Secure:   h.cookies.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
