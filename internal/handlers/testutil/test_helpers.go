package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/api"
	"github.com/teatalks/teatalks/internal/app"
	iauth "github.com/teatalks/teatalks/internal/auth"
	"github.com/teatalks/teatalks/internal/cache"
	sharedtestutil "github.com/teatalks/teatalks/internal/database/testutil"
	"github.com/teatalks/teatalks/internal/middleware"
	"github.com/teatalks/teatalks/internal/models"
	"github.com/teatalks/teatalks/pkg/mail"
	"github.com/teatalks/teatalks/pkg/response"
)

// RecordingSender captures one-time codes instead of emailing them.
type RecordingSender struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

func NewRecordingSender() *RecordingSender {
	return &RecordingSender{codes: make(map[string]string)}
}

func (s *RecordingSender) SendOTP(_ context.Context, _ mail.Purpose, to, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return mail.ErrSMTPDisabled
	}
	s.codes[models.NormalizeEmail(to)] = code
	return nil
}

// Code returns the last code sent to email.
func (s *RecordingSender) Code(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[models.NormalizeEmail(email)]
}

// SetFail makes every subsequent dispatch fail.
func (s *RecordingSender) SetFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T          *testing.T
	DB         *gorm.DB
	Router     *gin.Engine
	JWT        *iauth.JWTService
	Sender     *RecordingSender
	Config     *app.Config
	csrfToken  string
	csrfCookie *http.Cookie
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(*app.Config)

// WithConfig applies fn to the test configuration.
func WithConfig(fn func(*app.Config)) EnvOption {
	return func(cfg *app.Config) {
		fn(cfg)
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Server: app.ServerConfig{
			Mode: app.ModeTest,
			CSRF: app.CSRFConfig{Enabled: true},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				AccessSecret:    "test-suite-access-secret-32-bytes!!",
				RefreshSecret:   "test-suite-refresh-secret-32-bytes!",
				Issuer:          "test-suite",
				AccessTokenTTL:  time.Hour,
				RefreshTokenTTL: 24 * time.Hour,
			},
		},
		Registration: app.RegistrationConfig{HashCost: 4},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	sender := NewRecordingSender()
	router, err := api.NewRouter(db, jwtSvc, cfg, sender, cache.NewMemoryStore())
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		JWT:    jwtSvc,
		Sender: sender,
		Config: cfg,
	}
}

// UserPayload captures the user fields returned from auth endpoints.
type UserPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	UserName string `json:"userName"`
	FullName string `json:"fullName"`
	Bio      string `json:"bio"`
}

// LoginResult bundles the JSON response from POST /api/v1/users/login.
type LoginResult struct {
	User         UserPayload `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

// Register runs the full request/verify sign-up and returns the created user.
func (e *Env) Register(email, userName, password, fullName string) UserPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/v1/users/register", map[string]string{
		"email":    email,
		"userName": userName,
		"password": password,
		"fullName": fullName,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	code := e.Sender.Code(email)
	require.NotEmpty(e.T, code)

	w = e.Request(http.MethodPost, "/api/v1/users/verify-otp", map[string]string{
		"email": email,
		"otp":   code,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var payload struct {
		User UserPayload `json:"user"`
	}
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &payload)
	return payload.User
}

// Login authenticates with an email or user name and returns the issued token pair.
func (e *Env) Login(identifier, password string) LoginResult {
	e.T.Helper()

	key := "userName"
	for _, r := range identifier {
		if r == '@' {
			key = "email"
			break
		}
	}

	w := e.Request(http.MethodPost, "/api/v1/users/login", map[string]string{
		key:        identifier,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.NotEmpty(e.T, result.RefreshToken)

	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.request(method, path, body, token, false)
}

// RequestWithCookies sends cookies instead of a bearer header, the way a browser would.
func (e *Env) RequestWithCookies(method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.request(method, path, body, "", false, cookies...)
}

func (e *Env) request(method, path string, body any, token string, skipCSRF bool, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	if !skipCSRF && token == "" && requiresCSRFAttestation(method) {
		e.ensureCSRFToken()
		if e.csrfCookie != nil {
			req.AddCookie(e.csrfCookie)
		}
		if e.csrfToken != "" {
			req.Header.Set(middleware.CSRFHeaderName, e.csrfToken)
		}
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)

	e.captureCSRF(w.Result())
	return w
}

func (e *Env) ensureCSRFToken() {
	if e.csrfToken != "" && e.csrfCookie != nil {
		return
	}
	resp := e.request(http.MethodGet, "/health", nil, "", true)
	require.Equal(e.T, http.StatusOK, resp.Code, resp.Body.String())
}

func (e *Env) captureCSRF(resp *http.Response) {
	if resp == nil {
		return
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(middleware.CSRFHeaderName); token != "" {
		e.csrfToken = token
	}
	for _, c := range resp.Cookies() {
		if c.Name == middleware.CSRFCookieName {
			// Clone to avoid unintended mutations between tests
			e.csrfCookie = &http.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Path:     c.Path,
				MaxAge:   c.MaxAge,
				Secure:   c.Secure,
				HttpOnly: c.HttpOnly,
				SameSite: c.SameSite,
			}
			break
		}
	}
}

// CookieNamed returns the response cookie called name, or nil.
func CookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func requiresCSRFAttestation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
