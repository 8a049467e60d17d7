package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/teatalks/teatalks/internal/app"
)

// CheckStatus captures the outcome of a security audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

const (
	minSecretLength        = 32
	recommendedSecretBytes = 48
	maxRecommendedRefresh  = 30 * 24 * time.Hour
	maxRecommendedAttempts = 10
	minRecommendedOTP      = 6
)

// Check contains the result of a single audit verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a simple status summary.
type Result struct {
	CheckedAt time.Time      `json:"checkedAt"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// Findings returns the checks that did not pass.
func (r Result) Findings() []Check {
	var out []Check
	for _, check := range r.Checks {
		if check.Status != StatusPass {
			out = append(out, check)
		}
	}
	return out
}

// AuditService evaluates the loaded configuration against the deployment baseline.
type AuditService struct {
	cfg *app.Config
	now func() time.Time
}

// NewAuditService constructs the audit service. A nil config degrades every check to a warning.
func NewAuditService(cfg *app.Config) *AuditService {
	return &AuditService{cfg: cfg, now: time.Now}
}

// WithClock overrides the clock used in results.
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes all audit checks and returns their outcome.
func (s *AuditService) Run() Result {
	var checks []Check
	if s.cfg == nil {
		checks = []Check{{
			ID:          "configuration_loaded",
			Status:      StatusWarn,
			Message:     "Configuration not loaded; nothing to audit.",
			Remediation: "Load configuration before running the security audit.",
		}}
	} else {
		checks = []Check{
			s.checkJWTSecrets(),
			s.checkRefreshTTL(),
			s.checkEmailDelivery(),
			s.checkCollegeDomain(),
			s.checkCORSOrigins(),
			s.checkRateLimit(),
			s.checkOTPPolicy(),
		}
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (s *AuditService) checkJWTSecrets() Check {
	jwt := s.cfg.Auth.JWT
	length := len(jwt.AccessSecret)
	if l := len(jwt.RefreshSecret); l < length {
		length = l
	}

	switch {
	case length == 0:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     "Missing JWT signing secret.",
			Remediation: "Set TEATALKS_AUTH_JWT_ACCESS_SECRET and TEATALKS_AUTH_JWT_REFRESH_SECRET.",
		}
	case jwt.AccessSecret == jwt.RefreshSecret:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     "Access and refresh tokens share a signing secret.",
			Remediation: "Use distinct secrets so a leaked refresh secret cannot mint access tokens.",
		}
	case length < minSecretLength:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: fmt.Sprintf("Use randomly generated secrets of at least %d bytes.", minSecretLength),
		}
	case length < recommendedSecretBytes:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes. Consider increasing to %d+ bytes.", length, recommendedSecretBytes),
			Remediation: "Rotate to longer secrets during the next maintenance window.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{
			ID:      "jwt_secret_strength",
			Status:  StatusPass,
			Message: fmt.Sprintf("JWT signing secrets are at least %d bytes.", length),
			Details: map[string]any{"length": length},
		}
	}
}

func (s *AuditService) checkRefreshTTL() Check {
	ttl := s.cfg.Auth.JWT.RefreshTokenTTL
	if ttl <= 0 {
		return Check{
			ID:      "refresh_token_ttl",
			Status:  StatusPass,
			Message: "Refresh token TTL uses the default duration.",
		}
	}
	if ttl > maxRecommendedRefresh {
		return Check{
			ID:          "refresh_token_ttl",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Refresh token TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommendedRefresh),
			Remediation: "Reduce the refresh token TTL to 30 days or lower.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}
	return Check{
		ID:      "refresh_token_ttl",
		Status:  StatusPass,
		Message: fmt.Sprintf("Refresh token TTL is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()},
	}
}

func (s *AuditService) checkEmailDelivery() Check {
	if s.cfg.Email.SMTP.Enabled {
		return Check{ID: "email_delivery", Status: StatusPass, Message: "SMTP delivery enabled."}
	}
	status := StatusWarn
	if s.cfg.Server.IsRelease() {
		status = StatusFail
	}
	return Check{
		ID:          "email_delivery",
		Status:      status,
		Message:     "SMTP is disabled; one-time codes are only written to the log.",
		Remediation: "Configure email.smtp before exposing registration.",
	}
}

func (s *AuditService) checkCollegeDomain() Check {
	domain := strings.TrimSpace(s.cfg.Registration.CollegeDomain)
	if domain == "" {
		return Check{
			ID:          "college_domain",
			Status:      StatusWarn,
			Message:     "Registration accepts any email domain.",
			Remediation: "Set registration.college_domain to restrict sign-ups to the campus.",
		}
	}
	return Check{
		ID:      "college_domain",
		Status:  StatusPass,
		Message: fmt.Sprintf("Registration restricted to %s.", domain),
	}
}

func (s *AuditService) checkCORSOrigins() Check {
	origins := s.cfg.Server.CORSOrigins
	wildcard := len(origins) == 0
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			wildcard = true
		}
	}
	if wildcard {
		return Check{
			ID:          "cors_origins",
			Status:      StatusWarn,
			Message:     "CORS allows every origin.",
			Remediation: "List the web client origins explicitly in server.cors_origins.",
		}
	}
	return Check{ID: "cors_origins", Status: StatusPass, Message: "CORS origins are explicit."}
}

func (s *AuditService) checkRateLimit() Check {
	if s.cfg.RateLimit.Enabled && s.cfg.RateLimit.Requests > 0 {
		return Check{
			ID:      "auth_rate_limit",
			Status:  StatusPass,
			Message: fmt.Sprintf("Auth endpoints limited to %d requests per %s.", s.cfg.RateLimit.Requests, s.cfg.RateLimit.Window),
		}
	}
	return Check{
		ID:          "auth_rate_limit",
		Status:      StatusWarn,
		Message:     "Auth endpoints are not rate limited.",
		Remediation: "Enable rate_limit to slow down credential and code guessing.",
	}
}

func (s *AuditService) checkOTPPolicy() Check {
	reg := s.cfg.Registration
	if (reg.OTPLength > 0 && reg.OTPLength < minRecommendedOTP) || reg.MaxAttempts > maxRecommendedAttempts {
		return Check{
			ID:          "otp_policy",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("One-time codes use %d digits with %d attempts.", reg.OTPLength, reg.MaxAttempts),
			Remediation: fmt.Sprintf("Use at least %d digits and no more than %d attempts.", minRecommendedOTP, maxRecommendedAttempts),
		}
	}
	return Check{ID: "otp_policy", Status: StatusPass, Message: "One-time code policy within baseline."}
}
