package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/teatalks/teatalks/pkg/crypto"
	"github.com/teatalks/teatalks/pkg/errors"
	"github.com/teatalks/teatalks/pkg/logger"
	"github.com/teatalks/teatalks/pkg/response"
)

const (
	// CSRFCookieName is the cookie used to transport the CSRF token to clients.
	CSRFCookieName = "teatalks_csrf"
	// CSRFHeaderName is the header clients must echo on mutating requests.
	CSRFHeaderName = "X-CSRF-Token"

	csrfTokenBytes = 32
	defaultCSRFTTL = 12 * time.Hour
)

// CSRFOptions tunes the CSRF cookie.
type CSRFOptions struct {
	// Secure forces the Secure attribute; otherwise it follows the request scheme.
	Secure bool
	Domain string
	TTL    time.Duration
}

type csrfGuard struct {
	opts CSRFOptions
	log  *zap.Logger
}

// CSRF protects cookie-authenticated clients with a double-submit token. GET and HEAD
// responses carry the token in a readable cookie and the X-CSRF-Token header; POST, PUT,
// PATCH and DELETE must send it back in the header. Bearer clients are exempt since
// browsers never attach an Authorization header on their own.
func CSRF(opts CSRFOptions) gin.HandlerFunc {
	if opts.TTL <= 0 {
		opts.TTL = defaultCSRFTTL
	}
	guard := &csrfGuard{opts: opts, log: logger.WithModule("csrf")}
	return guard.handle
}

func (g *csrfGuard) handle(c *gin.Context) {
	if c.Request.Method == http.MethodOptions || hasBearerHeader(c) {
		c.Next()
		return
	}

	cookieToken, _ := c.Cookie(CSRFCookieName)
	cookieToken = strings.TrimSpace(cookieToken)

	if !mutates(c.Request.Method) {
		token := cookieToken
		if token == "" {
			fresh, err := crypto.GenerateToken(csrfTokenBytes)
			if err != nil {
				response.Error(c, errors.ErrInternalServer.WithInternal(err))
				c.Abort()
				return
			}
			token = fresh
		}
		g.writeCookie(c, token)
		c.Header(CSRFHeaderName, token)
		c.Next()
		return
	}

	headerToken := strings.TrimSpace(c.GetHeader(CSRFHeaderName))
	if reason := compareCSRF(cookieToken, headerToken); reason != "" {
		g.log.Warn("csrf validation failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("reason", reason),
		)
		response.Error(c, errors.ErrCSRFInvalid)
		c.Abort()
		return
	}

	c.Next()
}

func (g *csrfGuard) writeCookie(c *gin.Context, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Domain:   g.opts.Domain,
		MaxAge:   int(g.opts.TTL.Seconds()),
		Secure:   g.opts.Secure || isSecureRequest(c.Request),
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

// compareCSRF returns an empty string when the tokens match, otherwise a log-safe reason.
func compareCSRF(cookieToken, headerToken string) string {
	switch {
	case cookieToken == "":
		return "cookie_missing"
	case headerToken == "":
		return "header_missing"
	case len(cookieToken) != len(headerToken),
		subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1:
		return "mismatch"
	}
	return ""
}

func mutates(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
