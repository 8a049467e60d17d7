package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/teatalks/teatalks/internal/auth"
	"github.com/teatalks/teatalks/pkg/errors"
	"github.com/teatalks/teatalks/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"

	// AccessTokenCookie carries the access token for browser clients.
	AccessTokenCookie = "accessToken"
	// RefreshTokenCookie carries the refresh token for browser clients.
	RefreshTokenCookie = "refreshToken"
)

// Auth enforces JWT authentication. The token is read from the Authorization header and,
// failing that, from the access token cookie.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized.WithMessage("Invalid or expired access token"))
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.Subject)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func hasBearerHeader(c *gin.Context) bool {
	authz := c.GetHeader("Authorization")
	return len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ")
}
