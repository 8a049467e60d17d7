package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/teatalks/teatalks/internal/middleware"
	appErrors "github.com/teatalks/teatalks/pkg/errors"
	"github.com/teatalks/teatalks/pkg/logger"
	"github.com/teatalks/teatalks/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID returns the authenticated caller. It writes a 401 and reports false when
// the route was reached without credentials.
func currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// respondError renders err and logs anything that maps to a server error.
func respondError(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.WithModule("handlers").Error("request failed",
			zap.String("request_id", c.GetString(middleware.CtxRequestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", appErr.Code),
			zap.Error(err))
	}
	response.Error(c, appErr)
}
