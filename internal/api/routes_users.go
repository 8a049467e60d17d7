package api

import (
	"github.com/gin-gonic/gin"

	"github.com/teatalks/teatalks/internal/handlers"
)

type userRouteDeps struct {
	Auth        *handlers.AuthHandler
	Users       *handlers.UserHandler
	RequireAuth gin.HandlerFunc
	// Limiter guards credential and code endpoints; nil disables it.
	Limiter gin.HandlerFunc
}

func registerUserRoutes(api *gin.RouterGroup, deps userRouteDeps) {
	limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if deps.Limiter == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{deps.Limiter, h}
	}

	users := api.Group("/users")
	{
		users.POST("/register", limited(deps.Auth.Register)...)
		users.POST("/verify-otp", limited(deps.Auth.VerifyOTP)...)
		users.POST("/resend-otp", limited(deps.Auth.ResendOTP)...)
		users.POST("/login", limited(deps.Auth.Login)...)
		users.POST("/forgot-password", limited(deps.Auth.ForgotPassword)...)
		users.POST("/reset-password", limited(deps.Auth.ResetPassword)...)
		users.POST("/refresh-token", deps.Auth.RefreshToken)
		users.GET("/platform-stats", deps.Users.PlatformStats)
	}

	authed := users.Group("")
	authed.Use(deps.RequireAuth)
	{
		authed.POST("/logout", deps.Auth.Logout)
		authed.GET("/me", deps.Users.Me)
		authed.PATCH("/update-bio", deps.Users.UpdateBio)
		authed.GET("/profile/:username", deps.Users.Profile)
	}
}
