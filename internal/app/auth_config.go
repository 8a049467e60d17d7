package app

import (
	"github.com/teatalks/teatalks/internal/auth"
	"github.com/teatalks/teatalks/internal/services"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	accessTTL := c.JWT.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = auth.DefaultAccessTokenTTL
	}
	refreshTTL := c.JWT.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = auth.DefaultRefreshTokenTTL
	}

	return auth.JWTConfig{
		AccessSecret:    c.JWT.AccessSecret,
		RefreshSecret:   c.JWT.RefreshSecret,
		Issuer:          c.JWT.Issuer,
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: refreshTTL,
	}
}

// OTPPolicy converts RegistrationConfig into the code policy shared by sign-up and
// password reset. Zero values fall back to the service defaults.
func (c RegistrationConfig) OTPPolicy() services.OTPPolicy {
	return services.OTPPolicy{
		Length:      c.OTPLength,
		TTL:         c.OTPTTL,
		MaxAttempts: c.MaxAttempts,
		HashCost:    c.HashCost,
	}
}
