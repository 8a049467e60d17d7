package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teatalks/teatalks/pkg/crypto"
)

const jwtSecretBytes = 48

// ErrMissingSecrets is returned in release mode when token secrets are not configured.
var ErrMissingSecrets = errors.New("auth.jwt.access_secret and auth.jwt.refresh_secret must be set in release mode")

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
// Release mode never generates secrets: tokens would not survive a restart.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	jwt := &cfg.Auth.JWT
	missing := strings.TrimSpace(jwt.AccessSecret) == "" || strings.TrimSpace(jwt.RefreshSecret) == ""
	if missing && cfg.Server.IsRelease() {
		return nil, ErrMissingSecrets
	}
	if jwt.AccessSecret != "" && jwt.AccessSecret == jwt.RefreshSecret {
		return nil, fmt.Errorf("auth.jwt.access_secret and auth.jwt.refresh_secret must differ")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(jwt.AccessSecret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate access secret: %w", err)
		}
		jwt.AccessSecret = secret
		generated["auth.jwt.access_secret"] = true
	}

	if strings.TrimSpace(jwt.RefreshSecret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate refresh secret: %w", err)
		}
		jwt.RefreshSecret = secret
		generated["auth.jwt.refresh_secret"] = true
	}

	return generated, nil
}
