package app

import (
	"strings"

	"github.com/teatalks/teatalks/pkg/logger"
)

// ConfigureLogging initialises the global logger, defaulting to info. Debug mode switches
// stdout to the console encoder.
func ConfigureLogging(cfg LogConfig, mode string) error {
	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	return logger.InitWithOptions(logger.Options{
		Level:        level,
		Development:  strings.EqualFold(strings.TrimSpace(mode), ModeDebug),
		File:         strings.TrimSpace(cfg.File),
		MaxAge:       cfg.MaxAge,
		RotationTime: cfg.RotationTime,
	})
}
