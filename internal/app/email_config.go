package app

import (
	"strings"
	"time"

	"github.com/teatalks/teatalks/pkg/mail"
)

const (
	defaultSMTPPort    = 587
	implicitTLSPort    = 465
	defaultSMTPTimeout = 10 * time.Second
)

// SMTPSettings converts EmailConfig to the mail package representation. Port 465 implies
// implicit TLS.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	smtp := c.SMTP
	settings := mail.SMTPSettings{
		Enabled:  smtp.Enabled,
		Host:     strings.TrimSpace(smtp.Host),
		Port:     smtp.Port,
		Username: strings.TrimSpace(smtp.Username),
		Password: smtp.Password,
		From:     strings.TrimSpace(smtp.From),
		UseTLS:   smtp.UseTLS || smtp.Port == implicitTLSPort,
		Timeout:  smtp.Timeout,
	}
	if settings.Port == 0 {
		settings.Port = defaultSMTPPort
	}
	if settings.Timeout <= 0 {
		settings.Timeout = defaultSMTPTimeout
	}
	return settings
}
