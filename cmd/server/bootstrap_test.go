package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teatalks/teatalks/internal/app"
	"github.com/teatalks/teatalks/internal/cache"
	"github.com/teatalks/teatalks/pkg/mail"
)

func testConfig() *app.Config {
	cfg := &app.Config{
		Server: app.ServerConfig{Mode: app.ModeTest},
		Database: app.DatabaseConfig{
			Driver: "sqlite",
			DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString()),
		},
		Cache:       app.CacheConfig{Driver: "database"},
		Maintenance: app.MaintenanceConfig{Enabled: true},
	}
	cfg.Auth.JWT.AccessSecret = "bootstrap-access"
	cfg.Auth.JWT.RefreshSecret = "bootstrap-refresh"
	return cfg
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	stack, err := bootstrapRuntime(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.Cleaner)
	require.IsType(t, &cache.DatabaseStore{}, stack.Cache)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	stack.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"component":"maintenance"`)
}

func TestBootstrapRuntimeWithoutMaintenance(t *testing.T) {
	cfg := testConfig()
	cfg.Maintenance.Enabled = false
	cfg.Cache.Driver = "memory"

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.Nil(t, stack.Cleaner)
	require.IsType(t, &cache.MemoryStore{}, stack.Cache)
}

func TestBootstrapRuntimeRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = "oracle"

	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unsupported database driver")
}

func TestSelectMailer(t *testing.T) {
	cfg := testConfig()

	mailer, err := selectMailer(cfg)
	require.NoError(t, err)
	require.IsType(t, &mail.LogMailer{}, mailer)

	cfg.Server.Mode = app.ModeRelease
	_, err = selectMailer(cfg)
	require.Error(t, err)

	cfg.Email.SMTP = app.SMTPConfig{Enabled: true, Host: "smtp.example.com", Port: 587, From: "no-reply@example.com"}
	mailer, err = selectMailer(cfg)
	require.NoError(t, err)
	require.NotNil(t, mailer)
}

func TestGinMode(t *testing.T) {
	require.Equal(t, "release", ginMode(app.ModeRelease))
	require.Equal(t, "test", ginMode("TEST"))
	require.Equal(t, "debug", ginMode(""))
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig("/definitely/not/here")
	require.ErrorContains(t, err, "does not exist")
}
