package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/api"
	"github.com/teatalks/teatalks/internal/app"
	"github.com/teatalks/teatalks/internal/app/maintenance"
	iauth "github.com/teatalks/teatalks/internal/auth"
	"github.com/teatalks/teatalks/internal/cache"
	"github.com/teatalks/teatalks/internal/database"
	"github.com/teatalks/teatalks/internal/monitoring"
	"github.com/teatalks/teatalks/internal/monitoring/checks"
	"github.com/teatalks/teatalks/internal/security"
	"github.com/teatalks/teatalks/internal/services"
	"github.com/teatalks/teatalks/pkg/logger"
	"github.com/teatalks/teatalks/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Cache   cache.Store
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, cache, mail transport, maintenance jobs and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	gin.SetMode(ginMode(cfg.Server.Mode))
	auditConfiguration(cfg, log)

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Cache = selectCacheStore(cfg.Cache, stack.DB)

	mailer, err := selectMailer(cfg)
	if err != nil {
		return nil, err
	}
	sender := services.NewMailOTPSender(mailer, cfg.Registration.OTPPolicy().TTL)

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	var probes []monitoring.Check
	if cfg.Maintenance.Enabled {
		tracker := monitoring.NewJobTracker()
		stack.Cleaner, err = buildCleaner(cfg, stack.DB, stack.Cache, sender, tracker)
		if err != nil {
			return nil, err
		}
		if err := stack.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("startup maintenance failed", zap.Error(err))
		}
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
		probes = append(probes, checks.Maintenance(tracker, 0))
	}

	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, cfg, sender, stack.Cache, probes...)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func ginMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case app.ModeRelease:
		return gin.ReleaseMode
	case app.ModeTest:
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(dbCfg.Driver)))

	return db, nil
}

// selectCacheStore returns the configured cache; anything other than "memory" uses the database.
func selectCacheStore(cfg app.CacheConfig, db *gorm.DB) cache.Store {
	if strings.EqualFold(strings.TrimSpace(cfg.Driver), "memory") {
		return cache.NewMemoryStore()
	}
	return cache.NewDatabaseStore(db)
}

// selectMailer returns the SMTP mailer, or a log-only mailer outside release mode when SMTP is off.
func selectMailer(cfg *app.Config) (mail.Mailer, error) {
	if !cfg.Email.SMTP.Enabled {
		if cfg.Server.IsRelease() {
			return nil, errors.New("email.smtp must be enabled in release mode")
		}
		logger.WithModule("bootstrap").Warn("smtp disabled; one-time codes will be written to the log")
		return mail.NewLogMailer(logger.WithModule("mail")), nil
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	return mailer, nil
}

// auditConfiguration logs every security finding; it never blocks startup.
func auditConfiguration(cfg *app.Config, log *zap.Logger) {
	result := security.NewAuditService(cfg).Run()
	for _, finding := range result.Findings() {
		fields := []zap.Field{
			zap.String("check", finding.ID),
			zap.String("status", string(finding.Status)),
			zap.String("remediation", finding.Remediation),
		}
		if finding.Status == security.StatusFail {
			log.Error(finding.Message, fields...)
			continue
		}
		log.Warn(finding.Message, fields...)
	}
}

func buildCleaner(cfg *app.Config, db *gorm.DB, store cache.Store, sender services.OTPSender, tracker *monitoring.JobTracker) (*maintenance.Cleaner, error) {
	policy := cfg.Registration.OTPPolicy()

	registrations, err := services.NewRegistrationService(db, sender, services.WithRegistrationPolicy(policy))
	if err != nil {
		return nil, err
	}
	resets, err := services.NewPasswordResetService(db, sender, services.WithPasswordResetPolicy(policy))
	if err != nil {
		return nil, err
	}
	reconciler, err := services.NewCounterReconciler(db)
	if err != nil {
		return nil, err
	}

	opts := []maintenance.Option{
		maintenance.WithTracker(tracker),
		maintenance.WithSweeper("pending_registrations", registrations),
		maintenance.WithSweeper("password_resets", resets),
		maintenance.WithReconciler(reconciler),
		maintenance.WithSweepSchedule(cfg.Maintenance.SweepSchedule),
		maintenance.WithReconcileSchedule(cfg.Maintenance.ReconcileSchedule),
		maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
	}
	if dbStore, ok := store.(*cache.DatabaseStore); ok {
		opts = append(opts, maintenance.WithCacheSweeper(dbStore))
	}

	return maintenance.NewCleaner(opts...), nil
}
