package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/app"
	iauth "github.com/teatalks/teatalks/internal/auth"
	"github.com/teatalks/teatalks/internal/cache"
	"github.com/teatalks/teatalks/internal/handlers"
	"github.com/teatalks/teatalks/internal/middleware"
	"github.com/teatalks/teatalks/internal/monitoring"
	"github.com/teatalks/teatalks/internal/monitoring/checks"
	"github.com/teatalks/teatalks/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers every route under /api/v1.
// The database probe is always part of /health; extra probes are appended after it.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, sender services.OTPSender, store cache.Store, probes ...monitoring.Check) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if sender == nil {
		return nil, fmt.Errorf("otp sender must be provided")
	}
	if store == nil {
		store = cache.NewMemoryStore()
	}

	svc, err := newServiceSet(db, jwt, cfg, sender, store)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))
	cookies := cookieSettings(cfg)
	if cfg.Server.CSRF.Enabled {
		r.Use(middleware.CSRF(middleware.CSRFOptions{Secure: cookies.Secure, Domain: cookies.Domain}))
	}

	health := monitoring.NewHealthManager(checks.Database(db, 0))
	for _, probe := range probes {
		health.Register(probe)
	}

	r.GET("/health", handlers.Health(health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	requireAuth := middleware.Auth(jwt)

	var limiter gin.HandlerFunc
	if cfg.RateLimit.Enabled && cfg.RateLimit.Requests > 0 {
		limiter = middleware.RateLimit(middleware.NewCacheRateStore(store), cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	registerUserRoutes(v1, userRouteDeps{
		Auth:        handlers.NewAuthHandler(svc.registration, svc.resets, svc.users, svc.tokens, cookies),
		Users:       handlers.NewUserHandler(svc.users, svc.profiles),
		RequireAuth: requireAuth,
		Limiter:     limiter,
	})

	registerContentRoutes(v1, contentRouteDeps{
		Posts:       handlers.NewPostHandler(svc.posts),
		Comments:    handlers.NewCommentHandler(svc.comments),
		Reactions:   handlers.NewReactionHandler(svc.reactions),
		RequireAuth: requireAuth,
	})

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func cookieSettings(cfg *app.Config) handlers.CookieSettings {
	return handlers.CookieSettings{
		Secure: cfg.Server.SecureCookies || cfg.Server.IsRelease(),
		Domain: cfg.Server.CookieDomain,
	}
}
