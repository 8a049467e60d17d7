package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/teatalks/teatalks/internal/monitoring"
	"github.com/teatalks/teatalks/internal/services"
	"github.com/teatalks/teatalks/pkg/logger"
)

const (
	defaultSweepSpec     = "@every 15m"
	defaultReconcileSpec = "@daily"
	defaultCacheSpec     = "@hourly"
)

// Job names reported to the JobTracker.
const (
	JobExpirySweep      = "expiry_sweep"
	JobCachePurge       = "cache_purge"
	JobCounterReconcile = "counter_reconcile"
)

// Sweeper deletes records whose lifetime has passed and reports how many were removed.
type Sweeper interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Reconciler recomputes denormalised counters from their source tables.
type Reconciler interface {
	Reconcile(ctx context.Context) (services.ReconcileReport, error)
}

// Cleaner coordinates background maintenance: sweeping expired pending registrations and
// password resets, purging stale cache entries, and healing counter drift.
type Cleaner struct {
	sweepers   map[string]Sweeper
	cache      Sweeper
	reconciler Reconciler
	cron       *cron.Cron
	tracker    *monitoring.JobTracker
	log        *zap.Logger

	sweepSchedule     string
	reconcileSchedule string
	cacheSchedule     string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithTracker records every job run for health probes.
func WithTracker(t *monitoring.JobTracker) Option {
	return func(cleaner *Cleaner) {
		cleaner.tracker = t
	}
}

// WithSweeper registers a named expiry sweep; nil sweepers are ignored.
func WithSweeper(name string, sweeper Sweeper) Option {
	return func(cleaner *Cleaner) {
		if sweeper != nil {
			cleaner.sweepers[name] = sweeper
		}
	}
}

// WithCacheSweeper enables the cache purge job.
func WithCacheSweeper(sweeper Sweeper) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = sweeper
	}
}

// WithReconciler enables the counter reconciliation job.
func WithReconciler(r Reconciler) Option {
	return func(cleaner *Cleaner) {
		cleaner.reconciler = r
	}
}

// WithSweepSchedule overrides the cron specification for the expiry sweep.
func WithSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sweepSchedule = spec
		}
	}
}

// WithReconcileSchedule overrides the cron specification for counter reconciliation.
func WithReconcileSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.reconcileSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for the cache purge.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. Jobs whose dependency was not supplied are skipped.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sweepers:          make(map[string]Sweeper),
		sweepSchedule:     defaultSweepSpec,
		reconcileSchedule: defaultReconcileSpec,
		cacheSchedule:     defaultCacheSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	if len(cleaner.sweepers) > 0 {
		cleaner.tracker.Expect(JobExpirySweep)
	}
	if cleaner.cache != nil {
		cleaner.tracker.Expect(JobCachePurge)
	}
	if cleaner.reconciler != nil {
		cleaner.tracker.Expect(JobCounterReconcile)
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return len(c.sweepers) > 0 || c.cache != nil || c.reconciler != nil
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if len(c.sweepers) > 0 {
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() {
			if err := c.Sweep(context.Background()); err != nil {
				c.log.Warn("expiry sweep failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule sweep: %w", err)
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if err := c.PurgeCache(context.Background()); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule cache purge: %w", err)
		}
	}

	if c.reconciler != nil {
		if _, err := c.cron.AddFunc(c.reconcileSchedule, func() {
			if err := c.Reconcile(context.Background()); err != nil {
				c.log.Warn("counter reconciliation failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule reconciliation: %w", err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// Sweep runs every registered expiry sweep, continuing past failures.
func (c *Cleaner) Sweep(ctx context.Context) (errs error) {
	if len(c.sweepers) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer c.track(JobExpirySweep, time.Now(), &errs)

	for name, sweeper := range c.sweepers {
		removed, err := sweeper.PurgeExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweep %s: %w", name, err))
			continue
		}
		if removed > 0 {
			c.log.Info("expired records removed", zap.String("kind", name), zap.Int64("count", removed))
		}
	}
	return errs
}

func (c *Cleaner) track(job string, start time.Time, err *error) {
	c.tracker.Record(job, *err, time.Since(start))
}

// PurgeCache drops expired cache entries.
func (c *Cleaner) PurgeCache(ctx context.Context) (err error) {
	if c.cache == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer c.track(JobCachePurge, time.Now(), &err)

	if _, err = c.cache.PurgeExpired(ctx); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	return nil
}

// Reconcile heals counter drift.
func (c *Cleaner) Reconcile(ctx context.Context) (err error) {
	if c.reconciler == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer c.track(JobCounterReconcile, time.Now(), &err)

	if _, err = c.reconciler.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile counters: %w", err)
	}
	return nil
}

// RunOnce executes all configured jobs sequentially. Used at startup and in tests.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	return multierr.Combine(
		c.Sweep(ctx),
		c.PurgeCache(ctx),
		c.Reconcile(ctx),
	)
}
