package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ticvision/portal/pkg/logger"
	"github.com/ticvision/portal/pkg/metrics"
)

const (
	defaultAuditRetentionDays = 90
	defaultExpirySpec         = "@hourly"
	defaultCacheSpec          = "@hourly"
	defaultAuditSpec          = "@daily"
)

// Job names reported in logs and metrics.
const (
	JobExpireConfirmations = "expire_confirmations"
	JobPruneCache          = "prune_cache"
	JobAuditRetention      = "audit_retention"
)

// ConfirmationExpirer transitions stale confirmation requests to Expired.
type ConfirmationExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// CachePruner deletes cache rows whose expiry lies before the given instant.
type CachePruner interface {
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
}

// AuditPruner removes audit entries older than the retention window.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// Cleaner coordinates background maintenance tasks: expiring stale
// confirmation requests, pruning the cache table and enforcing audit retention.
type Cleaner struct {
	confirmations ConfirmationExpirer
	cache         CachePruner
	audit         AuditPruner
	cron          *cron.Cron
	now           func() time.Time
	log           *zap.Logger
	retention     int

	expirySchedule string
	cacheSchedule  string
	auditSchedule  string
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

// WithNow overrides the clock used for cache expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithCachePruner enables pruning of the database-backed cache.
func WithCachePruner(pruner CachePruner) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = pruner
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithExpirySchedule overrides the cron specification for the confirmation sweeper.
func WithExpirySchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.expirySchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache pruning.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding cleanup job being skipped.
func NewCleaner(confirmations ConfirmationExpirer, audit AuditPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		confirmations:  confirmations,
		audit:          audit,
		now:            func() time.Time { return time.Now().UTC() },
		retention:      defaultAuditRetentionDays,
		expirySchedule: defaultExpirySpec,
		cacheSchedule:  defaultCacheSpec,
		auditSchedule:  defaultAuditSpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.confirmations != nil || c.cache != nil || (c.audit != nil && c.retention > 0)
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.confirmations != nil {
		if _, err := c.cron.AddFunc(c.expirySchedule, func() {
			_ = c.expireConfirmations(context.Background())
		}); err != nil {
			return err
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			_ = c.pruneCache(context.Background())
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			_ = c.enforceAuditRetention(context.Background())
		}); err != nil {
			return err
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

// RunOnce executes all configured cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.confirmations != nil {
		errs = multierr.Append(errs, c.expireConfirmations(ctx))
	}
	if c.cache != nil {
		errs = multierr.Append(errs, c.pruneCache(ctx))
	}
	if c.audit != nil && c.retention > 0 {
		errs = multierr.Append(errs, c.enforceAuditRetention(ctx))
	}

	return errs
}

func (c *Cleaner) expireConfirmations(ctx context.Context) error {
	count, err := c.confirmations.ExpireStale(ctx)
	return c.report(JobExpireConfirmations, count, err)
}

func (c *Cleaner) pruneCache(ctx context.Context) error {
	count, err := c.cache.PruneExpired(ctx, c.now())
	return c.report(JobPruneCache, count, err)
}

func (c *Cleaner) enforceAuditRetention(ctx context.Context) error {
	count, err := c.audit.CleanupOlderThan(ctx, c.retention)
	return c.report(JobAuditRetention, count, err)
}

func (c *Cleaner) report(job string, count int64, err error) error {
	if err != nil {
		metrics.MaintenanceRuns.WithLabelValues(job, "failure").Inc()
		c.log.Warn("maintenance job failed", zap.String("job", job), zap.Error(err))
		return err
	}
	metrics.MaintenanceRuns.WithLabelValues(job, "success").Inc()
	if count > 0 {
		c.log.Info("maintenance job completed", zap.String("job", job), zap.Int64("affected", count))
	}
	return nil
}
