package scheduler

import (
	"time"

	"github.com/smallbiznis/sitebill/internal/config"
)

const (
	JobRenewDue     = "renew_due_subscriptions"
	JobExpireLapsed = "expire_lapsed_subscriptions"
)

// Config controls sweep cadence and batch shape.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	MaxBatches  int
	LockTTL     time.Duration
	LockKey     string
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		BatchSize:   100,
		JobTimeout:  5 * time.Minute,
		MaxBatches:  10,
		LockTTL:     10 * time.Minute,
		LockKey:     "sitebill:scheduler:sweep",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = defaults.MaxBatches
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.RunInterval,
		JobTimeout:  cfg.Scheduler.JobTimeout,
		LockTTL:     cfg.Scheduler.LockTTL,
	}.withDefaults()
}
