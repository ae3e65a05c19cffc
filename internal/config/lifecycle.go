package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	ChargeModeInternal = "internal"
	ChargeModeGateway  = "gateway"
)

// LifecycleConfig is the hot-reloadable lifecycle policy read from lifecycle.yml.
type LifecycleConfig struct {
	Renewal RenewalPolicy `mapstructure:"renewal"`
	Limits  LimitsPolicy  `mapstructure:"limits"`
}

type RenewalPolicy struct {
	// ChargeMode is internal (renewal settles immediately) or gateway (a fresh
	// charge intent is created and the transaction stays pending).
	ChargeMode string `mapstructure:"chargeMode"`
	BatchSize  int    `mapstructure:"batchSize"`
}

type LimitsPolicy struct {
	PlanCacheTTL time.Duration `mapstructure:"planCacheTTL"`
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		Renewal: RenewalPolicy{
			ChargeMode: ChargeModeInternal,
			BatchSize:  100,
		},
		Limits: LimitsPolicy{
			PlanCacheTTL: 5 * time.Minute,
		},
	}
}

type LifecycleConfigHolder struct {
	current atomic.Value // holds LifecycleConfig
}

// NewStaticLifecycleConfigHolder returns a holder that never reloads.
func NewStaticLifecycleConfigHolder(cfg LifecycleConfig) *LifecycleConfigHolder {
	holder := &LifecycleConfigHolder{}
	holder.current.Store(normalizeLifecycleConfig(cfg))
	return holder
}

func NewLifecycleConfigHolder(log *zap.Logger) (*LifecycleConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("lifecycle-config")

	v := viper.New()

	v.SetConfigName("lifecycle")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/sitebill/config")
	v.AddConfigPath("/etc/sitebill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SITEBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLifecycleConfig()
	v.SetDefault("renewal.chargeMode", defaults.Renewal.ChargeMode)
	v.SetDefault("renewal.batchSize", defaults.Renewal.BatchSize)
	v.SetDefault("limits.planCacheTTL", defaults.Limits.PlanCacheTTL)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var cfg LifecycleConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg = normalizeLifecycleConfig(cfg)
	if err := validateLifecycleConfig(cfg); err != nil {
		return nil, err
	}

	holder := &LifecycleConfigHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		log.Info("lifecycle.yml not found, using defaults")
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated LifecycleConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		updated = normalizeLifecycleConfig(updated)
		if err := validateLifecycleConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *LifecycleConfigHolder) Get() LifecycleConfig {
	if h == nil {
		return DefaultLifecycleConfig()
	}
	cfg, ok := h.current.Load().(LifecycleConfig)
	if !ok {
		return DefaultLifecycleConfig()
	}
	return cfg
}

func normalizeLifecycleConfig(cfg LifecycleConfig) LifecycleConfig {
	cfg.Renewal.ChargeMode = strings.ToLower(strings.TrimSpace(cfg.Renewal.ChargeMode))
	if cfg.Renewal.ChargeMode == "" {
		cfg.Renewal.ChargeMode = ChargeModeInternal
	}
	return cfg
}

func validateLifecycleConfig(cfg LifecycleConfig) error {
	switch cfg.Renewal.ChargeMode {
	case ChargeModeInternal, ChargeModeGateway:
	default:
		return fmt.Errorf("renewal.chargeMode %q must be %q or %q", cfg.Renewal.ChargeMode, ChargeModeInternal, ChargeModeGateway)
	}
	if cfg.Renewal.BatchSize < 0 {
		return errors.New("renewal.batchSize cannot be negative")
	}
	if cfg.Limits.PlanCacheTTL < 0 {
		return errors.New("limits.planCacheTTL cannot be negative")
	}
	return nil
}
