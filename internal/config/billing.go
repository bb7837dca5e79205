package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig tunes the billing state-transition engine.
type BillingConfig struct {
	IdempotencyTTL           time.Duration `mapstructure:"idempotencyTTL"`
	ProcessingTimeout        time.Duration `mapstructure:"processingTimeout"`
	AssignStatementTimeout   time.Duration `mapstructure:"assignStatementTimeout"`
	LifecycleStatementTimeout time.Duration `mapstructure:"lifecycleStatementTimeout"`
	DefaultGraceDays         int           `mapstructure:"defaultGraceDays"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		IdempotencyTTL:            time.Hour,
		ProcessingTimeout:         5 * time.Minute,
		AssignStatementTimeout:    10 * time.Second,
		LifecycleStatementTimeout: 30 * time.Second,
		DefaultGraceDays:          7,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewBillingConfigHolder loads billing.yml and keeps it hot-reloaded.
func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/pressplane/config")
	v.AddConfigPath("/etc/pressplane")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PRESSPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.idempotencyTTL", defaults.IdempotencyTTL)
	v.SetDefault("billing.processingTimeout", defaults.ProcessingTimeout)
	v.SetDefault("billing.assignStatementTimeout", defaults.AssignStatementTimeout)
	v.SetDefault("billing.lifecycleStatementTimeout", defaults.LifecycleStatementTimeout)
	v.SetDefault("billing.defaultGraceDays", defaults.DefaultGraceDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed config, used by tests.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("billing.idempotencyTTL must be positive")
	}
	if cfg.ProcessingTimeout <= 0 {
		return errors.New("billing.processingTimeout must be positive")
	}
	if cfg.AssignStatementTimeout <= 0 {
		return errors.New("billing.assignStatementTimeout must be positive")
	}
	if cfg.LifecycleStatementTimeout <= 0 {
		return errors.New("billing.lifecycleStatementTimeout must be positive")
	}
	if cfg.DefaultGraceDays <= 0 {
		return errors.New("billing.defaultGraceDays must be positive")
	}
	return nil
}
