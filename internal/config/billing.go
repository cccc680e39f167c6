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

// BillingConfig holds the tunable knobs of the credit engine. The credit
// exchange rate itself (1 credit = $0.01) is fixed and deliberately absent:
// historic usage records embed it.
type BillingConfig struct {
	// LowBalanceRatio is the fraction of total credits at or below which a
	// credits.low intent fires after a deduction.
	LowBalanceRatio float64 `mapstructure:"lowBalanceRatio"`

	// PricingCacheTTL bounds staleness of cached pricing rows between
	// explicit admin invalidations.
	PricingCacheTTL time.Duration `mapstructure:"pricingCacheTTL"`

	// ModelMetaCacheTTL bounds staleness of cached model metadata.
	ModelMetaCacheTTL time.Duration `mapstructure:"modelMetaCacheTTL"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		LowBalanceRatio:   0.10,
		PricingCacheTTL:   10 * time.Minute,
		ModelMetaCacheTTL: 10 * time.Minute,
	}
}

// BillingConfigHolder exposes the current billing config with hot reload.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/inferbill/config")
	v.AddConfigPath("/etc/inferbill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INFERBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.lowBalanceRatio", defaults.LowBalanceRatio)
	v.SetDefault("billing.pricingCacheTTL", defaults.PricingCacheTTL)
	v.SetDefault("billing.modelMetaCacheTTL", defaults.ModelMetaCacheTTL)

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

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// NewStaticBillingConfigHolder returns a holder pinned to cfg, for tests.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.LowBalanceRatio <= 0 || cfg.LowBalanceRatio > 1 {
		return errors.New("billing.lowBalanceRatio must be in (0, 1]")
	}
	if cfg.PricingCacheTTL <= 0 {
		return errors.New("billing.pricingCacheTTL must be positive")
	}
	if cfg.ModelMetaCacheTTL <= 0 {
		return errors.New("billing.modelMetaCacheTTL must be positive")
	}
	return nil
}
