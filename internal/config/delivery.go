package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DeliveryPolicyBestEffort       = "best_effort"
	DeliveryPolicyRetryWithBackoff = "retry_with_backoff"

	ClaimModeHeld  = "held"
	ClaimModeLease = "lease"
)

// DeliveryConfig is the hot-reloadable part of the delivery worker settings.
type DeliveryConfig struct {
	Policy          string        `mapstructure:"policy"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBase       time.Duration `mapstructure:"retry_base"`
	RetryMax        time.Duration `mapstructure:"retry_max"`
	IdleInterval    time.Duration `mapstructure:"idle_interval"`
	ErrorBackoff    time.Duration `mapstructure:"error_backoff"`
	ClaimMode       string        `mapstructure:"claim_mode"`
	LeaseTTL        time.Duration `mapstructure:"lease_ttl"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		Policy:          DeliveryPolicyBestEffort,
		MaxAttempts:     5,
		RetryBase:       30 * time.Second,
		RetryMax:        30 * time.Minute,
		IdleInterval:    10 * time.Second,
		ErrorBackoff:    time.Second,
		ClaimMode:       ClaimModeHeld,
		LeaseTTL:        5 * time.Minute,
		DeliveryTimeout: 30 * time.Second,
	}
}

type DeliveryConfigHolder struct {
	current atomic.Value // holds DeliveryConfig
}

// NewStaticDeliveryConfigHolder returns a holder that never reloads.
func NewStaticDeliveryConfigHolder(cfg DeliveryConfig) *DeliveryConfigHolder {
	holder := &DeliveryConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewDeliveryConfigHolder(cfg Config, log *zap.Logger) (*DeliveryConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.delivery")

	v := viper.New()
	if cfg.DeliveryConfigFile != "" {
		v.SetConfigFile(cfg.DeliveryConfigFile)
	} else {
		v.SetConfigName("delivery")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/newsletter")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DELIVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDeliveryConfig()
	v.SetDefault("policy", defaults.Policy)
	v.SetDefault("max_attempts", defaults.MaxAttempts)
	v.SetDefault("retry_base", defaults.RetryBase)
	v.SetDefault("retry_max", defaults.RetryMax)
	v.SetDefault("idle_interval", defaults.IdleInterval)
	v.SetDefault("error_backoff", defaults.ErrorBackoff)
	v.SetDefault("claim_mode", defaults.ClaimMode)
	v.SetDefault("lease_ttl", defaults.LeaseTTL)
	v.SetDefault("delivery_timeout", defaults.DeliveryTimeout)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read delivery config: %w", err)
		}
		fileLoaded = false
	}

	var current DeliveryConfig
	if err := v.Unmarshal(&current); err != nil {
		return nil, fmt.Errorf("decode delivery config: %w", err)
	}
	if err := ValidateDeliveryConfig(current); err != nil {
		return nil, err
	}

	holder := NewStaticDeliveryConfigHolder(current)
	if !fileLoaded {
		log.Info("delivery config file not found, using defaults", zap.String("policy", current.Policy))
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DeliveryConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("delivery config reload failed", zap.Error(err))
			return
		}
		if err := ValidateDeliveryConfig(updated); err != nil {
			log.Warn("invalid delivery config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("delivery config reloaded",
			zap.String("file", e.Name),
			zap.String("policy", updated.Policy),
			zap.String("claim_mode", updated.ClaimMode),
		)
	})
	v.WatchConfig()

	return holder, nil
}

func (h *DeliveryConfigHolder) Get() DeliveryConfig {
	return h.current.Load().(DeliveryConfig)
}

func ValidateDeliveryConfig(cfg DeliveryConfig) error {
	switch cfg.Policy {
	case DeliveryPolicyBestEffort, DeliveryPolicyRetryWithBackoff:
	default:
		return fmt.Errorf("delivery.policy %q is not supported", cfg.Policy)
	}
	switch cfg.ClaimMode {
	case ClaimModeHeld, ClaimModeLease:
	default:
		return fmt.Errorf("delivery.claim_mode %q is not supported", cfg.ClaimMode)
	}
	if cfg.MaxAttempts < 1 {
		return errors.New("delivery.max_attempts must be at least 1")
	}
	if cfg.IdleInterval <= 0 || cfg.ErrorBackoff <= 0 {
		return errors.New("delivery.idle_interval and delivery.error_backoff must be positive")
	}
	if cfg.ClaimMode == ClaimModeLease {
		if cfg.LeaseTTL <= 0 {
			return errors.New("delivery.lease_ttl must be positive in lease mode")
		}
		// A send must end before its lease can be taken over.
		if cfg.DeliveryTimeout <= 0 || cfg.DeliveryTimeout >= cfg.LeaseTTL {
			return errors.New("delivery.delivery_timeout must be positive and shorter than delivery.lease_ttl in lease mode")
		}
	}
	return nil
}
