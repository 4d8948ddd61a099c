package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MeteringConfig holds the run cost policy and the reservation retry policy.
type MeteringConfig struct {
	DefaultRunCost CostConfig            `mapstructure:"defaultRunCost"`
	PlanRunCosts   map[string]CostConfig `mapstructure:"planRunCosts"`
	Reservation    ReservationConfig     `mapstructure:"reservation"`
}

type CostConfig struct {
	Credits int64 `mapstructure:"credits"`
	Actions int64 `mapstructure:"actions"`
}

type ReservationConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	BaseBackoff time.Duration `mapstructure:"baseBackoff"`
	MaxBackoff  time.Duration `mapstructure:"maxBackoff"`
}

func DefaultMeteringConfig() MeteringConfig {
	return MeteringConfig{
		DefaultRunCost: CostConfig{Credits: 5, Actions: 1},
		PlanRunCosts:   map[string]CostConfig{},
		Reservation: ReservationConfig{
			MaxAttempts: 8,
			BaseBackoff: 5 * time.Millisecond,
			MaxBackoff:  250 * time.Millisecond,
		},
	}
}

// PlanCost returns the per-plan override for plan, if one is configured.
func (m MeteringConfig) PlanCost(plan string) (CostConfig, bool) {
	cost, ok := m.PlanRunCosts[strings.ToUpper(strings.TrimSpace(plan))]
	return cost, ok
}

type MeteringConfigHolder struct {
	current atomic.Value // holds MeteringConfig
}

// NewStaticMeteringConfigHolder returns a holder that never reloads.
func NewStaticMeteringConfigHolder(cfg MeteringConfig) *MeteringConfigHolder {
	holder := &MeteringConfigHolder{}
	holder.current.Store(normalizeMetering(cfg))
	return holder
}

// NewMeteringConfigHolder reads metering.yml and keeps it fresh on change.
func NewMeteringConfigHolder(cfg Config, log *zap.Logger) (*MeteringConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.metering")

	v := viper.New()
	if path := strings.TrimSpace(cfg.MeteringConfigPath); path != "" {
		v.SetConfigFile(filepath.Clean(path))
	} else {
		v.SetConfigName("metering")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/agentmarket")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AGENTMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMeteringConfig()
	v.SetDefault("metering.defaultRunCost.credits", defaults.DefaultRunCost.Credits)
	v.SetDefault("metering.defaultRunCost.actions", defaults.DefaultRunCost.Actions)
	v.SetDefault("metering.reservation.maxAttempts", defaults.Reservation.MaxAttempts)
	v.SetDefault("metering.reservation.baseBackoff", defaults.Reservation.BaseBackoff)
	v.SetDefault("metering.reservation.maxBackoff", defaults.Reservation.MaxBackoff)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read metering config: %w", err)
		}
		fileLoaded = false
	}

	var current MeteringConfig
	if err := v.UnmarshalKey("metering", &current); err != nil {
		return nil, fmt.Errorf("decode metering config: %w", err)
	}
	current = normalizeMetering(withMeteringDefaults(current))
	if err := ValidateMetering(current); err != nil {
		return nil, err
	}

	holder := &MeteringConfigHolder{}
	holder.current.Store(current)

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated MeteringConfig
			if err := v.UnmarshalKey("metering", &updated); err != nil {
				log.Warn("metering config reload failed", zap.Error(err))
				return
			}
			updated = normalizeMetering(withMeteringDefaults(updated))
			if err := ValidateMetering(updated); err != nil {
				log.Warn("invalid metering config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("metering config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *MeteringConfigHolder) Get() MeteringConfig {
	if h == nil {
		return DefaultMeteringConfig()
	}
	value, ok := h.current.Load().(MeteringConfig)
	if !ok {
		return DefaultMeteringConfig()
	}
	return value
}

func ValidateMetering(cfg MeteringConfig) error {
	if cfg.DefaultRunCost.Credits < 0 || cfg.DefaultRunCost.Actions < 0 {
		return errors.New("metering.defaultRunCost must not be negative")
	}
	if cfg.DefaultRunCost.Credits == 0 && cfg.DefaultRunCost.Actions == 0 {
		return errors.New("metering.defaultRunCost must consume at least one resource")
	}
	for plan, cost := range cfg.PlanRunCosts {
		if cost.Credits < 0 || cost.Actions < 0 {
			return fmt.Errorf("metering.planRunCosts.%s must not be negative", plan)
		}
	}
	if cfg.Reservation.MaxAttempts <= 0 {
		return errors.New("metering.reservation.maxAttempts must be positive")
	}
	if cfg.Reservation.BaseBackoff < 0 || cfg.Reservation.MaxBackoff < cfg.Reservation.BaseBackoff {
		return errors.New("metering.reservation backoff window is invalid")
	}
	return nil
}

func normalizeMetering(cfg MeteringConfig) MeteringConfig {
	costs := make(map[string]CostConfig, len(cfg.PlanRunCosts))
	for plan, cost := range cfg.PlanRunCosts {
		costs[strings.ToUpper(strings.TrimSpace(plan))] = cost
	}
	cfg.PlanRunCosts = costs
	return cfg
}

func withMeteringDefaults(cfg MeteringConfig) MeteringConfig {
	defaults := DefaultMeteringConfig()
	if cfg.DefaultRunCost.Credits == 0 && cfg.DefaultRunCost.Actions == 0 {
		cfg.DefaultRunCost = defaults.DefaultRunCost
	}
	if cfg.Reservation.MaxAttempts == 0 {
		cfg.Reservation.MaxAttempts = defaults.Reservation.MaxAttempts
	}
	if cfg.Reservation.BaseBackoff == 0 {
		cfg.Reservation.BaseBackoff = defaults.Reservation.BaseBackoff
	}
	if cfg.Reservation.MaxBackoff == 0 {
		cfg.Reservation.MaxBackoff = defaults.Reservation.MaxBackoff
	}
	return cfg
}
