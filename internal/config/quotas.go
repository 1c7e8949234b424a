package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TierQuota maps resource kinds to a per-cycle limit. A negative limit
// means unlimited.
type TierQuota struct {
	DataPoints        int64 `mapstructure:"dataPoints"`
	SatelliteAnalyses int64 `mapstructure:"satelliteAnalyses"`
	ReportExports     int64 `mapstructure:"reportExports"`
}

// QuotaConfig holds per-tier quota limits.
type QuotaConfig struct {
	Free       TierQuota `mapstructure:"free"`
	Pro        TierQuota `mapstructure:"pro"`
	Enterprise TierQuota `mapstructure:"enterprise"`
}

func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Free:       TierQuota{DataPoints: 50, SatelliteAnalyses: 25, ReportExports: 10},
		Pro:        TierQuota{DataPoints: 5000, SatelliteAnalyses: 1000, ReportExports: 200},
		Enterprise: TierQuota{DataPoints: -1, SatelliteAnalyses: -1, ReportExports: -1},
	}
}

// QuotaConfigHolder exposes the current quota config and reloads it when
// the backing file changes.
type QuotaConfigHolder struct {
	current atomic.Value // holds QuotaConfig
}

func NewQuotaConfigHolder(log *zap.Logger) (*QuotaConfigHolder, error) {
	log = log.Named("config.quotas")
	v := viper.New()

	v.SetConfigName("quotas")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/fieldscope/config")
	v.AddConfigPath("/etc/fieldscope")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FIELDSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &QuotaConfigHolder{}

	load := func() {
		cfg := DefaultQuotaConfig()
		if err := v.UnmarshalKey("quotas", &cfg); err != nil {
			log.Warn("quota config unmarshal failed, keeping previous", zap.Error(err))
			return
		}
		holder.current.Store(cfg)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultQuotaConfig())
	} else {
		load()
	}
	if holder.current.Load() == nil {
		holder.current.Store(DefaultQuotaConfig())
	}

	v.OnConfigChange(func(fsnotify.Event) { load() })
	v.WatchConfig()

	return holder, nil
}

// NewStaticQuotaConfigHolder wraps a fixed config without file watching.
func NewStaticQuotaConfigHolder(cfg QuotaConfig) *QuotaConfigHolder {
	holder := &QuotaConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// Current returns the active quota config.
func (h *QuotaConfigHolder) Current() QuotaConfig {
	if cfg, ok := h.current.Load().(QuotaConfig); ok {
		return cfg
	}
	return DefaultQuotaConfig()
}

// Limit returns the per-cycle limit for a tier and resource. Unknown
// tiers fall back to free.
func (q QuotaConfig) Limit(tier, resource string) int64 {
	var t TierQuota
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "enterprise":
		t = q.Enterprise
	case "pro":
		t = q.Pro
	default:
		t = q.Free
	}
	switch resource {
	case "data_points":
		return t.DataPoints
	case "satellite_analyses":
		return t.SatelliteAnalyses
	case "report_exports":
		return t.ReportExports
	default:
		return 0
	}
}
