// Package config loads and defaults the cache, predictive-caching, and
// index-monitoring tunables: defaults, then a YAML overlay, then
// environment-variable overrides (env values take precedence over the
// file).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tachyon-beep/mnemosyne/utils/env"
)

// Config aggregates every tunable the core reads as a single YAML-tagged
// struct.
type Config struct {
	Cache        CacheConfig        `yaml:"cache"`
	Predictive   PredictiveConfig   `yaml:"predictive"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Optimization OptimizationConfig `yaml:"optimization"`
	Alerts       AlertsConfig       `yaml:"alerts"`
}

type CacheConfig struct {
	EnableQueryCaching       bool          `yaml:"enable_query_caching"`
	MaxMemoryUsageMB         int           `yaml:"max_memory_usage_mb"`
	QueryCacheTTL            time.Duration `yaml:"query_cache_ttl"`
	ParallelWorkers          int           `yaml:"parallel_workers"`
	BatchSize                int           `yaml:"batch_size"`
	EnableParallelProcessing bool          `yaml:"enable_parallel_processing"`
	EnableMemoryOptimization bool          `yaml:"enable_memory_optimization"`
	StreamingThreshold       int           `yaml:"streaming_threshold"`
}

type ResourceThresholds struct {
	MaxCPUUtilization float64 `yaml:"max_cpu_utilization"`
	MaxMemoryUsageMB  int     `yaml:"max_memory_usage_mb"`
	MaxDiskIOPS       int     `yaml:"max_disk_iops"`
}

type WarmingStrategy struct {
	Aggressiveness             string  `yaml:"aggressiveness"`
	MaxWarmingOperationsPerMin int     `yaml:"max_warming_operations_per_minute"`
	PriorityWeighting          float64 `yaml:"priority_weighting"`
}

type ModelsConfig struct {
	EnableSequenceAnalysis       bool `yaml:"enable_sequence_analysis"`
	EnableCollaborativeFiltering bool `yaml:"enable_collaborative_filtering"`
	EnableTemporalPatterns       bool `yaml:"enable_temporal_patterns"`
	EnableContextualPredictions  bool `yaml:"enable_contextual_predictions"`
}

type PredictiveConfig struct {
	Enabled                  bool               `yaml:"enabled"`
	LearningEnabled          bool               `yaml:"learning_enabled"`
	MaxPatternHistory        int                `yaml:"max_pattern_history"`
	MinPatternFrequency      int                `yaml:"min_pattern_frequency"`
	PredictionThreshold      float64            `yaml:"prediction_threshold"`
	MaxConcurrentPredictions int                `yaml:"max_concurrent_predictions"`
	ResourceThresholds       ResourceThresholds `yaml:"resource_thresholds"`
	WarmingStrategy          WarmingStrategy    `yaml:"warming_strategy"`
	Models                   ModelsConfig       `yaml:"models"`
}

type AlertThresholds struct {
	SlowQueryMs            int `yaml:"slow_query_ms"`
	UnusedIndexDays        int `yaml:"unused_index_days"`
	WriteImpactThreshold   int `yaml:"write_impact_threshold"`
	MemoryUsageThresholdMB int `yaml:"memory_usage_threshold_mb"`
}

type MonitoringConfig struct {
	Enabled         bool            `yaml:"enabled"`
	IntervalMinutes int             `yaml:"interval_minutes"`
	AlertThresholds AlertThresholds `yaml:"alert_thresholds"`
	RetentionDays   int             `yaml:"retention_days"`
}

type OptimizationConfig struct {
	AutoOptimizeEnabled        bool   `yaml:"auto_optimize_enabled"`
	AutoDropUnusedIndexes      bool   `yaml:"auto_drop_unused_indexes"`
	MaxConcurrentOptimizations int    `yaml:"max_concurrent_optimizations"`
	MaintenanceWindowHours     []int  `yaml:"maintenance_window_hours"`
	RiskTolerance              string `yaml:"risk_tolerance"`
}

type EscalationThreshold struct {
	Severity string `yaml:"severity"`
	AfterN   int    `yaml:"after_n"`
}

type AlertsConfig struct {
	EmailNotifications   bool                  `yaml:"email_notifications"`
	WebhookURL           string                `yaml:"webhook_url"`
	EscalationThresholds []EscalationThreshold `yaml:"escalation_thresholds"`
}

// Default returns the baseline configuration before any file or
// environment overrides.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			EnableQueryCaching:       true,
			MaxMemoryUsageMB:         256,
			QueryCacheTTL:            15 * time.Minute,
			ParallelWorkers:          4,
			BatchSize:                50,
			EnableParallelProcessing: true,
			EnableMemoryOptimization: true,
			StreamingThreshold:       1000,
		},
		Predictive: PredictiveConfig{
			Enabled:                  true,
			LearningEnabled:          true,
			MaxPatternHistory:        1000,
			MinPatternFrequency:      2,
			PredictionThreshold:      0.1,
			MaxConcurrentPredictions: 10,
			ResourceThresholds: ResourceThresholds{
				MaxCPUUtilization: 80,
				MaxMemoryUsageMB:  512,
				MaxDiskIOPS:       1000,
			},
			WarmingStrategy: WarmingStrategy{
				Aggressiveness:             "moderate",
				MaxWarmingOperationsPerMin: 20,
				PriorityWeighting:          1.0,
			},
			Models: ModelsConfig{
				EnableSequenceAnalysis:       true,
				EnableCollaborativeFiltering: false,
				EnableTemporalPatterns:       true,
				EnableContextualPredictions:  true,
			},
		},
		Monitoring: MonitoringConfig{
			Enabled:         true,
			IntervalMinutes: 10,
			AlertThresholds: AlertThresholds{
				SlowQueryMs:            500,
				UnusedIndexDays:        30,
				WriteImpactThreshold:   1000,
				MemoryUsageThresholdMB: 512,
			},
			RetentionDays: 30,
		},
		Optimization: OptimizationConfig{
			AutoOptimizeEnabled:        false,
			AutoDropUnusedIndexes:      false,
			MaxConcurrentOptimizations: 1,
			MaintenanceWindowHours:     []int{2, 3, 4},
			RiskTolerance:              "moderate",
		},
		Alerts: AlertsConfig{
			EmailNotifications: false,
			WebhookURL:         "",
		},
	}
}

// Load reads path as YAML over the default configuration, then applies
// environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %v", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Cache.EnableQueryCaching = env.OptionalBoolVariable("MNEMOSYNE_ENABLE_QUERY_CACHING", cfg.Cache.EnableQueryCaching)
	cfg.Cache.MaxMemoryUsageMB = env.OptionalIntVariable("MNEMOSYNE_MAX_MEMORY_USAGE_MB", cfg.Cache.MaxMemoryUsageMB)
	cfg.Cache.QueryCacheTTL = env.OptionalDurationVariable("MNEMOSYNE_QUERY_CACHE_TTL", cfg.Cache.QueryCacheTTL)
	cfg.Cache.ParallelWorkers = env.OptionalIntVariable("MNEMOSYNE_PARALLEL_WORKERS", cfg.Cache.ParallelWorkers)
	cfg.Cache.BatchSize = env.OptionalIntVariable("MNEMOSYNE_BATCH_SIZE", cfg.Cache.BatchSize)

	cfg.Predictive.Enabled = env.OptionalBoolVariable("MNEMOSYNE_PREDICTIVE_ENABLED", cfg.Predictive.Enabled)
	cfg.Predictive.LearningEnabled = env.OptionalBoolVariable("MNEMOSYNE_LEARNING_ENABLED", cfg.Predictive.LearningEnabled)
	cfg.Predictive.MaxConcurrentPredictions = env.OptionalIntVariable("MNEMOSYNE_MAX_CONCURRENT_PREDICTIONS", cfg.Predictive.MaxConcurrentPredictions)

	cfg.Monitoring.Enabled = env.OptionalBoolVariable("MNEMOSYNE_MONITORING_ENABLED", cfg.Monitoring.Enabled)
	cfg.Monitoring.IntervalMinutes = env.OptionalIntVariable("MNEMOSYNE_MONITORING_INTERVAL_MINUTES", cfg.Monitoring.IntervalMinutes)

	cfg.Optimization.AutoOptimizeEnabled = env.OptionalBoolVariable("MNEMOSYNE_AUTO_OPTIMIZE_ENABLED", cfg.Optimization.AutoOptimizeEnabled)
	cfg.Optimization.AutoDropUnusedIndexes = env.OptionalBoolVariable("MNEMOSYNE_AUTO_DROP_UNUSED_INDEXES", cfg.Optimization.AutoDropUnusedIndexes)
	cfg.Optimization.RiskTolerance = env.OptionalStringVariable("MNEMOSYNE_RISK_TOLERANCE", cfg.Optimization.RiskTolerance)

	cfg.Alerts.WebhookURL = env.OptionalStringVariable("MNEMOSYNE_ALERT_WEBHOOK_URL", cfg.Alerts.WebhookURL)
	cfg.Alerts.EmailNotifications = env.OptionalBoolVariable("MNEMOSYNE_ALERT_EMAIL_NOTIFICATIONS", cfg.Alerts.EmailNotifications)
}
