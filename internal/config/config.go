// Package config loads and defaults the ICT Engine's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RiskPolicy mirrors the risk_policy config block.
type RiskPolicy struct {
	MaxRiskPerTradePct       float64 `yaml:"max_risk_per_trade_pct"`
	MaxDailyLossPct          float64 `yaml:"max_daily_loss_pct"`
	MaxPositions             int     `yaml:"max_positions"`
	MaxPositionsPerSymbol    int     `yaml:"max_positions_per_symbol"`
	MaxSymbolExposurePct     float64 `yaml:"max_symbol_exposure_pct"`
	MaxCorrelationRisk       float64 `yaml:"max_correlation_risk"`
	MinCooldownSecPerSymbol  int     `yaml:"min_cooldown_seconds_per_symbol"`
	MaxDrawdownPct           float64 `yaml:"max_drawdown_pct"`
	DrawdownWindowMinutes    int     `yaml:"drawdown_window_minutes"`
}

// Memory mirrors the memory config block.
type Memory struct {
	MinSamples            int                `yaml:"min_samples"`
	SuccessThreshold       float64            `yaml:"success_threshold"`
	TimeDecayFactor        float64            `yaml:"time_decay_factor"`
	MaxLookbackDays        int                `yaml:"max_lookback_days"`
	WeightMultipliers      map[string]float64 `yaml:"weight_multipliers"`
	SnapshotIntervalUpdates int               `yaml:"snapshot_interval_updates"`
}

// Scheduler mirrors the scheduler config block.
type Scheduler struct {
	PoolSize      int `yaml:"pool_size"`
	MaxQueue      int `yaml:"max_queue"`
	TaskTimeoutSec int `yaml:"task_timeout_sec"`
	MaxRetries    int `yaml:"max_retries"`
	MinBars       int `yaml:"min_bars"`
}

// Baseline mirrors the baseline config block.
type Baseline struct {
	MonitoringIntervalSec int     `yaml:"monitoring_interval_sec"`
	MinSamplesForBaseline int     `yaml:"min_samples_for_baseline"`
	TolerancePct          float64 `yaml:"tolerance_pct"`
	CriticalTolerancePct  float64 `yaml:"critical_tolerance_pct"`
	RetentionDays         int     `yaml:"retention_days"`
	AutoBaselineUpdate    bool    `yaml:"auto_baseline_update"`
}

// PatternDetectors mirrors the pattern_detectors config block.
type PatternDetectors struct {
	MinGapPips          float64 `yaml:"min_gap_pips"`
	OBImpulseMultiplier float64 `yaml:"ob_impulse_multiplier"`
	SwingWindow         int     `yaml:"swing_window"`
	LiquidityTolerancePips float64 `yaml:"liquidity_tolerance_pips"`
	DisplacementMinRun     int     `yaml:"displacement_min_run"`
	DisplacementMultiplier float64 `yaml:"displacement_multiplier"`
}

// MTFValidator mirrors the mtf_validator config block.
type MTFValidator struct {
	H4Bonus        float64 `yaml:"h4_bonus"`
	M15Bonus       float64 `yaml:"m15_bonus"`
	M5Bonus        float64 `yaml:"m5_bonus"`
	TimingWindowSec int    `yaml:"timing_window_sec"`
}

// Orchestrator mirrors the orchestrator config block.
type Orchestrator struct {
	ConsolidatedTTLMs       int     `yaml:"consolidated_ttl_ms"`
	HighConfidenceThreshold float64 `yaml:"high_confidence_threshold"`
	ScalpingTimeframes      []string `yaml:"scalping_timeframes"`
}

// Persistence mirrors the optional persistence config block: a durable
// Postgres trade journal and a Redis mirror of computed memory weights,
// both off by default (empty address/DSN disables them).
type Persistence struct {
	RedisAddr         string `yaml:"redis_addr"`
	RedisDB           int    `yaml:"redis_db"`
	PostgresDSN       string `yaml:"postgres_dsn"`
	PostgresTimeoutSec int   `yaml:"postgres_timeout_sec"`
}

// Broker mirrors the broker config block.
type Broker struct {
	BaseURL               string  `yaml:"base_url"`
	WSURL                 string  `yaml:"ws_url"`
	RequestTimeoutSec     int     `yaml:"request_timeout_sec"`
	RatePerSecond         float64 `yaml:"rate_per_second"`
	RateBurst             int     `yaml:"rate_burst"`
	BreakerConsecutiveFail int    `yaml:"breaker_consecutive_failures"`
	BreakerFailureRatio   float64 `yaml:"breaker_failure_ratio"`
	BreakerMinRequests    uint32  `yaml:"breaker_min_requests"`
	BreakerOpenSec        int     `yaml:"breaker_open_seconds"`
	ReconnectBackoffSec   int     `yaml:"reconnect_backoff_seconds"`
}

// Config is the root configuration document.
type Config struct {
	RiskPolicy       RiskPolicy       `yaml:"risk_policy"`
	Memory           Memory           `yaml:"memory"`
	Scheduler        Scheduler        `yaml:"scheduler"`
	Baseline         Baseline         `yaml:"baseline"`
	PatternDetectors PatternDetectors `yaml:"pattern_detectors"`
	MTFValidator     MTFValidator     `yaml:"mtf_validator"`
	Broker           Broker           `yaml:"broker"`
	Orchestrator     Orchestrator     `yaml:"orchestrator"`
	Persistence      Persistence      `yaml:"persistence"`
}

// Default returns the production-default configuration.
func Default() *Config {
	return &Config{
		RiskPolicy: RiskPolicy{
			MaxRiskPerTradePct:      1.0,
			MaxDailyLossPct:         5.0,
			MaxPositions:            5,
			MaxPositionsPerSymbol:   3,
			MaxSymbolExposurePct:    3.0,
			MaxCorrelationRisk:      0.6,
			MinCooldownSecPerSymbol: 30,
			MaxDrawdownPct:          12.0,
			DrawdownWindowMinutes:   240,
		},
		Memory: Memory{
			MinSamples:       5,
			SuccessThreshold: 0.7,
			TimeDecayFactor:  0.1,
			MaxLookbackDays:  30,
			WeightMultipliers: map[string]float64{
				"fvg":          1.0,
				"order_block":  1.0,
				"bos":          1.0,
				"choch":        1.0,
				"liquidity":    1.0,
				"displacement": 1.0,
			},
			SnapshotIntervalUpdates: 100,
		},
		Scheduler: Scheduler{
			PoolSize:       0, // 0 means derive from logical CPUs
			MaxQueue:       0, // 0 means pool_size*4
			TaskTimeoutSec: 30,
			MaxRetries:     3,
			MinBars:        50,
		},
		Baseline: Baseline{
			MonitoringIntervalSec: 30,
			MinSamplesForBaseline: 100,
			TolerancePct:          20.0,
			CriticalTolerancePct:  50.0,
			RetentionDays:         30,
			AutoBaselineUpdate:    true,
		},
		PatternDetectors: PatternDetectors{
			MinGapPips:             3.0,
			OBImpulseMultiplier:    1.5,
			SwingWindow:            5,
			LiquidityTolerancePips: 5.0,
			DisplacementMinRun:     3,
			DisplacementMultiplier: 2.0,
		},
		MTFValidator: MTFValidator{
			H4Bonus:         0.15,
			M15Bonus:        0.10,
			M5Bonus:         0.05,
			TimingWindowSec: 300,
		},
		Orchestrator: Orchestrator{
			ConsolidatedTTLMs:       500,
			HighConfidenceThreshold: 0.75,
			ScalpingTimeframes:      []string{"M5", "M15"},
		},
		Broker: Broker{
			RequestTimeoutSec:      10,
			RatePerSecond:          5.0,
			RateBurst:              10,
			BreakerConsecutiveFail: 3,
			BreakerFailureRatio:    0.05,
			BreakerMinRequests:     20,
			BreakerOpenSec:         60,
			ReconnectBackoffSec:    5,
		},
	}
}

// Load reads a YAML config file and fills any unset field with the default.
// A missing file is not an error: Load falls back to Default() entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies the two recognized test-mode env flags.
func applyEnvOverrides(cfg *Config) {
	if os.Getenv("QUICK_TEST_MODE") != "" {
		cfg.Memory.MinSamples = 1
		cfg.Baseline.MinSamplesForBaseline = 5
	}
	if os.Getenv("LOW_MEM_MODE") != "" {
		cfg.Memory.MaxLookbackDays = 7
		cfg.Baseline.RetentionDays = 7
	}
}
