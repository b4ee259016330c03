// Package config loads and validates the engine configuration from YAML and
// environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/atlas-quant/optionengine/internal/monitorerr"
	"github.com/atlas-quant/optionengine/pkg/types"
)

// EngineConfig is the recognized configuration surface of the engine. Every
// field maps one-to-one onto a key in the YAML file; environment variables
// with the ENGINE_ prefix override file values (ENGINE_MAX_AUTO_RESTARTS=4).
type EngineConfig struct {
	AutoRestartEnabled      bool `mapstructure:"auto_restart_enabled"`
	AutoRestartPaperEnabled bool `mapstructure:"auto_restart_paper_enabled"`
	AutoRestartLiveEnabled  bool `mapstructure:"auto_restart_live_enabled"`
	MaxAutoRestarts         int  `mapstructure:"max_auto_restarts"`

	TrailingStopEnabled      bool    `mapstructure:"trailing_stop_enabled"`
	TrailingActivationPoints float64 `mapstructure:"trailing_activation_points"`
	TrailingDistancePoints   float64 `mapstructure:"trailing_distance_points"`

	AutoSquareOffEnabled bool   `mapstructure:"auto_square_off_enabled"`
	AutoSquareOffTime    string `mapstructure:"auto_square_off_time"` // "HH:mm" market zone

	PremiumBasedExitEnabled bool    `mapstructure:"premium_based_exit_enabled"`
	TargetDecayPct          float64 `mapstructure:"target_decay_pct"`
	StopLossExpansionPct    float64 `mapstructure:"stop_loss_expansion_pct"`

	DefaultStopLossPoints float64 `mapstructure:"default_stop_loss_points"`
	DefaultTargetPoints   float64 `mapstructure:"default_target_points"`

	LegAdjustProfitThresholdPct float64 `mapstructure:"leg_adjust_profit_threshold_pct"`
	LegAdjustLossThresholdPct   float64 `mapstructure:"leg_adjust_loss_threshold_pct"`

	DataDir string `mapstructure:"data_dir"`

	Server  types.ServerConfig  `mapstructure:"server"`
	Charges types.ChargesConfig `mapstructure:"charges"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() EngineConfig {
	return EngineConfig{
		AutoRestartEnabled:      false,
		AutoRestartPaperEnabled: true,
		AutoRestartLiveEnabled:  false,
		MaxAutoRestarts:         3,
		TrailingStopEnabled:     false,
		AutoSquareOffEnabled:    true,
		AutoSquareOffTime:       "15:10",
		PremiumBasedExitEnabled: false,
		TargetDecayPct:          0.05,
		StopLossExpansionPct:    0.10,
		DefaultStopLossPoints:   30,
		DefaultTargetPoints:     50,
		DataDir:                 "./data",
		Server:                  *types.DefaultServerConfig(),
		Charges:                 types.DefaultChargesConfig(),
	}
}

// Load reads configuration from path (optional, "" = defaults only) and
// environment overrides, normalizes percentages, and validates the result.
func Load(path string) (EngineConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("auto_restart_enabled", def.AutoRestartEnabled)
	v.SetDefault("auto_restart_paper_enabled", def.AutoRestartPaperEnabled)
	v.SetDefault("auto_restart_live_enabled", def.AutoRestartLiveEnabled)
	v.SetDefault("max_auto_restarts", def.MaxAutoRestarts)
	v.SetDefault("trailing_stop_enabled", def.TrailingStopEnabled)
	v.SetDefault("trailing_activation_points", def.TrailingActivationPoints)
	v.SetDefault("trailing_distance_points", def.TrailingDistancePoints)
	v.SetDefault("auto_square_off_enabled", def.AutoSquareOffEnabled)
	v.SetDefault("auto_square_off_time", def.AutoSquareOffTime)
	v.SetDefault("premium_based_exit_enabled", def.PremiumBasedExitEnabled)
	v.SetDefault("target_decay_pct", def.TargetDecayPct)
	v.SetDefault("stop_loss_expansion_pct", def.StopLossExpansionPct)
	v.SetDefault("default_stop_loss_points", def.DefaultStopLossPoints)
	v.SetDefault("default_target_points", def.DefaultTargetPoints)
	v.SetDefault("leg_adjust_profit_threshold_pct", def.LegAdjustProfitThresholdPct)
	v.SetDefault("leg_adjust_loss_threshold_pct", def.LegAdjustLossThresholdPct)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.websocket_path", def.Server.WebSocketPath)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)
	v.SetDefault("charges.enabled", def.Charges.Enabled)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return EngineConfig{}, monitorerr.Wrap(monitorerr.ConfigInvalid, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return EngineConfig{}, monitorerr.Wrap(monitorerr.ConfigInvalid, err)
	}

	// Normalization happens exactly once, here at the load boundary; reads
	// never re-divide an already-fractional value.
	cfg.TargetDecayPct = NormalizePct(cfg.TargetDecayPct)
	cfg.StopLossExpansionPct = NormalizePct(cfg.StopLossExpansionPct)
	cfg.LegAdjustProfitThresholdPct = NormalizePct(cfg.LegAdjustProfitThresholdPct)
	cfg.LegAdjustLossThresholdPct = NormalizePct(cfg.LegAdjustLossThresholdPct)

	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// NormalizePct interprets a value >= 1.0 as a whole percent and divides it by
// 100; a value in [0,1) is already fractional.
func NormalizePct(v float64) float64 {
	if v >= 1.0 {
		return v / 100.0
	}
	return v
}

// Validate rejects configurations the engine cannot run with.
func (c EngineConfig) Validate() error {
	if c.MaxAutoRestarts < 0 {
		return monitorerr.New(monitorerr.ConfigInvalid, "max_auto_restarts must be >= 0")
	}
	if c.TrailingStopEnabled && c.TrailingDistancePoints <= 0 {
		return monitorerr.New(monitorerr.ConfigInvalid, "trailing_distance_points must be > 0 when trailing is enabled")
	}
	if c.AutoSquareOffEnabled {
		if _, _, err := ParseTimeOfDay(c.AutoSquareOffTime); err != nil {
			return err
		}
	}
	if c.DefaultStopLossPoints < 0 || c.DefaultTargetPoints < 0 {
		return monitorerr.New(monitorerr.ConfigInvalid, "default points thresholds must be >= 0")
	}
	return nil
}

// ParseTimeOfDay parses "HH:mm" into hour and minute.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, monitorerr.Wrap(monitorerr.ConfigInvalid, fmt.Errorf("bad time of day %q: %w", s, err))
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, monitorerr.New(monitorerr.ConfigInvalid, fmt.Sprintf("time of day out of range: %q", s))
	}
	return hour, minute, nil
}
