package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-quant/optionengine/internal/monitorerr"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxAutoRestarts != 3 {
		t.Fatalf("max_auto_restarts = %d, want 3", cfg.MaxAutoRestarts)
	}
	if cfg.AutoSquareOffTime != "15:10" {
		t.Fatalf("auto_square_off_time = %s", cfg.AutoSquareOffTime)
	}
	if cfg.TargetDecayPct != 0.05 {
		t.Fatalf("target_decay_pct = %v, want 0.05", cfg.TargetDecayPct)
	}
}

func TestLoadYAMLWithPercentNormalization(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	yaml := `
target_decay_pct: 5
stop_loss_expansion_pct: 0.10
default_target_points: 50
trailing_stop_enabled: true
trailing_activation_points: 5
trailing_distance_points: 2
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	// Whole percent divided once; fractional value untouched.
	if cfg.TargetDecayPct != 0.05 {
		t.Fatalf("target_decay_pct = %v, want 0.05", cfg.TargetDecayPct)
	}
	if cfg.StopLossExpansionPct != 0.10 {
		t.Fatalf("stop_loss_expansion_pct = %v, want 0.10", cfg.StopLossExpansionPct)
	}
}

func TestValidateRejectsBadTrailing(t *testing.T) {
	cfg := Default()
	cfg.TrailingStopEnabled = true
	cfg.TrailingDistancePoints = 0
	if err := cfg.Validate(); !monitorerr.Is(err, monitorerr.ConfigInvalid) {
		t.Fatalf("err = %v, want CONFIG_INVALID", err)
	}
}

func TestValidateRejectsBadSquareOffTime(t *testing.T) {
	cfg := Default()
	cfg.AutoSquareOffTime = "25:99"
	if err := cfg.Validate(); !monitorerr.Is(err, monitorerr.ConfigInvalid) {
		t.Fatalf("err = %v, want CONFIG_INVALID", err)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	h, m, err := ParseTimeOfDay("15:10")
	if err != nil || h != 15 || m != 10 {
		t.Fatalf("ParseTimeOfDay = %d:%d, %v", h, m, err)
	}
	if _, _, err := ParseTimeOfDay("nonsense"); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestNormalizePctIdempotent(t *testing.T) {
	// Normalizing an already-fractional value must not re-divide it.
	once := NormalizePct(5)
	if once != 0.05 {
		t.Fatalf("NormalizePct(5) = %v", once)
	}
	if NormalizePct(once) != once {
		t.Fatal("re-normalizing a fractional value changed it")
	}
}
