package config

import "testing"

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("expected defaults to validate, got: %v", err)
	}
}

func TestValidateRejectsTerrainCapacity(t *testing.T) {
	cfg := Defaults()
	cfg.Terrain.Capacity = 0
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation error for terrain.capacity=0")
	}
}

func TestValidateRejectsOddRowCount(t *testing.T) {
	cfg := Defaults()
	cfg.Lift.Rows = 17
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation error for odd lift.rows")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Terrain.Capacity != Defaults().Terrain.Capacity {
		t.Fatal("expected defaults when config file is absent")
	}
}

func TestValidateAggregatesMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Terrain.Capacity = -1
	cfg.Day.Seconds = 0
	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsPressureAlphaOutOfRange(t *testing.T) {
	cfg := Defaults()
	cfg.Observability.PressureAlpha = 1.5
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation error for observability.pressure_alpha=1.5")
	}
}
