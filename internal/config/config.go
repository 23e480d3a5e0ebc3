// Package config provides configuration loading, validation, and the
// default parameter table for the chairlift resort simulator.
//
// Configuration file: /etc/chairlift/config.yaml (default), overridable
// with -config. Optional positional arguments N and seconds (see
// cmd/supervisor) override Terrain.Capacity and Day.Seconds after the
// file is loaded,
// mirroring the original kolej-linowa `supervisor [N] [seconds]` CLI.
//
// Validation:
//   - All numeric ranges are enforced (probabilities in [0,100], ages in
//     range, capacities positive).
//   - Invalid config on startup: the agent refuses to start (fatal error).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the chairlift simulator.
type Config struct {
	SchemaVersion string `yaml:"schema_version"`

	// ResortID identifies this simulation run in logs and the ledger.
	ResortID string `yaml:"resort_id"`

	Terrain       TerrainConfig       `yaml:"terrain"`
	Lift          LiftConfig          `yaml:"lift"`
	Routes        RoutesConfig        `yaml:"routes"`
	Pricing       PricingConfig       `yaml:"pricing"`
	Population    PopulationConfig    `yaml:"population"`
	Day           DayConfig           `yaml:"day"`
	Breakdown     BreakdownConfig     `yaml:"breakdown"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Operator      OperatorConfig      `yaml:"operator"`
}

// TerrainConfig bounds the lower-station area and its gates.
type TerrainConfig struct {
	// Capacity is N, the terrain semaphore's initial count. Overridable
	// by the supervisor's first CLI argument. Range [1, 1000].
	Capacity int `yaml:"capacity"`

	// Gate1Count is the number of independent gate-1 (terrain admission)
	// workers. Default 4.
	Gate1Count int `yaml:"gate1_count"`

	// PlatformSlotCapacity is the platform semaphore's capacity; each
	// patron releases its own slots when the lift signals BOARD. Default 4
	// (one row).
	PlatformSlotCapacity int `yaml:"platform_slot_capacity"`
}

// LiftConfig parameterises the ring-buffer lift.
type LiftConfig struct {
	// Rows is the number of chairs in the ring. Default 18.
	Rows int `yaml:"rows"`

	// RowCapacitySlots is the slot capacity of a single row. Default 4.
	RowCapacitySlots int `yaml:"row_capacity_slots"`

	// TickInterval is the time between successive lift advances.
	// Default 200ms.
	TickInterval time.Duration `yaml:"tick_interval"`

	// ShutdownGrace is the sleep after the lift has fully drained, once
	// the day has reached DRAINING, before the lift goroutine exits.
	// Default 3s.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// DrainTimeout bounds how long DRAINING waits for the lift before the
	// supervisor force-kills it. Default 60s.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// RoutesConfig holds descent route durations and the cyclist route mix.
type RoutesConfig struct {
	// T1Seconds, T2Seconds, T3Seconds are cyclist descent route durations
	// (easy/medium/hard). T4Seconds is the single pedestrian route.
	T1Seconds int `yaml:"t1_seconds"`
	T2Seconds int `yaml:"t2_seconds"`
	T3Seconds int `yaml:"t3_seconds"`
	T4Seconds int `yaml:"t4_seconds"`

	// CyclistRouteWeights is the relative selection weight of T1/T2/T3 for
	// a cyclist, in that order. Need not sum to 100.
	CyclistRouteWeights [3]int `yaml:"cyclist_route_weights"`

	// Strategy selects the registered internal/contrib.RouteStrategy used
	// to turn CyclistRouteWeights into an actual route pick. "weighted"
	// (the built-in default) reproduces the original's single fixed
	// distribution; an operator may register and select an alternative
	// (e.g. time-of-day-aware, or one that favours easier routes once
	// on_terrain is near capacity) without touching internal/sim.
	Strategy string `yaml:"strategy"`
}

// PricingConfig holds pass prices, validity windows, and discount rules.
type PricingConfig struct {
	// Price*Cents are pass prices in cents, avoiding float arithmetic.
	PriceSingleRideCents int `yaml:"price_single_ride_cents"`
	PriceTimed30Cents    int `yaml:"price_timed30_cents"`
	PriceTimed60Cents    int `yaml:"price_timed60_cents"`
	PriceTimed120Cents   int `yaml:"price_timed120_cents"`
	PriceDailyCents      int `yaml:"price_daily_cents"`

	// Validity*Seconds. SingleRide has no timed validity (consumed on use).
	ValidityTimed30Seconds  int `yaml:"validity_timed30_seconds"`
	ValidityTimed60Seconds  int `yaml:"validity_timed60_seconds"`
	ValidityTimed120Seconds int `yaml:"validity_timed120_seconds"`
	ValidityDailySeconds    int `yaml:"validity_daily_seconds"`

	// ChildDiscountAge: strictly below this age, a discount applies.
	ChildDiscountAge int `yaml:"child_discount_age"`
	// SeniorDiscountAge: at or above this age, a discount applies.
	SeniorDiscountAge int `yaml:"senior_discount_age"`
	// DiscountPercent applied to child/senior prices.
	DiscountPercent int `yaml:"discount_percent"`
	// UnsupervisedMinorAge: strictly below this age, a patron without an
	// accompanying adult (children=0 in its own purchase request) is
	// refused.
	UnsupervisedMinorAge int `yaml:"unsupervised_minor_age"`
}

// PopulationConfig controls patron generation probabilities and bounds.
type PopulationConfig struct {
	MinAge int `yaml:"min_age"`
	MaxAge int `yaml:"max_age"`
	// AdultMinAge: the minimum age to be considered a supervising adult.
	AdultMinAge int `yaml:"adult_min_age"`

	VIPPercent         int `yaml:"vip_percent"`
	CyclistPercent     int `yaml:"cyclist_percent"`
	ChildPercent       int `yaml:"child_percent"`
	SecondChildPercent int `yaml:"second_child_percent"`

	// PassKindWeights, indexed by state.PassKind, relative selection
	// weight for the cashier's random pass-kind roll.
	PassKindWeights [5]int `yaml:"pass_kind_weights"`

	// SpawnRatePerSecond caps the generator's average patron spawn rate.
	SpawnRatePerSecond float64 `yaml:"spawn_rate_per_second"`
	// SpawnBurst is the generator's token-bucket burst allowance.
	SpawnBurst int `yaml:"spawn_burst"`
}

// DayConfig controls the simulated day length and timing.
type DayConfig struct {
	// Seconds is the simulated day length. Overridable by the supervisor's
	// second CLI argument. Range [1, 3600].
	Seconds int `yaml:"seconds"`

	// MainLoopInterval is the supervisor's reap/monitor tick. Default 100ms.
	MainLoopInterval time.Duration `yaml:"main_loop_interval"`

	// ShutdownGrace bounds how long SHUTDOWN waits for workers to exit
	// cleanly before the guardian is asked to force a cleanup.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// BreakdownConfig parameterises the operator STOP/START handshake.
type BreakdownConfig struct {
	// ReadyTimeout bounds how long an initiator waits for the peer's READY
	// reply to a STOP. Default 2s.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// SignalBudgetCapacity and SignalBudgetRefill rate-limit how often the
	// operator handshake may be retriggered by SIGUSR1/SIGUSR2, to protect
	// against signal flapping destabilising the protocol.
	SignalBudgetCapacity int           `yaml:"signal_budget_capacity"`
	SignalBudgetRefill   time.Duration `yaml:"signal_budget_refill"`
}

// StorageConfig holds BoltDB ledger parameters.
type StorageConfig struct {
	DBPath            string `yaml:"db_path"`
	RetentionDays     int    `yaml:"retention_days"`
	ReportPath        string `yaml:"report_path"`
	TransitLogCSVPath string `yaml:"transit_log_csv_path"`
	// TransitLogCapacity bounds the in-memory append-only transit log;
	// entries past capacity are silently dropped (never fatal).
	TransitLogCapacity int `yaml:"transit_log_capacity"`
	// PassRegistryCapacity bounds the in-memory pass registry.
	PassRegistryCapacity int `yaml:"pass_registry_capacity"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	LogDir      string `yaml:"log_dir"`

	// PressureAlpha is the EWMA smoothing factor (internal/telemetry's
	// PressureAccumulator) applied to the on_terrain occupancy ratio
	// sampled every main-loop tick. Closer to 1.0 smooths out short
	// bursts; closer to 0.0 tracks the instantaneous ratio more closely.
	PressureAlpha float64 `yaml:"pressure_alpha"`
}

// OperatorConfig holds the optional operator inspection socket parameters.
type OperatorConfig struct {
	SocketPath string `yaml:"socket_path"`
	Enabled    bool   `yaml:"enabled"`
}

// Defaults returns a Config populated with all default values, matching
// the kolej-linowa config.h constants where the original spec is silent.
func Defaults() Config {
	return Config{
		SchemaVersion: "1",
		ResortID:      "chairlift-01",
		Terrain: TerrainConfig{
			Capacity:             100,
			Gate1Count:           4,
			PlatformSlotCapacity: 4,
		},
		Lift: LiftConfig{
			Rows:             18,
			RowCapacitySlots: 4,
			TickInterval:     200 * time.Millisecond,
			ShutdownGrace:    3 * time.Second,
			DrainTimeout:     60 * time.Second,
		},
		Routes: RoutesConfig{
			T1Seconds:           1,
			T2Seconds:           2,
			T3Seconds:           3,
			T4Seconds:           4,
			CyclistRouteWeights: [3]int{50, 30, 20},
			Strategy:            "weighted",
		},
		Pricing: PricingConfig{
			PriceSingleRideCents:    500,
			PriceTimed30Cents:       2000,
			PriceTimed60Cents:       3500,
			PriceTimed120Cents:      5000,
			PriceDailyCents:         10000,
			ValidityTimed30Seconds:  1800,
			ValidityTimed60Seconds:  3600,
			ValidityTimed120Seconds: 7200,
			ValidityDailySeconds:    86400,
			ChildDiscountAge:        10,
			SeniorDiscountAge:       65,
			DiscountPercent:         25,
			UnsupervisedMinorAge:    8,
		},
		Population: PopulationConfig{
			MinAge:             4,
			MaxAge:             80,
			AdultMinAge:        18,
			VIPPercent:         1,
			CyclistPercent:     50,
			ChildPercent:       20,
			SecondChildPercent: 30,
			PassKindWeights:    [5]int{20, 30, 25, 15, 10},
			SpawnRatePerSecond: 8,
			SpawnBurst:         4,
		},
		Day: DayConfig{
			Seconds:          300,
			MainLoopInterval: 100 * time.Millisecond,
			ShutdownGrace:    8 * time.Second,
		},
		Breakdown: BreakdownConfig{
			ReadyTimeout:         2 * time.Second,
			SignalBudgetCapacity: 5,
			SignalBudgetRefill:   10 * time.Second,
		},
		Storage: StorageConfig{
			DBPath:               DefaultDBPath,
			RetentionDays:        30,
			ReportPath:           "output/raport_dzienny.txt",
			TransitLogCSVPath:    "output/log_przejsc.csv",
			TransitLogCapacity:   999999,
			PassRegistryCapacity: 999999,
		},
		Observability: ObservabilityConfig{
			MetricsAddr:   "127.0.0.1:9091",
			LogLevel:      "info",
			LogFormat:     "json",
			LogDir:        "output/logs",
			PressureAlpha: 0.9,
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/tmp/chairlift_operator.sock",
		},
	}
}

// DefaultDBPath is the default BoltDB ledger location.
const DefaultDBPath = "/tmp/chairlift/chairlift.db"

// Load reads and validates a config file from the given path. Returns the
// merged config (defaults overridden by file values). A missing file is
// not an error: the defaults are returned as-is, matching a standalone
// test run with no config file present.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, returning an
// aggregated error listing every violation found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Terrain.Capacity < 1 || cfg.Terrain.Capacity > 1000 {
		errs = append(errs, fmt.Sprintf("terrain.capacity must be in [1, 1000], got %d", cfg.Terrain.Capacity))
	}
	if cfg.Terrain.Gate1Count < 1 {
		errs = append(errs, fmt.Sprintf("terrain.gate1_count must be >= 1, got %d", cfg.Terrain.Gate1Count))
	}
	if cfg.Terrain.PlatformSlotCapacity < cfg.Lift.RowCapacitySlots {
		errs = append(errs, "terrain.platform_slot_capacity must be >= lift.row_capacity_slots")
	}
	if cfg.Lift.Rows < 4 || cfg.Lift.Rows%2 != 0 {
		errs = append(errs, fmt.Sprintf("lift.rows must be even and >= 4, got %d", cfg.Lift.Rows))
	}
	if cfg.Lift.RowCapacitySlots < 1 {
		errs = append(errs, "lift.row_capacity_slots must be >= 1")
	}
	if cfg.Lift.TickInterval <= 0 {
		errs = append(errs, "lift.tick_interval must be > 0")
	}
	if cfg.Day.Seconds < 1 || cfg.Day.Seconds > 3600 {
		errs = append(errs, fmt.Sprintf("day.seconds must be in [1, 3600], got %d", cfg.Day.Seconds))
	}
	if cfg.Population.MinAge < 1 || cfg.Population.MaxAge <= cfg.Population.MinAge {
		errs = append(errs, "population.min_age/max_age out of range")
	}
	for _, p := range []struct {
		name string
		val  int
	}{
		{"population.vip_percent", cfg.Population.VIPPercent},
		{"population.cyclist_percent", cfg.Population.CyclistPercent},
		{"population.child_percent", cfg.Population.ChildPercent},
		{"population.second_child_percent", cfg.Population.SecondChildPercent},
		{"pricing.discount_percent", cfg.Pricing.DiscountPercent},
	} {
		if p.val < 0 || p.val > 100 {
			errs = append(errs, fmt.Sprintf("%s must be in [0, 100], got %d", p.name, p.val))
		}
	}
	if cfg.Population.SpawnRatePerSecond <= 0 {
		errs = append(errs, "population.spawn_rate_per_second must be > 0")
	}
	if cfg.Breakdown.ReadyTimeout <= 0 {
		errs = append(errs, "breakdown.ready_timeout must be > 0")
	}
	if cfg.Breakdown.SignalBudgetCapacity < 1 {
		errs = append(errs, "breakdown.signal_budget_capacity must be >= 1")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, "storage.retention_days must be >= 1")
	}
	if cfg.Observability.PressureAlpha < 0.0 || cfg.Observability.PressureAlpha > 1.0 {
		errs = append(errs, fmt.Sprintf("observability.pressure_alpha must be in [0.0, 1.0], got %v", cfg.Observability.PressureAlpha))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
