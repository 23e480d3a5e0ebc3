// Package main — cmd/supervisor/main.go
//
// Chairlift resort simulator entrypoint.
//
// Invocation: supervisor [-config path] [N] [seconds]
//   - N overrides terrain.capacity (range [1, 1000]).
//   - seconds overrides day.seconds (range [1, 3600]).
//
// Both positional args are optional and mirror the original kolej-linowa
// `supervisor [N] [seconds]` CLI.
//
// Startup sequence:
//  1. Detect guardian-child re-exec (internal/guardian.ChildFlag) and
//     dispatch into the guardian's own main loop, bypassing everything
//     below — the guardian is not a simulation participant.
//  2. Parse flags and the optional N/seconds positional overrides.
//  3. Load and validate config.
//  4. Initialise structured logger (zap, console or JSON per log_format).
//  5. Claim our own process group (best effort), so the guardian's
//     group-kill on abnormal death has a well-defined target.
//  6. Register SIGUSR1/SIGUSR2 forwarding into the breakdown protocol.
//  7. Block on SIGINT/SIGTERM for graceful shutdown via the supervisor's
//     own lifecycle (internal/sim.Supervisor.Run handles the staged
//     CLOSING → DRAINING → SHUTDOWN drain).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/octoreflex/chairlift/internal/config"
	"github.com/octoreflex/chairlift/internal/guardian"
	"github.com/octoreflex/chairlift/internal/sim"
)

func main() {
	// ── Step 1: Guardian-child dispatch ───────────────────────────────────────
	for _, arg := range os.Args[1:] {
		if arg == guardian.ChildFlag {
			runGuardianChild()
			return
		}
	}

	// ── Step 2: Flags and positional overrides ────────────────────────────────
	configPath := flag.String("config", "/etc/chairlift/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("chairlift-supervisor %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 3: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}
	if err := applyPositionalOverrides(cfg, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config invalid after CLI overrides: %v\n", err)
		os.Exit(1)
	}

	// ── Step 4: Logger ────────────────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("chairlift supervisor starting",
		zap.String("version", config.Version),
		zap.String("resort_id", cfg.ResortID),
		zap.Int("terrain_capacity", cfg.Terrain.Capacity),
		zap.Int("day_seconds", cfg.Day.Seconds),
		zap.String("config", *configPath),
	)

	// ── Step 5: Claim our own process group ──────────────────────────────────
	// Best effort: if we're already a group leader (the common case when
	// launched directly from a shell) this is a no-op; if we're not, the
	// guardian's later group-kill would otherwise reach processes outside
	// this simulation run.
	if err := syscall.Setpgid(0, 0); err != nil {
		log.Debug("setpgid failed, continuing with inherited process group", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := sim.NewSupervisor(cfg, log)

	// ── Step 6: Breakdown signal forwarding ──────────────────────────────────
	breakdownSig := make(chan os.Signal, 2)
	signal.Notify(breakdownSig, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range breakdownSig {
			switch sig {
			case syscall.SIGUSR1:
				if !sup.TriggerBreakdownStop() {
					log.Warn("SIGUSR1 dropped: no operator ready or signal budget exhausted")
				}
			case syscall.SIGUSR2:
				if !sup.TriggerBreakdownResume() {
					log.Warn("SIGUSR2 dropped: not honoured by a non-initiator, or signal budget exhausted")
				}
			}
		}
	}()

	// ── Step 7: Wait for shutdown signal, run the simulation ─────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		log.Error("supervisor exited with error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("chairlift supervisor shutdown complete")
}

// applyPositionalOverrides applies the optional `[N] [seconds]`
// positional arguments on top of the loaded config, matching the
// original kolej-linowa CLI. Range validation happens here so the error
// message names which argument was rejected; config.Validate still runs
// afterward to catch file/CLI combinations that individually validate
// but conflict (e.g. terrain.platform_slot_capacity vs lift.row_capacity_slots).
func applyPositionalOverrides(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("N must be an integer, got %q", args[0])
		}
		if n < 1 || n > 1000 {
			return fmt.Errorf("N must be in [1, 1000], got %d", n)
		}
		cfg.Terrain.Capacity = n
	}
	if len(args) > 1 {
		seconds, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("seconds must be an integer, got %q", args[1])
		}
		if seconds < 1 || seconds > 3600 {
			return fmt.Errorf("seconds must be in [1, 3600], got %d", seconds)
		}
		cfg.Day.Seconds = seconds
	}
	if len(args) > 2 {
		return fmt.Errorf("too many positional arguments, expected at most [N] [seconds]")
	}
	return nil
}

// runGuardianChild is entered when this binary was re-exec'd by
// internal/guardian.Spawn with guardian.ChildFlag on argv. It never
// returns to main()'s supervisor path.
func runGuardianChild() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: guardian logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	supervisorPID, err := strconv.Atoi(os.Getenv("CHAIRLIFT_GUARDIAN_SUPERVISOR_PID"))
	if err != nil {
		log.Fatal("guardian: missing or invalid CHAIRLIFT_GUARDIAN_SUPERVISOR_PID", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// The supervisor claims its own process group before spawning us
	// (see Step 5 above), so its pid and pgid coincide.
	if err := guardian.RunChild(ctx, log, supervisorPID, supervisorPID, sim.DefaultTriggerPath); err != nil {
		log.Error("guardian child exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return zcfg.Build()
}
