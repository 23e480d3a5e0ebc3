package sim

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/config"
	"github.com/octoreflex/chairlift/internal/observability"
	"github.com/octoreflex/chairlift/internal/state"
)

// newTestSupervisor builds a Supervisor with every worker wired, skipping
// the owner lock / ledger / guardian process steps Run() would otherwise
// perform — those touch the filesystem and spawn a real sibling process,
// neither appropriate for a unit test of the phase-drain logic itself.
var testMetricsPort = 19091

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	cfg := config.Defaults()
	testMetricsPort++
	cfg.Observability.MetricsAddr = fmt.Sprintf("127.0.0.1:%d", testMetricsPort)
	cfg.Operator.SocketPath = fmt.Sprintf("/tmp/chairlift-test-%d-%d.sock", os.Getpid(), testMetricsPort)
	cfg.Day.Seconds = 1
	cfg.Day.MainLoopInterval = 5 * time.Millisecond
	cfg.Day.ShutdownGrace = 200 * time.Millisecond
	cfg.Lift.Rows = 4
	cfg.Lift.TickInterval = 5 * time.Millisecond
	cfg.Lift.ShutdownGrace = 10 * time.Millisecond
	cfg.Lift.DrainTimeout = 200 * time.Millisecond
	cfg.Population.SpawnRatePerSecond = 0 // No generator traffic in this test.
	cfg.Population.SpawnBurst = 0
	cfg.Storage.TransitLogCapacity = 1000
	cfg.Storage.PassRegistryCapacity = 1000

	s := NewSupervisor(&cfg, zap.NewNop())
	s.metrics = observability.NewMetrics()
	s.buildWorkers()
	return s
}

func TestSupervisorDrainReachesShutdownPhase(t *testing.T) {
	s := newTestSupervisor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.launchWorkers(ctx)

	runCtx, cancelWorkers := context.WithCancel(ctx)
	s.mainLoop(runCtx)
	s.drain(runCtx, cancelWorkers)

	if s.state.Phase.Current() != state.PhaseShutdown {
		t.Fatalf("expected SHUTDOWN after drain, got %s", s.state.Phase.Current())
	}
}

func TestSupervisorPanicShutdownForcesClosingEarly(t *testing.T) {
	s := newTestSupervisor(t)
	s.cfg.Day.Seconds = 3600 // Would not elapse on its own during this test.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.launchWorkers(ctx)

	s.crashed <- "gate-1"

	runCtx, cancelWorkers := context.WithCancel(ctx)
	s.mainLoop(runCtx)

	if panicked, by := s.state.Panic(); !panicked || by != "gate-1" {
		t.Fatalf("expected panic latched by gate-1, got (%v, %q)", panicked, by)
	}
	if s.state.Phase.Current() < state.PhaseClosing {
		t.Fatal("expected phase to have advanced to at least CLOSING after panic")
	}

	s.drain(runCtx, cancelWorkers)
	if s.state.Phase.Current() != state.PhaseShutdown {
		t.Fatal("expected SHUTDOWN after drain even on the panic path")
	}
}
