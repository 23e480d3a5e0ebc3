package sim

import (
	"testing"
	"time"

	"github.com/octoreflex/chairlift/internal/state"
)

func TestGeneratorStopsSpawningOnceNotOpen(t *testing.T) {
	deps, st, ctx, cancel := newTestHarness(t)
	defer cancel()
	deps.Cfg.Population.SpawnRatePerSecond = 1000
	deps.Cfg.Population.SpawnBurst = 50

	gen := NewGenerator(deps.Cfg, st, deps, deps.Logger)

	runDone := make(chan struct{})
	go func() {
		gen.Run(ctx)
		close(runDone)
	}()

	time.Sleep(30 * time.Millisecond)
	st.Phase.Advance(state.PhaseClosing)

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("generator should return once every spawned patron exits and phase left OPEN")
	}
}

func TestGeneratorRespectsContextCancellation(t *testing.T) {
	deps, st, ctx, cancel := newTestHarness(t)
	gen := NewGenerator(deps.Cfg, st, deps, deps.Logger)

	runDone := make(chan struct{})
	go func() {
		gen.Run(ctx)
		close(runDone)
	}()

	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("generator should exit promptly on context cancellation")
	}
}
