package sim

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/config"
	"github.com/octoreflex/chairlift/internal/state"
)

func newTestHarness(t *testing.T) (*PatronDeps, *state.State, context.Context, context.CancelFunc) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Lift.Rows = 4
	cfg.Lift.RowCapacitySlots = 4
	cfg.Lift.TickInterval = 5 * time.Millisecond
	cfg.Routes.T1Seconds, cfg.Routes.T2Seconds, cfg.Routes.T3Seconds, cfg.Routes.T4Seconds = 0, 0, 0, 0

	st := state.New(1000, 1000)
	resources := NewResources(10, 10)
	cashier := NewCashier(&cfg, st, nil, zap.NewNop())
	gate := NewGate(1, resources, st, nil, zap.NewNop())
	op1 := NewOperator(1, &cfg, st, zap.NewNop())
	lift := NewLift(&cfg, st, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go cashier.Run(ctx)
	go gate.Run(ctx)
	go op1.Run(ctx)
	go lift.Run(ctx)

	deps := &PatronDeps{
		Cfg:       &cfg,
		State:     st,
		Resources: resources,
		Cashier:   cashier,
		Gates:     []*Gate{gate},
		Operator1: op1,
		Lift:      lift,
		Logger:    zap.NewNop(),
	}
	return deps, st, ctx, cancel
}

func TestPatronHappyPathRidesAtLeastOnce(t *testing.T) {
	deps, st, ctx, cancel := newTestHarness(t)
	defer cancel()

	p := NewPatron(1, 30, KindPedestrian, false, 0, nil)
	rng := rand.New(rand.NewSource(1))

	done := make(chan struct{})
	go func() {
		RunPatron(ctx, deps, p, rng)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for st.Counters.TotalRides.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("patron never completed a ride")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPatronTerminatesWhenPhaseLeavesOpen(t *testing.T) {
	deps, st, ctx, cancel := newTestHarness(t)
	defer cancel()
	st.Phase.Advance(state.PhaseClosing)

	p := NewPatron(2, 30, KindPedestrian, false, 0, nil)
	rng := rand.New(rand.NewSource(2))

	done := make(chan struct{})
	go func() {
		RunPatron(ctx, deps, p, rng)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("patron should terminate immediately once the day is not OPEN")
	}
}

func TestPatronOversizedGroupNeverBoards(t *testing.T) {
	deps, st, ctx, cancel := newTestHarness(t)
	defer cancel()

	// 3 children + cyclist parent = 2+3 = 5 platform slots > row capacity 4.
	p := NewPatron(3, 35, KindCyclist, false, 3, []int{12, 13, 14})
	rng := rand.New(rand.NewSource(3))

	done := make(chan struct{})
	go func() {
		RunPatron(ctx, deps, p, rng)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("oversized group should terminate rather than block")
	}
	if st.Counters.OnTerrain.Load() != 0 {
		t.Fatal("expected terrain units to be fully released for an oversized group")
	}
}
