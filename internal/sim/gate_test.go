package sim

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/state"
)

func TestGateAdmitsValidPass(t *testing.T) {
	st := state.New(10, 10)
	pass, err := st.Passes.Create(state.PassSingleRide, 0, 500, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	resources := NewResources(5, 5)
	g := NewGate(1, resources, st, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	reply := make(chan AdmissionReply, 1)
	if err := g.Submit(ctx, AdmissionRequest{PatronID: 1, PassID: pass.ID, GroupSize: 1, Reply: reply}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case r := <-reply:
		if !r.Admitted {
			t.Fatalf("expected admission, got refusal: %s", r.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for gate reply")
	}

	if st.Counters.OnTerrain.Load() != 1 {
		t.Fatalf("expected on_terrain=1, got %d", st.Counters.OnTerrain.Load())
	}
	if !pass.Consumed() {
		t.Fatal("expected single-ride pass to be consumed after admission")
	}
}

func TestGateRefusesConsumedPass(t *testing.T) {
	st := state.New(10, 10)
	pass, _ := st.Passes.Create(state.PassSingleRide, 0, 500, false)
	pass.Consume()

	resources := NewResources(5, 5)
	g := NewGate(1, resources, st, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	reply := make(chan AdmissionReply, 1)
	if err := g.Submit(ctx, AdmissionRequest{PatronID: 2, PassID: pass.ID, GroupSize: 1, Reply: reply}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r := <-reply
	if r.Admitted {
		t.Fatal("expected refusal for an already-consumed pass")
	}
}

func TestGateRefusesDeadPatron(t *testing.T) {
	st := state.New(10, 10)
	pass, _ := st.Passes.Create(state.PassTimed30, 1800, 2000, false)

	resources := NewResources(5, 5)
	g := NewGate(1, resources, st, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	reply := make(chan AdmissionReply, 1)
	if err := g.Submit(ctx, AdmissionRequest{
		PatronID: 3, PassID: pass.ID, GroupSize: 1,
		Alive: func() bool { return false },
		Reply: reply,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r := <-reply
	if r.Admitted {
		t.Fatal("expected refusal for a patron that no longer exists")
	}
	if st.Counters.OnTerrain.Load() != 0 {
		t.Fatal("expected terrain units to be refunded for a dead patron")
	}
}

func TestPickGateRoutesVIPToGateOne(t *testing.T) {
	st := state.New(10, 10)
	resources := NewResources(5, 5)
	gates := []*Gate{
		NewGate(1, resources, st, nil, zap.NewNop()),
		NewGate(2, resources, st, nil, zap.NewNop()),
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		if g := PickGate(gates, true, rng); g != gates[0] {
			t.Fatal("expected VIP to always route to gate 1")
		}
	}
}
