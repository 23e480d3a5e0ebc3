// patron.go — the patron state machine (spec.md §4.2).
//
// Each patron is one goroutine running RunPatron start to finish. State
// is tracked locally (a goroutine-local variable, not shared memory);
// admission, purchase and boarding go through the gate, cashier, and
// lift channels, while the occupancy counters, pass lookups and transit
// log in the shared aggregate are updated directly. The guaranteed cleanup path is a single deferred
// function keyed off that local state, mirroring spec.md's "a guaranteed
// cleanup path must release every held resource keyed by the patron's
// current state."
package sim

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/config"
	"github.com/octoreflex/chairlift/internal/state"
)

// patronLifeState is the patron's own bookkeeping of where it is in the
// pipeline, used only to decide what the deferred cleanup must release.
type patronLifeState uint8

const (
	lifeAtCashier patronLifeState = iota
	lifeBeforeGate1
	lifeOnTerrain
	lifeOnPlatform
	lifeOnChair
	lifeAtTop
	lifeDone
)

// PatronDeps bundles every worker a patron goroutine talks to.
type PatronDeps struct {
	Cfg       *config.Config
	State     *state.State
	Resources *Resources
	Cashier   *Cashier
	Gates     []*Gate
	Operator1 *Operator
	Lift      *Lift
	Logger    *zap.Logger
}

// RunPatron drives one patron through the full state machine until it
// terminates (pass exhausted, refused at any stage, or the day ends).
// Intended to run in its own goroutine, spawned by the Generator.
func RunPatron(ctx context.Context, deps *PatronDeps, p Patron, rng *rand.Rand) {
	life := lifeAtCashier
	var releaseTerrain func()
	var releasePlatform func()

	st := deps.State
	st.Counters.ActivePatrons.Add(1)
	defer func() {
		switch life {
		case lifeOnTerrain:
			if releaseTerrain != nil {
				releaseTerrain()
			}
			st.Counters.OnTerrain.Add(-int64(p.GroupSize))
		case lifeOnPlatform:
			if releasePlatform != nil {
				releasePlatform()
			}
			if releaseTerrain != nil {
				releaseTerrain()
			}
			st.Counters.OnPlatform.Add(-int64(p.PlatformSlots))
		}
		st.Counters.ActivePatrons.Add(-1)
	}()

	if st.Phase.Current() != state.PhaseOpen {
		return
	}

	reply := make(chan PurchaseReply, 1)
	purchase, err := SendPurchase(ctx, deps.Cashier, PurchaseRequest{
		PatronID:  p.ID,
		Age:       p.Age,
		VIP:       p.VIP,
		Children:  p.Children,
		ChildAges: p.ChildAges,
		Reply:     reply,
	})
	if err != nil || !purchase.OK {
		return
	}
	p.PassID = purchase.PassID
	life = lifeBeforeGate1

	for {
		st.Breakdown.Wait()

		pass := st.Passes.Get(p.PassID)
		if pass == nil || !pass.Valid(time.Now()) {
			life = lifeDone
			return
		}
		if st.Phase.Current() != state.PhaseOpen {
			life = lifeDone
			return
		}

		gate := PickGate(deps.Gates, p.VIP, rng)
		admitReply := make(chan AdmissionReply, 1)
		admitted, err := sendAdmission(ctx, gate, AdmissionRequest{
			PatronID:  p.ID,
			PassID:    p.PassID,
			VIP:       p.VIP,
			GroupSize: p.GroupSize,
			Alive:     func() bool { return true },
			Reply:     admitReply,
		})
		if err != nil {
			return
		}
		if !admitted.Admitted {
			return
		}
		life = lifeOnTerrain
		releaseTerrain = admitted.ReleaseTerrain

		// ON_TERRAIN → ON_PLATFORM (spec.md §4.2): groups needing more
		// than a full row's worth of slots can never board.
		if p.PlatformSlots > deps.Cfg.Lift.RowCapacitySlots {
			return
		}
		if deps.Operator1 == nil || !deps.Operator1.AdmitPlatform() {
			return
		}

		st.Breakdown.Wait()
		platformRelease, err := deps.Resources.AcquirePlatform(ctx, p.PlatformSlots)
		if err != nil {
			return
		}
		releasePlatform = platformRelease
		st.Counters.OnPlatform.Add(int64(p.PlatformSlots))

		if releaseTerrain != nil {
			releaseTerrain()
			releaseTerrain = nil
		}
		st.Counters.OnTerrain.Add(-int64(p.GroupSize))
		life = lifeOnPlatform

		// ON_PLATFORM → ON_CHAIR.
		st.Breakdown.Wait()
		liftReply := make(chan LiftSignal, 1)
		if !sendBoardRequest(ctx, deps.Lift, BoardRequest{
			PatronID:      p.ID,
			VIP:           p.VIP,
			PlatformSlots: p.PlatformSlots,
			GroupSize:     p.GroupSize,
			Reply:         liftReply,
		}) {
			return
		}

		var signal LiftSignal
		select {
		case signal = <-liftReply:
		case <-ctx.Done():
			return
		}
		if signal == LiftStop {
			return
		}

		if releasePlatform != nil {
			releasePlatform()
			releasePlatform = nil
		}
		st.Counters.OnPlatform.Add(-int64(p.PlatformSlots))
		st.Counters.OnChair.Add(int64(p.GroupSize))
		life = lifeOnChair

		// ON_CHAIR → AT_TOP.
		select {
		case signal = <-liftReply:
		case <-ctx.Done():
			return
		}
		life = lifeAtTop
		if signal != LiftArrive {
			return
		}

		// AT_TOP → ON_ROUTE → BEFORE_GATE1.
		route := ChooseRoute(p.Kind, deps.Cfg.Routes.CyclistRouteWeights, deps.Cfg.Routes.Strategy, rng)
		routeDuration := routeSeconds(deps.Cfg, route)
		select {
		case <-time.After(routeDuration):
		case <-ctx.Done():
			return
		}
		st.Counters.OnTop.Add(-int64(p.GroupSize))
		st.Transit.Append(state.TransitEvent{
			PatronID: p.ID,
			PassID:   p.PassID,
			Kind:     state.TransitLeftTerrain,
			Route:    int(route),
			VIP:      p.VIP,
			At:       time.Now(),
		})
		st.Counters.RecordRoute(int(route))

		pass = st.Passes.Get(p.PassID)
		if pass == nil || !pass.Valid(time.Now()) {
			life = lifeDone
			return
		}
		life = lifeBeforeGate1
	}
}

func routeSeconds(cfg *config.Config, route Route) time.Duration {
	switch route {
	case RouteT1:
		return time.Duration(cfg.Routes.T1Seconds) * time.Second
	case RouteT2:
		return time.Duration(cfg.Routes.T2Seconds) * time.Second
	case RouteT3:
		return time.Duration(cfg.Routes.T3Seconds) * time.Second
	default:
		return time.Duration(cfg.Routes.T4Seconds) * time.Second
	}
}

// sendAdmission submits req to the gate's VIP/normal priority queue
// (spec.md §4.2: "initial 1 ms, cap 200 ms" backoff, implemented by
// internal/queue.Send), aborting on ctx cancellation (queue dismantled /
// supervisor gone / phase left OPEN).
func sendAdmission(ctx context.Context, gate *Gate, req AdmissionRequest) (AdmissionReply, error) {
	if err := gate.Submit(ctx, req); err != nil {
		return AdmissionReply{}, err
	}
	select {
	case reply := <-req.Reply:
		return reply, nil
	case <-ctx.Done():
		return AdmissionReply{}, ctx.Err()
	}
}

// sendBoardRequest is the same backoff-send pattern for the lift queue.
func sendBoardRequest(ctx context.Context, lift *Lift, req BoardRequest) bool {
	backoff := time.Millisecond
	for {
		select {
		case lift.Requests <- req:
			return true
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
			if backoff < 200*time.Millisecond {
				backoff *= 2
				if backoff > 200*time.Millisecond {
					backoff = 200 * time.Millisecond
				}
			}
		}
	}
}
