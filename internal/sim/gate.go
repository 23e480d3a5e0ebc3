// gate.go — gate-1 agents (spec.md §4.3).
//
// Each gate is an independent goroutine, the direct analogue of the
// original's one-process-per-gate design. VIPs route to gate 1
// exclusively; everyone else is distributed uniformly among the
// remaining gates, matching spec.md's targeting rule.
package sim

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/observability"
	"github.com/octoreflex/chairlift/internal/queue"
	"github.com/octoreflex/chairlift/internal/state"
)

// AdmissionRequest is a patron's request to cross a specific gate-1.
type AdmissionRequest struct {
	PatronID  uint64
	PassID    uint64
	VIP       bool
	GroupSize int
	Alive     func() bool // Liveness check (step 5 of spec.md §4.3).
	Reply     chan AdmissionReply
}

// AdmissionReply is the gate's admit/refuse decision. On admission,
// ReleaseTerrain hands the caller the still-open undo-on-exit closure
// from the terrain semaphore acquisition: the patron now owns those
// units and must call it exactly once, whether that is on the
// ON_TERRAIN→ON_PLATFORM transition or on any earlier cleanup exit.
type AdmissionReply struct {
	Admitted       bool
	Reason         string
	ReleaseTerrain func()
}

// Gate is one gate-1 agent. Incoming requests are held in a two-channel
// internal/queue.PriorityQueue, drained VIP-first, the direct analogue
// of spec.md §9's vipCh/normalCh split for gate admission traffic.
type Gate struct {
	index     int
	resources *Resources
	state     *state.State
	metrics   *observability.Metrics
	logger    *zap.Logger

	requests *queue.PriorityQueue[AdmissionRequest]
}

// NewGate creates gate number index (1-based, matching spec.md's "VIPs
// route to gate 1 exclusively" language).
func NewGate(index int, resources *Resources, st *state.State, metrics *observability.Metrics, logger *zap.Logger) *Gate {
	return &Gate{
		index:     index,
		resources: resources,
		state:     st,
		metrics:   metrics,
		logger:    logger.Named("gate").With(zap.Int("gate", index)),
		requests:  queue.New(32, func(r AdmissionRequest) bool { return r.VIP }),
	}
}

// Submit enqueues req, backing off under load (internal/queue.Send) and
// returning early if ctx is cancelled before the gate accepts it.
func (g *Gate) Submit(ctx context.Context, req AdmissionRequest) error {
	if err := g.requests.Send(ctx, req); err != nil {
		g.requests.RecordDrop()
		return err
	}
	return nil
}

// Run services admission requests until ctx is cancelled.
func (g *Gate) Run(ctx context.Context) {
	for {
		req, ok := g.requests.Next(ctx)
		if !ok {
			return
		}
		req.Reply <- g.handle(ctx, req)
	}
}

func (g *Gate) handle(ctx context.Context, req AdmissionRequest) AdmissionReply {
	pass := g.state.Passes.Get(req.PassID)
	if pass == nil || !pass.Valid(time.Now()) {
		return g.refuse("invalid or expired pass")
	}

	release, err := g.resources.AcquireTerrain(ctx, req.GroupSize)
	if err != nil {
		return g.refuse("terrain acquisition interrupted")
	}
	// Undo-on-exit: every early return below releases the reserved
	// terrain units instead of leaking them.
	refunded := false
	refund := func() {
		if !refunded {
			refunded = true
			release()
		}
	}

	// Re-verify after the wait: time elapsed while blocked on the
	// semaphore may have expired the pass (spec.md §4.3 step 4).
	if !pass.Valid(time.Now()) {
		refund()
		return g.refuse("pass expired while waiting for terrain capacity")
	}

	if req.Alive != nil && !req.Alive() {
		refund()
		return g.refuse("patron no longer present")
	}

	endOfDay := g.state.Phase.EndOfDayAt()
	pass.Activate(time.Now(), endOfDay)
	if pass.Kind == state.PassSingleRide {
		pass.Consume()
	}

	g.state.Counters.OnTerrain.Add(int64(req.GroupSize))
	g.state.Counters.TotalAdmitted.Add(1)
	g.state.Transit.Append(state.TransitEvent{
		PatronID: req.PatronID,
		PassID:   req.PassID,
		Kind:     state.TransitAdmittedTerrain,
		VIP:      req.VIP,
		At:       time.Now(),
	})
	if g.metrics != nil {
		g.metrics.AdmissionsTotal.WithLabelValues("admitted").Inc()
		g.metrics.OnTerrain.Add(float64(req.GroupSize))
	}

	// Success: the caller now owns the terrain units and the release
	// closure that returns them.
	return AdmissionReply{Admitted: true, ReleaseTerrain: refund}
}

func (g *Gate) refuse(reason string) AdmissionReply {
	g.state.Counters.TotalRejected.Add(1)
	if g.metrics != nil {
		g.metrics.AdmissionsTotal.WithLabelValues("rejected").Inc()
	}
	return AdmissionReply{Admitted: false, Reason: reason}
}

// PickGate selects which gate a patron targets: gate 1 exclusively for
// VIPs, uniformly among the remaining gates for everyone else.
func PickGate(gates []*Gate, vip bool, rng *rand.Rand) *Gate {
	if vip || len(gates) == 1 {
		return gates[0]
	}
	rest := gates[1:]
	return rest[rng.Intn(len(rest))]
}
