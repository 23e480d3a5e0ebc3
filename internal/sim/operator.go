// operator.go — the two-operator breakdown protocol (spec.md §4.6).
//
// Operators are goroutines, not separate processes (only the guardian in
// internal/guardian gets a real re-exec'd OS process in this port); an
// operator's "pid" in spec.md's protocol is represented here by its
// 1-based Index, which state.Breakdown.InitiatorPID stores exactly the
// way it would store a real pid. Signal handlers never touch protocol
// state directly (spec.md §6: "every signal handler only sets an atomic
// flag... all real work runs on the main loop") — TriggerStop/TriggerResume
// push onto a small channel the operator's own Run loop drains.
package sim

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/budget"
	"github.com/octoreflex/chairlift/internal/config"
	"github.com/octoreflex/chairlift/internal/state"
)

type controlKind uint8

const (
	ctrlStop controlKind = iota
	ctrlStart
)

type controlMsg struct {
	kind  controlKind
	reply chan struct{} // Closed by the receiver on READY.
}

// Operator is one of the two symmetric breakdown-protocol state
// machines. Operator 1 additionally gates platform admission.
type Operator struct {
	Index int

	cfg    *config.Config
	state  *state.State
	budget *budget.Bucket
	logger *zap.Logger

	peer *Operator

	control  chan controlMsg // Inbound STOP/START from the peer.
	triggers chan bool       // true = stop, false = resume; external signal.

	alive atomic.Bool
}

// NewOperator creates operator index (1 or 2). Call PairWith after both
// operators exist to wire them together.
func NewOperator(index int, cfg *config.Config, st *state.State, logger *zap.Logger) *Operator {
	o := &Operator{
		Index:    index,
		cfg:      cfg,
		state:    st,
		budget:   budget.New(cfg.Breakdown.SignalBudgetCapacity, cfg.Breakdown.SignalBudgetRefill),
		logger:   logger.Named("operator").With(zap.Int("operator", index)),
		control:  make(chan controlMsg, 1),
		triggers: make(chan bool, 1),
	}
	o.alive.Store(true)
	return o
}

// PairWith wires two operators together as each other's peer.
func PairWith(a, b *Operator) {
	a.peer = b
	b.peer = a
}

// Run services peer control messages and external signal triggers until
// ctx is cancelled.
func (o *Operator) Run(ctx context.Context) {
	defer o.budget.Close()
	defer o.alive.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-o.control:
			o.handlePeerControl(msg)
		case stop := <-o.triggers:
			if stop {
				o.becomeInitiator(ctx)
			} else {
				o.attemptResume(ctx)
			}
		}
	}
}

// handlePeerControl answers the peer's STOP/START with READY, per
// spec.md §4.6: "the peer operator, on receiving STOP, sets the shared
// breakdown flag (if not already set by its initiator) and replies
// READY. On START it replies READY."
func (o *Operator) handlePeerControl(msg controlMsg) {
	switch msg.kind {
	case ctrlStop:
		o.state.Breakdown.Declare(o.peerPID())
	case ctrlStart:
		// Resume is cleared by the initiator itself; the peer only acks.
	}
	close(msg.reply)
}

func (o *Operator) peerPID() int {
	if o.peer != nil {
		return o.peer.Index
	}
	return o.Index
}

// TriggerStop is the entry point for a SIGUSR1 forwarded to this
// operator. Non-blocking: dropped if a trigger is already queued or the
// signal budget is exhausted.
func (o *Operator) TriggerStop() bool {
	if !o.budget.Consume() {
		return false
	}
	o.state.Breakdown.AbsorbSignal()
	select {
	case o.triggers <- true:
		return true
	default:
		return false
	}
}

// TriggerResume is the entry point for a SIGUSR2 forwarded to this
// operator. Spec.md §4.6: resume is "honoured only by the initiator" —
// non-initiators silently no-op inside attemptResume.
func (o *Operator) TriggerResume() bool {
	if !o.budget.Consume() {
		return false
	}
	o.state.Breakdown.AbsorbSignal()
	select {
	case o.triggers <- false:
		return true
	default:
		return false
	}
}

// becomeInitiator runs the STOP side of the protocol (spec.md §4.6
// steps 1-3).
func (o *Operator) becomeInitiator(ctx context.Context) {
	if !o.state.Breakdown.Declare(o.Index) {
		// Already mid-breakdown; nothing to do.
		return
	}
	o.logger.Info("breakdown declared")

	if o.peer == nil || !o.peer.alive.Load() {
		return
	}
	reply := make(chan struct{})
	select {
	case o.peer.control <- controlMsg{kind: ctrlStop, reply: reply}:
	case <-ctx.Done():
		return
	}

	select {
	case <-reply:
	case <-time.After(o.cfg.Breakdown.ReadyTimeout):
		o.logger.Warn("peer did not acknowledge STOP within ready_timeout")
	case <-ctx.Done():
	}
}

// attemptResume runs the START side of the protocol (spec.md §4.6 steps
// 1-4). Only the recorded initiator may clear the breakdown.
func (o *Operator) attemptResume(ctx context.Context) {
	if o.state.Breakdown.InitiatorPID() != o.Index {
		return
	}
	if o.state.Phase.Current() != state.PhaseOpen {
		return
	}
	if p, _ := o.state.Panic(); p {
		return
	}
	if o.peer == nil || !o.peer.alive.Load() {
		return
	}

	reply := make(chan struct{})
	select {
	case o.peer.control <- controlMsg{kind: ctrlStart, reply: reply}:
	case <-ctx.Done():
		return
	}

	// Unbounded wait for READY: only phase leaving OPEN or the peer
	// dying should cut this short, per spec.md §4.6 step 3.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-reply:
			o.state.Breakdown.Resume(o.Index)
			o.logger.Info("breakdown resumed")
			return
		case <-ticker.C:
			if o.state.Phase.Current() != state.PhaseOpen || !o.peer.alive.Load() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// AdmitPlatform is operator-1's platform-entry gate (spec.md §4.6: "the
// operator replies success while phase = OPEN and no breakdown is
// active, otherwise refuses"). Only meaningful on operator 1; other
// indices always refuse.
func (o *Operator) AdmitPlatform() bool {
	if o.Index != 1 {
		return false
	}
	if o.state.Phase.Current() != state.PhaseOpen {
		return false
	}
	return !o.state.Breakdown.Active()
}
