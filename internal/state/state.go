// state.go — the shared aggregate handed to every worker and patron
// goroutine, standing in for spec.md's process-shared memory segment
// (see SPEC_FULL.md §0). Occupancy counters are plain atomics rather than
// semaphore-backed counts: the semaphores in internal/sim bound
// concurrent admission, while State only ever needs to report a count,
// so a CAS-free atomic avoids taking a lock on the read-mostly status
// path (used by the Prometheus gauges in internal/observability and by
// the operator inspection socket).
package state

import (
	"sync"
	"sync/atomic"
)

// Counters are the live occupancy figures invariant 1-3 in spec.md bound:
// on_terrain <= TerrainCapacity, on_platform <= PlatformSlotCapacity,
// on_chair+on_top together never exceed the physical lift capacity. The
// semaphores that actually enforce those bounds live in internal/sim;
// Counters exists purely for visibility.
type Counters struct {
	OnTerrain     atomic.Int64
	OnPlatform    atomic.Int64
	OnChair       atomic.Int64
	OnTop         atomic.Int64
	ActivePatrons atomic.Int64
	TotalAdmitted atomic.Int64
	TotalRejected atomic.Int64
	TotalRides    atomic.Int64

	// routeTally counts completed descents by route (1..4); index 0 is
	// unused so the index matches the route number directly. Feeds
	// internal/telemetry's Shannon-entropy route-diversity index shown on
	// the operator socket.
	routeTally [5]atomic.Int64
}

// RecordRoute tallies one completed descent on the given route (1..4).
// Out-of-range routes are ignored rather than panicking, since this is a
// reporting-only counter and must never be able to bring down a patron
// goroutine.
func (c *Counters) RecordRoute(route int) {
	if route < 1 || route >= len(c.routeTally) {
		return
	}
	c.routeTally[route].Add(1)
}

// RouteTally returns a snapshot of the per-route completion counts,
// shaped to feed straight into internal/telemetry.ShannonEntropy /
// NormalisedEntropy.
func (c *Counters) RouteTally() [5]uint64 {
	var snap [5]uint64
	for i := range c.routeTally {
		snap[i] = uint64(c.routeTally[i].Load())
	}
	return snap
}

// Breakdown holds the shared breakdown/resume handshake fields and the
// barrier every other goroutine parks on while a breakdown is active.
//
// spec.md §4.1 describes the barrier as "init = 0; used as a one-shot
// release where the supervisor posts it N-times to release N waiters" —
// a semaphore posted exactly N times only works if the poster knows N in
// advance. Here any number of goroutines may be waiting at any safe
// pause point, so the barrier is a sync.Cond guarded by the same mutex
// that protects active/initiatorPID, which sidesteps the classic lost-
// wakeup hazard: Wait() is always called with the condition re-checked
// under the lock, so a Release() that lands between a waiter's check and
// its Wait() call cannot be missed.
type Breakdown struct {
	mu              sync.Mutex
	cond            *sync.Cond
	active          bool
	initiatorPID    int
	generation      uint64
	signalsAbsorbed uint64
}

// initCond lazily wires the Cond to this Breakdown's own mutex. Called
// by every exported method so a zero-value Breakdown (as embedded in
// State) works without an explicit constructor.
func (b *Breakdown) initCond() {
	if b.cond == nil {
		b.cond = sync.NewCond(&b.mu)
	}
}

// Wait blocks the caller for as long as a breakdown is active. Safe to
// call from any number of goroutines concurrently; every one of them
// wakes when Resume or Release runs.
func (b *Breakdown) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCond()
	for b.active {
		b.cond.Wait()
	}
}

// Release clears any active breakdown, whoever declared it, and wakes
// every goroutine parked in Wait. Used by the supervisor's panic-shutdown
// and CLOSING transitions, which must unstick waiters even outside the
// normal initiator-driven Resume path.
func (b *Breakdown) Release() {
	b.mu.Lock()
	b.initCond()
	b.active = false
	b.initiatorPID = 0
	b.generation++
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Active reports whether a breakdown is currently in effect.
func (b *Breakdown) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// InitiatorPID returns the PID of the operator that declared the current
// breakdown, or 0 if no breakdown is active. Only that operator may
// declare resume (spec §4.6, testable property: "initiator exclusivity").
func (b *Breakdown) InitiatorPID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initiatorPID
}

// Declare marks a breakdown active with the given initiator, bumping the
// generation counter so waiters parked on the old generation wake and
// recheck. Returns false if a breakdown is already active.
func (b *Breakdown) Declare(initiatorPID int) bool {
	b.mu.Lock()
	b.initCond()
	if b.active {
		b.mu.Unlock()
		return false
	}
	b.active = true
	b.initiatorPID = initiatorPID
	b.generation++
	b.mu.Unlock()
	return true
}

// Resume clears the active breakdown if requesterPID matches the
// initiator, and wakes every goroutine parked in Wait. Returns false
// (no-op) for any other caller, enforcing initiator exclusivity, or if
// no breakdown is active.
func (b *Breakdown) Resume(requesterPID int) bool {
	b.mu.Lock()
	b.initCond()
	if !b.active || b.initiatorPID != requesterPID {
		b.mu.Unlock()
		return false
	}
	b.active = false
	b.initiatorPID = 0
	b.generation++
	b.mu.Unlock()
	b.cond.Broadcast()
	return true
}

// Generation returns the current breakdown generation counter, which
// Declare, Resume and Release each bump. Wait itself re-checks the active
// flag and does not consult it.
func (b *Breakdown) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// AbsorbSignal records a STOP/START signal that the rate limiter allowed
// through, for the signal-flap counters surfaced on the status socket.
func (b *Breakdown) AbsorbSignal() {
	b.mu.Lock()
	b.signalsAbsorbed++
	b.mu.Unlock()
}

// SignalsAbsorbed returns the count recorded by AbsorbSignal.
func (b *Breakdown) SignalsAbsorbed() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signalsAbsorbed
}

// State is the full shared aggregate. A single *State is constructed at
// supervisor startup and passed by pointer to every gate, cashier, lift,
// operator, and patron goroutine — there is exactly one instance per
// simulation run, the same way the original's process-shared memory
// segment was exactly one region per run.
type State struct {
	Phase     *DayPhaseMachine
	Passes    *PassRegistry
	Transit   *TransitLog
	Counters  Counters
	Breakdown Breakdown

	mu      sync.Mutex
	panic   bool
	panicBy string
}

// New constructs a State with a fresh phase machine and registries sized
// per the supplied capacities.
func New(passCapacity, transitCapacity int) *State {
	return &State{
		Phase:   NewDayPhaseMachine(),
		Passes:  NewPassRegistry(passCapacity),
		Transit: NewTransitLog(transitCapacity),
	}
}

// Panic reports whether the simulation has entered the unrecoverable
// panic-shutdown path (spec §4.7: any worker crash outside a patron
// goroutine forces the day to CLOSING early, after which the normal
// DRAINING and SHUTDOWN steps run).
func (s *State) Panic() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panic, s.panicBy
}

// DeclarePanic latches the panic flag with the identity of the worker
// that triggered it. Idempotent: only the first caller's identity sticks.
func (s *State) DeclarePanic(by string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic {
		return
	}
	s.panic = true
	s.panicBy = by
}
