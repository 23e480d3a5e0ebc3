// Package state holds the shared, mutable core of the simulation: the
// day-phase machine, the occupancy counters, the pass registry, and the
// transit log. It is the explicitly-passed aggregate every worker and
// patron goroutine is handed a reference to — the Go-native stand-in for
// spec.md's process-shared memory segment (see SPEC_FULL.md §0).
//
// phase.go defines the day-phase state machine.
//
// Phase transition graph:
//
//	OPEN (0) ──→ CLOSING (1) ──→ DRAINING (2) ──→ SHUTDOWN (3)
//
// Monotonicity invariant (spec §3 invariant 5, §8 property 6):
//   - day_phase never decreases. There is no decay, unlike a typical
//     isolation/escalation ladder: once closing begins, the day does not
//     reopen.
//   - Phase transitions are atomic under a mutex; EndOfDayAt is frozen
//     the instant the phase first reaches CLOSING and is never rewritten.
//   - Every process — gates, cashier, lift, operators, patrons — only
//     reads Current(); only the supervisor's phase machine calls Advance().
package state

import (
	"fmt"
	"sync"
	"time"
)

// Phase is the day-phase of the simulated resort.
type Phase uint8

const (
	PhaseOpen Phase = iota
	PhaseClosing
	PhaseDraining
	PhaseShutdown
)

// String returns the human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "OPEN"
	case PhaseClosing:
		return "CLOSING"
	case PhaseDraining:
		return "DRAINING"
	case PhaseShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
	}
}

// IsTerminal reports whether the phase cannot advance further.
func (p Phase) IsTerminal() bool {
	return p == PhaseShutdown
}

// DayPhaseMachine holds the mutable day-phase for the whole simulation.
// All fields are protected by mu; do not access fields directly.
type DayPhaseMachine struct {
	mu         sync.Mutex
	current    Phase
	enteredAt  time.Time
	endOfDayAt time.Time // Frozen the instant phase first reaches CLOSING.
}

// NewDayPhaseMachine creates a DayPhaseMachine in OPEN.
func NewDayPhaseMachine() *DayPhaseMachine {
	now := time.Now()
	return &DayPhaseMachine{current: PhaseOpen, enteredAt: now}
}

// Current returns the current day phase.
func (d *DayPhaseMachine) Current() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// TimeInPhase returns how long the day has been in its current phase.
func (d *DayPhaseMachine) TimeInPhase() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Since(d.enteredAt)
}

// EndOfDayAt returns the timestamp frozen when CLOSING was first entered,
// or the zero Time if the day has not yet begun closing.
func (d *DayPhaseMachine) EndOfDayAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endOfDayAt
}

// Advance attempts to move the day to target. Returns (newPhase, true) if
// the transition occurred. Returns (currentPhase, false) if target is not
// strictly greater than the current phase — Advance never decays.
//
// The first successful Advance to PhaseClosing or higher freezes
// EndOfDayAt(); later Advance calls never modify it again.
func (d *DayPhaseMachine) Advance(target Phase) (Phase, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if target <= d.current {
		return d.current, false
	}
	d.current = target
	d.enteredAt = time.Now()
	if d.endOfDayAt.IsZero() && target >= PhaseClosing {
		d.endOfDayAt = d.enteredAt
	}
	return d.current, true
}
