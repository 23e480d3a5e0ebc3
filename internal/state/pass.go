// pass.go — pass data model and registry.
//
// Grounded on the pass lifecycle in spec.md §3 and kasjer.c (the original
// cashier) for field shapes, and on observability/metrics.go's dedicated-
// registry pattern (a small mutex-guarded struct, not a database) for the
// registry's shape.
package state

import (
	"sync"
	"time"
)

// PassKind is the kind of pass a patron may hold.
type PassKind uint8

const (
	PassSingleRide PassKind = iota
	PassTimed30
	PassTimed60
	PassTimed120
	PassDaily
)

// String returns the human-readable pass kind name.
func (k PassKind) String() string {
	switch k {
	case PassSingleRide:
		return "SINGLE_RIDE"
	case PassTimed30:
		return "TIMED_30"
	case PassTimed60:
		return "TIMED_60"
	case PassTimed120:
		return "TIMED_120"
	case PassDaily:
		return "DAILY"
	default:
		return "UNKNOWN"
	}
}

// IsTimed reports whether the pass kind has a validity window rather than
// being consumed on first use.
func (k PassKind) IsTimed() bool {
	return k != PassSingleRide
}

// Pass is a purchased permission to ride the lift. Passes are never
// deleted; their id is a dense 1-based index into the Registry. All
// mutable fields are accessed only through Pass methods under p.mu, which
// enforce spec invariant 4: ActivatedAt, once non-zero, is never
// overwritten, and ValiditySeconds may only be reduced.
type Pass struct {
	ID              uint64
	Kind            PassKind
	ValiditySeconds int
	ActivatedAt     time.Time // Zero value means "not yet activated".
	PriceCents      int
	VIP             bool

	mu       sync.Mutex
	consumed bool // SingleRide only.
}

// Consumed reports whether a SingleRide pass has already been used.
func (p *Pass) Consumed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumed
}

// Valid reports whether the pass may currently be accepted at gate-1,
// given the wall-clock time now. A SingleRide pass is valid until
// consumed; a timed pass is valid until ActivatedAt+ValiditySeconds has
// elapsed (or forever if not yet activated — activation happens at the
// gate that accepts it).
func (p *Pass) Valid(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Kind == PassSingleRide {
		return !p.consumed
	}
	if p.ActivatedAt.IsZero() {
		return true
	}
	return now.Before(p.ActivatedAt.Add(time.Duration(p.ValiditySeconds) * time.Second))
}

// Activate sets ActivatedAt if it has not already been set, and truncates
// ValiditySeconds so the pass never outlives endOfDay. Returns false if
// the pass was already activated (no-op in that case, per invariant 4).
func (p *Pass) Activate(now, endOfDay time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ActivatedAt.IsZero() {
		return false
	}
	p.ActivatedAt = now
	if !endOfDay.IsZero() {
		remaining := endOfDay.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		if int(remaining.Seconds()) < p.ValiditySeconds {
			p.ValiditySeconds = int(remaining.Seconds())
		}
	}
	return true
}

// Consume marks a SingleRide pass as consumed. Returns false if it was
// already consumed.
func (p *Pass) Consume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumed {
		return false
	}
	p.consumed = true
	return true
}

// PassRegistry is the dense, append-only vector of every pass ever sold.
// Creation and lookup by id both take the registry mutex (the slice only
// grows, under that mutex, and entries are never moved).
type PassRegistry struct {
	mu       sync.Mutex
	passes   []*Pass
	capacity int
}

// NewPassRegistry creates an empty registry bounded at capacity entries.
func NewPassRegistry(capacity int) *PassRegistry {
	return &PassRegistry{capacity: capacity}
}

// Create allocates a new pass with the next dense id. Returns an error if
// the registry is at capacity (spec §7: "Pass registry full — cashier
// refuses that request only").
func (r *PassRegistry) Create(kind PassKind, validitySeconds, priceCents int, vip bool) (*Pass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.passes) >= r.capacity {
		return nil, ErrRegistryFull
	}
	p := &Pass{
		ID:              uint64(len(r.passes) + 1),
		Kind:            kind,
		ValiditySeconds: validitySeconds,
		PriceCents:      priceCents,
		VIP:             vip,
	}
	r.passes = append(r.passes, p)
	return p, nil
}

// Get returns the pass with the given 1-based id, or nil if out of range.
// Held under r.mu throughout: the bounds check and the index read must
// see the same slice header, since Create appends to r.passes under the
// same lock concurrently from the cashier goroutine.
func (r *PassRegistry) Get(id uint64) *Pass {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 || id > uint64(len(r.passes)) {
		return nil
	}
	return r.passes[id-1]
}

// Count returns the number of passes ever created.
func (r *PassRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.passes)
}

// ErrRegistryFull is returned by Create when the registry is at capacity.
var ErrRegistryFull = &registryFullError{}

type registryFullError struct{}

func (*registryFullError) Error() string { return "state: pass registry is full" }
