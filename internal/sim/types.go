// Package sim implements the resort simulation itself: patrons, gates,
// the cashier, the lift ring, the two operators, and the generator that
// spawns patrons at a controlled rate. All of it is driven against the
// shared aggregate in internal/state, with internal/queue standing in
// for the typed message queues and golang.org/x/sync/semaphore.Weighted
// standing in for the counting semaphores of spec.md §4.1.
package sim

import (
	"math/rand"

	"github.com/octoreflex/chairlift/internal/contrib"
)

// PatronKind distinguishes a pedestrian from a cyclist, which changes
// how many platform slots the patron's group occupies and which descent
// routes are available to it.
type PatronKind uint8

const (
	KindPedestrian PatronKind = iota
	KindCyclist
)

// Patron is one simulated visitor, generated by the Generator and driven
// through its own state machine goroutine (patron.go).
type Patron struct {
	ID            uint64
	Age           int
	Kind          PatronKind
	VIP           bool
	Children      int
	ChildAges     []int
	PassID        uint64
	GroupSize     int
	PlatformSlots int
}

// NewPatron derives GroupSize and PlatformSlots from the patron's kind
// and children count, per spec.md's canonical slot rule (§9 Open
// Question resolution): children contribute exactly 1 slot each
// regardless of parent kind; the parent contributes 1 (pedestrian) or 2
// (cyclist).
func NewPatron(id uint64, age int, kind PatronKind, vip bool, children int, childAges []int) Patron {
	parentSlots := 1
	if kind == KindCyclist {
		parentSlots = 2
	}
	return Patron{
		ID:            id,
		Age:           age,
		Kind:          kind,
		VIP:           vip,
		Children:      children,
		ChildAges:     childAges,
		GroupSize:     1 + children,
		PlatformSlots: parentSlots + children,
	}
}

// Route is a descent route selected by a patron at the top station.
// T1-T3 are cyclist routes of increasing difficulty; T4 is the single
// pedestrian route.
type Route int

const (
	RouteT1 Route = 1
	RouteT2 Route = 2
	RouteT3 Route = 3
	RouteT4 Route = 4
)

// ChooseRoute picks a descent route for the patron via the named
// internal/contrib.RouteStrategy (routes.strategy in config). Falls back
// to the built-in "weighted" strategy if strategyName isn't registered,
// since a typo'd or removed plugin name must never block a patron from
// choosing a route.
func ChooseRoute(kind PatronKind, weights [3]int, strategyName string, rng *rand.Rand) Route {
	strat, err := contrib.GetRouteStrategy(strategyName)
	if err != nil {
		strat = &contrib.WeightedRouteStrategy{}
	}
	r := strat.ChooseRoute(contrib.RouteContext{
		Cyclist:        kind == KindCyclist,
		CyclistWeights: weights,
	}, rng.Intn)
	return Route(r)
}

// Row is one chair of the lift ring.
type Row struct {
	Occupants []RowOccupant
}

// RowOccupant is one boarded group sharing a row. PlatformSlots is the
// capacity unit a row's RowCapacitySlots is measured in; GroupSize is
// the headcount used for the on_chair/on_top counters.
type RowOccupant struct {
	PatronID      uint64
	GroupSize     int
	PlatformSlots int
	Reply         chan LiftSignal
}

// SlotsUsed returns the total platform-slot count currently occupied in
// the row.
func (r *Row) SlotsUsed() int {
	n := 0
	for _, o := range r.Occupants {
		n += o.PlatformSlots
	}
	return n
}

// LiftSignal is what the lift sends back to a boarding or boarded
// patron: exactly one BOARD followed by exactly one ARRIVE per accepted
// request, or exactly one STOP and nothing else (spec.md §4.5 contract).
type LiftSignal uint8

const (
	LiftBoard LiftSignal = iota
	LiftArrive
	LiftStop
)
