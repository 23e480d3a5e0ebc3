// Package contrib is the simulator's plugin extension point.
//
// Grounded on the teacher's contrib/scorer.go: a name-keyed registry
// populated by init()-time registration, so a replacement
// implementation lives entirely outside internal/sim and is selected by
// a config string rather than a build tag or an edit to the core
// package. The teacher's plugin was an AnomalyScorer; this domain's
// natural extension point is route selection (internal/config's
// routes.strategy), since it's the one patron decision spec.md leaves
// as "weighted by config" rather than fully determined by physical
// constraints.
package contrib

import (
	"fmt"
	"sync"
)

// RouteContext carries what a RouteStrategy needs to pick a descent
// route for a patron that just arrived at the top station.
type RouteContext struct {
	// Cyclist is false for pedestrians, who only ever have one route
	// available (spec.md §4.2: "pedestrians always take the single
	// pedestrian route").
	Cyclist bool

	// CyclistWeights is routes.cyclist_route_weights from config, the
	// relative selection weight of the three cyclist routes in order.
	CyclistWeights [3]int
}

// RouteStrategy picks one of four descent routes (1..4; route 4 is the
// fixed pedestrian route) for a patron. Implementations must be
// goroutine-safe: the generator may run many patrons concurrently, each
// calling through the same registered strategy.
type RouteStrategy interface {
	// Name returns the stable identifier used as the routes.strategy
	// config value.
	Name() string

	// ChooseRoute returns a route in [1,4]. roll(n) must return a
	// uniform random integer in [0,n) — callers pass each patron's own
	// *rand.Rand so strategies never need their own source.
	ChooseRoute(ctx RouteContext, roll func(n int) int) int
}

var (
	routeMu       sync.RWMutex
	routeRegistry = make(map[string]RouteStrategy)
)

// RegisterRouteStrategy registers a RouteStrategy under its own Name().
// Call from an init() function. Panics on a duplicate name, matching the
// teacher's RegisterScorer.
func RegisterRouteStrategy(s RouteStrategy) {
	routeMu.Lock()
	defer routeMu.Unlock()
	if _, exists := routeRegistry[s.Name()]; exists {
		panic(fmt.Sprintf("contrib: route strategy %q already registered", s.Name()))
	}
	routeRegistry[s.Name()] = s
}

// GetRouteStrategy returns the registered strategy with the given name.
func GetRouteStrategy(name string) (RouteStrategy, error) {
	routeMu.RLock()
	defer routeMu.RUnlock()
	s, ok := routeRegistry[name]
	if !ok {
		return nil, fmt.Errorf("contrib: route strategy %q not registered (available: %v)", name, listRouteNames())
	}
	return s, nil
}

// ListRouteStrategies returns the names of every registered strategy.
func ListRouteStrategies() []string {
	routeMu.RLock()
	defer routeMu.RUnlock()
	return listRouteNames()
}

func listRouteNames() []string {
	names := make([]string, 0, len(routeRegistry))
	for name := range routeRegistry {
		names = append(names, name)
	}
	return names
}

// ─── Built-in strategy: weighted ──────────────────────────────────────────

// WeightedRouteStrategy is the default strategy, registered as
// "weighted": pedestrians get the fixed pedestrian route; cyclists roll
// a weighted pick across the three cyclist routes, reproducing the
// original kolej-linowa's single fixed distribution.
type WeightedRouteStrategy struct{}

func init() {
	RegisterRouteStrategy(&WeightedRouteStrategy{})
}

func (w *WeightedRouteStrategy) Name() string { return "weighted" }

func (w *WeightedRouteStrategy) ChooseRoute(ctx RouteContext, roll func(n int) int) int {
	if !ctx.Cyclist {
		return 4
	}
	total := ctx.CyclistWeights[0] + ctx.CyclistWeights[1] + ctx.CyclistWeights[2]
	if total <= 0 {
		return 1
	}
	r := roll(total)
	if r < ctx.CyclistWeights[0] {
		return 1
	}
	if r < ctx.CyclistWeights[0]+ctx.CyclistWeights[1] {
		return 2
	}
	return 3
}
