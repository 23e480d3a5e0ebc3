// generator.go — the patron spawner (spec.md §4.2/§6).
//
// Grounded on golang.org/x/time/rate's standard token-bucket limiter,
// reused here instead of a hand-rolled spawn clock since the teacher's
// own budget.Bucket already exists for a different purpose (rate-
// limiting the operator signal handshake, see internal/budget); spawn
// throttling and signal-flap throttling are different enough concerns
// that giving each its own well-known mechanism is clearer than sharing
// one.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/octoreflex/chairlift/internal/config"
	"github.com/octoreflex/chairlift/internal/state"
)

// Generator spawns patron goroutines at a configured average rate,
// stopping once the day leaves OPEN but never being killed itself —
// spec.md §4.7 CLOSING: "Do not kill the generator; it observes the
// phase and stops spawning, then waits for its children."
type Generator struct {
	cfg     *config.Config
	state   *state.State
	deps    *PatronDeps
	logger  *zap.Logger
	limiter *rate.Limiter

	nextID atomic.Uint64
	rng    *rand.Rand
	rngMu  sync.Mutex
	wg     sync.WaitGroup
}

// NewGenerator creates a Generator wired to deps, which must already
// have its Cashier/Gates/Operator1/Lift populated.
func NewGenerator(cfg *config.Config, st *state.State, deps *PatronDeps, logger *zap.Logger) *Generator {
	return &Generator{
		cfg:     cfg,
		state:   st,
		deps:    deps,
		logger:  logger.Named("generator"),
		limiter: rate.NewLimiter(rate.Limit(cfg.Population.SpawnRatePerSecond), cfg.Population.SpawnBurst),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run spawns patrons until the day leaves OPEN, then waits for every
// already-spawned patron goroutine to finish before returning.
func (g *Generator) Run(ctx context.Context) {
	defer g.wg.Wait()
	for {
		if g.state.Phase.Current() != state.PhaseOpen {
			g.logger.Info("generator stopping spawn, day phase left OPEN")
			return
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return
		}
		if g.state.Phase.Current() != state.PhaseOpen {
			return
		}
		g.spawnOne(ctx)
	}
}

func (g *Generator) spawnOne(ctx context.Context) {
	id := g.nextID.Add(1)
	patron := g.rollPatron(id)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		RunPatron(ctx, g.deps, patron, g.childRand())
	}()
}

// childRand gives each patron goroutine its own *rand.Rand so patrons
// never contend on the generator's shared source, seeded deterministically
// from it under a mutex (math/rand.Rand is not safe for concurrent use).
func (g *Generator) childRand() *rand.Rand {
	g.rngMu.Lock()
	seed := g.rng.Int63()
	g.rngMu.Unlock()
	return rand.New(rand.NewSource(seed))
}

func (g *Generator) rollPatron(id uint64) Patron {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()

	pop := g.cfg.Population
	age := pop.MinAge + g.rng.Intn(pop.MaxAge-pop.MinAge+1)
	vip := g.rng.Intn(100) < pop.VIPPercent
	kind := KindPedestrian
	if g.rng.Intn(100) < pop.CyclistPercent {
		kind = KindCyclist
	}

	children := 0
	var childAges []int
	if age >= pop.AdultMinAge && g.rng.Intn(100) < pop.ChildPercent {
		children = 1
		childAges = append(childAges, pop.MinAge+g.rng.Intn(pop.AdultMinAge-pop.MinAge))
		if g.rng.Intn(100) < pop.SecondChildPercent {
			children = 2
			childAges = append(childAges, pop.MinAge+g.rng.Intn(pop.AdultMinAge-pop.MinAge))
		}
	}

	return NewPatron(id, age, kind, vip, children, childAges)
}
