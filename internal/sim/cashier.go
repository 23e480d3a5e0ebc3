// cashier.go — pass sales (spec.md §4.4).
//
// Grounded on the original kasjer.c for the reply shape (pass id plus
// child pass ids in one response) and on internal/queue's VIP-first
// drain for request ordering.
package sim

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/config"
	"github.com/octoreflex/chairlift/internal/state"
	"github.com/octoreflex/chairlift/internal/storage"
)

// PurchaseRequest is a patron's request to the cashier.
type PurchaseRequest struct {
	PatronID  uint64
	Age       int
	VIP       bool
	Children  int
	ChildAges []int
	Reply     chan PurchaseReply
}

// PurchaseReply mirrors kasjer.c's reply shape: the purchaser's own pass
// id plus one pass id per child.
type PurchaseReply struct {
	OK       bool
	PassID   uint64
	ChildIDs []uint64
	Reason   string
}

// Cashier services purchase requests from two channels, VIP and normal,
// drained VIP-first (spec.md §4.4: "VIP requests are serviced first by
// priority-typed receive") — the same two-channel typed-priority pattern
// internal/queue.PriorityQueue implements for gate admission, reproduced
// here as dedicated fields rather than a second PriorityQueue instance
// so Run's select can also watch ctx.Done() in the same statement.
type Cashier struct {
	cfg    *config.Config
	state  *state.State
	db     *storage.DB
	logger *zap.Logger
	rng    *rand.Rand

	vipRequests    chan PurchaseRequest
	normalRequests chan PurchaseRequest

	rejectedUnsupervised atomic.Int64
}

// NewCashier creates a Cashier with internally owned request channels.
func NewCashier(cfg *config.Config, st *state.State, db *storage.DB, logger *zap.Logger) *Cashier {
	return &Cashier{
		cfg:            cfg,
		state:          st,
		db:             db,
		logger:         logger.Named("cashier"),
		rng:            rand.New(rand.NewSource(1)),
		vipRequests:    make(chan PurchaseRequest, 64),
		normalRequests: make(chan PurchaseRequest, 64),
	}
}

// Run services requests until ctx is cancelled, always draining a
// pending VIP request before a normal one. Intended to run in its own
// goroutine for the supervisor's lifetime.
func (c *Cashier) Run(ctx context.Context) {
	for {
		select {
		case req := <-c.vipRequests:
			req.Reply <- c.handle(req)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case req := <-c.vipRequests:
			req.Reply <- c.handle(req)
		case req := <-c.normalRequests:
			req.Reply <- c.handle(req)
		}
	}
}

func (c *Cashier) handle(req PurchaseRequest) PurchaseReply {
	if c.state.Phase.Current() != state.PhaseOpen {
		return PurchaseReply{OK: false, Reason: "resort closed"}
	}

	if req.Age < c.cfg.Pricing.UnsupervisedMinorAge && req.Children == 0 {
		c.rejectedUnsupervised.Add(1)
		return PurchaseReply{OK: false, Reason: "unsupervised minor"}
	}

	kind := c.rollPassKind()
	priceCents, validitySeconds := c.priceAndValidity(kind, req.Age)

	pass, err := c.state.Passes.Create(kind, validitySeconds, priceCents, req.VIP)
	if err != nil {
		return PurchaseReply{OK: false, Reason: err.Error()}
	}

	childIDs := make([]uint64, 0, len(req.ChildAges))
	for _, age := range req.ChildAges {
		childPrice, childValidity := c.priceAndValidity(kind, age)
		childPass, err := c.state.Passes.Create(kind, childValidity, childPrice, false)
		if err != nil {
			break // Registry full mid-family: the parent's pass still stands.
		}
		childIDs = append(childIDs, childPass.ID)
		c.recordSale(childPass, age)
	}

	c.recordSale(pass, req.Age)

	return PurchaseReply{OK: true, PassID: pass.ID, ChildIDs: childIDs}
}

func (c *Cashier) recordSale(p *state.Pass, age int) {
	if c.db != nil {
		if err := c.db.PutSale(storage.SaleRecord{
			PassID:          p.ID,
			Kind:            p.Kind.String(),
			PriceCents:      p.PriceCents,
			ValiditySeconds: p.ValiditySeconds,
			VIP:             p.VIP,
			PatronAge:       age,
			SoldAt:          time.Now().UTC(),
		}); err != nil {
			c.logger.Warn("sale record not persisted", zap.Error(err), zap.Uint64("pass_id", p.ID))
		}
	}
}

func (c *Cashier) rollPassKind() state.PassKind {
	w := c.cfg.Population.PassKindWeights
	total := 0
	for _, v := range w {
		total += v
	}
	if total <= 0 {
		return state.PassSingleRide
	}
	roll := c.rng.Intn(total)
	acc := 0
	for i, v := range w {
		acc += v
		if roll < acc {
			return state.PassKind(i)
		}
	}
	return state.PassKind(len(w) - 1)
}

func (c *Cashier) priceAndValidity(kind state.PassKind, age int) (priceCents, validitySeconds int) {
	p := c.cfg.Pricing
	switch kind {
	case state.PassSingleRide:
		priceCents, validitySeconds = p.PriceSingleRideCents, 0
	case state.PassTimed30:
		priceCents, validitySeconds = p.PriceTimed30Cents, p.ValidityTimed30Seconds
	case state.PassTimed60:
		priceCents, validitySeconds = p.PriceTimed60Cents, p.ValidityTimed60Seconds
	case state.PassTimed120:
		priceCents, validitySeconds = p.PriceTimed120Cents, p.ValidityTimed120Seconds
	case state.PassDaily:
		priceCents, validitySeconds = p.PriceDailyCents, p.ValidityDailySeconds
	default:
		priceCents, validitySeconds = p.PriceSingleRideCents, 0
	}

	if age < p.ChildDiscountAge || age >= p.SeniorDiscountAge {
		priceCents -= priceCents * p.DiscountPercent / 100
	}
	return priceCents, validitySeconds
}

// RejectedUnsupervised returns the lifetime count of refused unsupervised
// minors. The count is read only through this method; no report prints it.
func (c *Cashier) RejectedUnsupervised() int {
	return int(c.rejectedUnsupervised.Load())
}

// SendPurchase is the patron-side helper: submit req and block for the
// reply, honoring ctx cancellation (day-phase departure, shutdown).
func SendPurchase(ctx context.Context, c *Cashier, req PurchaseRequest) (PurchaseReply, error) {
	ch := c.normalRequests
	if req.VIP {
		ch = c.vipRequests
	}
	select {
	case ch <- req:
	case <-ctx.Done():
		return PurchaseReply{}, ctx.Err()
	}
	select {
	case reply := <-req.Reply:
		return reply, nil
	case <-ctx.Done():
		return PurchaseReply{}, ctx.Err()
	}
}
