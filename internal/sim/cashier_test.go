package sim

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/config"
	"github.com/octoreflex/chairlift/internal/state"
)

func newTestCashier(t *testing.T) (*Cashier, *state.State) {
	t.Helper()
	cfg := config.Defaults()
	st := state.New(1000, 1000)
	c := NewCashier(&cfg, st, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)
	return c, st
}

func TestCashierRefusesUnsupervisedMinor(t *testing.T) {
	c, _ := newTestCashier(t)
	ctx := context.Background()
	reply, err := SendPurchase(ctx, c, PurchaseRequest{PatronID: 1, Age: 6, Children: 0, Reply: make(chan PurchaseReply, 1)})
	if err != nil {
		t.Fatalf("SendPurchase: %v", err)
	}
	if reply.OK {
		t.Fatal("expected refusal for unsupervised minor")
	}
	if c.RejectedUnsupervised() != 1 {
		t.Fatalf("expected 1 rejected unsupervised minor, got %d", c.RejectedUnsupervised())
	}
}

func TestCashierSellsToSupervisedAdult(t *testing.T) {
	c, _ := newTestCashier(t)
	ctx := context.Background()
	reply, err := SendPurchase(ctx, c, PurchaseRequest{PatronID: 2, Age: 30, Children: 0, Reply: make(chan PurchaseReply, 1)})
	if err != nil {
		t.Fatalf("SendPurchase: %v", err)
	}
	if !reply.OK || reply.PassID == 0 {
		t.Fatalf("expected a successful sale, got %+v", reply)
	}
}

func TestCashierRefusesOutsideOpenPhase(t *testing.T) {
	c, st := newTestCashier(t)
	st.Phase.Advance(state.PhaseClosing)
	ctx := context.Background()
	reply, err := SendPurchase(ctx, c, PurchaseRequest{PatronID: 3, Age: 30, Reply: make(chan PurchaseReply, 1)})
	if err != nil {
		t.Fatalf("SendPurchase: %v", err)
	}
	if reply.OK {
		t.Fatal("expected refusal once the day is no longer OPEN")
	}
}

func TestCashierCreatesChildPasses(t *testing.T) {
	c, _ := newTestCashier(t)
	ctx := context.Background()
	reply, err := SendPurchase(ctx, c, PurchaseRequest{
		PatronID: 4, Age: 35, Children: 2, ChildAges: []int{5, 6},
		Reply: make(chan PurchaseReply, 1),
	})
	if err != nil {
		t.Fatalf("SendPurchase: %v", err)
	}
	if !reply.OK || len(reply.ChildIDs) != 2 {
		t.Fatalf("expected 2 child passes, got %+v", reply)
	}
}

func TestCashierVIPServedBeforeQueuedNormal(t *testing.T) {
	cfg := config.Defaults()
	st := state.New(1000, 1000)
	c := NewCashier(&cfg, st, nil, zap.NewNop())

	normalReply := make(chan PurchaseReply, 1)
	c.normalRequests <- PurchaseRequest{PatronID: 10, Age: 30, Reply: normalReply}
	vipReply := make(chan PurchaseReply, 1)
	c.vipRequests <- PurchaseRequest{PatronID: 11, Age: 30, VIP: true, Reply: vipReply}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// Pass ids are handed out in service order, so the request served
	// first holds the lower pass id.
	vip := <-vipReply
	normal := <-normalReply
	if !vip.OK || !normal.OK || vip.PassID > normal.PassID {
		t.Fatalf("expected VIP served first, got VIP pass %d, normal pass %d", vip.PassID, normal.PassID)
	}
}
