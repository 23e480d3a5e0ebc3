package queue

import (
	"context"
	"testing"
	"time"
)

type testItem struct {
	PatronID uint64
	VIP      bool
}

func newTestQueue(capacity int) *PriorityQueue[testItem] {
	return New(capacity, func(i testItem) bool { return i.VIP })
}

func TestVIPDrainedBeforeNormal(t *testing.T) {
	q := newTestQueue(4)
	ctx := context.Background()

	if err := q.Send(ctx, testItem{PatronID: 1, VIP: false}); err != nil {
		t.Fatalf("Send normal: %v", err)
	}
	if err := q.Send(ctx, testItem{PatronID: 2, VIP: true}); err != nil {
		t.Fatalf("Send vip: %v", err)
	}

	first, ok := q.Next(ctx)
	if !ok || !first.VIP || first.PatronID != 2 {
		t.Fatalf("expected VIP request first, got %+v ok=%v", first, ok)
	}
	second, ok := q.Next(ctx)
	if !ok || second.VIP || second.PatronID != 1 {
		t.Fatalf("expected normal request second, got %+v ok=%v", second, ok)
	}
}

func TestSendRespectsContextCancellation(t *testing.T) {
	q := newTestQueue(1)
	ctx := context.Background()
	if err := q.Send(ctx, testItem{PatronID: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Send(cancelCtx, testItem{PatronID: 2}); err == nil {
		t.Fatal("expected Send to fail once the channel stays full past the deadline")
	}
}

func TestNextRespectsContextCancellation(t *testing.T) {
	q := newTestQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok := q.Next(ctx)
	if ok {
		t.Fatal("expected Next to report false on an empty, cancelled queue")
	}
}

func TestRecordDropIncrementsDropped(t *testing.T) {
	q := newTestQueue(1)
	if q.Dropped() != 0 {
		t.Fatalf("expected 0 dropped initially, got %d", q.Dropped())
	}
	q.RecordDrop()
	q.RecordDrop()
	if q.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", q.Dropped())
	}
}
