package state

import (
	"testing"
	"time"
)

func fixedTime() time.Time {
	return time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
}

func TestDayPhaseMachineMonotone(t *testing.T) {
	m := NewDayPhaseMachine()
	if m.Current() != PhaseOpen {
		t.Fatalf("expected OPEN, got %v", m.Current())
	}
	if _, ok := m.Advance(PhaseOpen); ok {
		t.Fatal("advancing to the same phase should not succeed")
	}
	if p, ok := m.Advance(PhaseDraining); !ok || p != PhaseDraining {
		t.Fatalf("expected DRAINING, got %v ok=%v", p, ok)
	}
	if _, ok := m.Advance(PhaseClosing); ok {
		t.Fatal("advancing backwards should not succeed")
	}
	if p := m.Current(); p != PhaseDraining {
		t.Fatalf("phase regressed to %v", p)
	}
}

func TestDayPhaseMachineFreezesEndOfDay(t *testing.T) {
	m := NewDayPhaseMachine()
	if !m.EndOfDayAt().IsZero() {
		t.Fatal("expected zero EndOfDayAt before CLOSING")
	}
	m.Advance(PhaseClosing)
	first := m.EndOfDayAt()
	if first.IsZero() {
		t.Fatal("expected EndOfDayAt to be set on entering CLOSING")
	}
	m.Advance(PhaseShutdown)
	if second := m.EndOfDayAt(); !second.Equal(first) {
		t.Fatal("EndOfDayAt must not change after it is first set")
	}
}

func TestPassRegistryActivateOnce(t *testing.T) {
	r := NewPassRegistry(4)
	p, err := r.Create(PassTimed30, 1800, 2000, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := fixedTime()
	if !p.Activate(now, time.Time{}) {
		t.Fatal("first activation should succeed")
	}
	first := p.ActivatedAt
	if p.Activate(now.Add(time.Second), time.Time{}) {
		t.Fatal("second activation should be a no-op")
	}
	if !p.ActivatedAt.Equal(first) {
		t.Fatal("ActivatedAt must not be overwritten")
	}
}

func TestPassRegistryFull(t *testing.T) {
	r := NewPassRegistry(1)
	if _, err := r.Create(PassSingleRide, 0, 500, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Create(PassSingleRide, 0, 500, false); err != ErrRegistryFull {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}
}

func TestSingleRideConsumeOnce(t *testing.T) {
	r := NewPassRegistry(1)
	p, _ := r.Create(PassSingleRide, 0, 500, false)
	if !p.Consume() {
		t.Fatal("first consume should succeed")
	}
	if p.Consume() {
		t.Fatal("second consume must fail")
	}
	if p.Valid(fixedTime()) {
		t.Fatal("a consumed single-ride pass must no longer be valid")
	}
}

func TestTransitLogDropsPastCapacity(t *testing.T) {
	l := NewTransitLog(2)
	for i := 0; i < 5; i++ {
		l.Append(TransitEvent{PatronID: uint64(i), Kind: TransitBoarded})
	}
	if l.Len() != 2 {
		t.Fatalf("expected Len()=2, got %d", l.Len())
	}
	if l.Dropped() != 3 {
		t.Fatalf("expected Dropped()=3, got %d", l.Dropped())
	}
	snap := l.Snapshot()
	if len(snap) != 2 || snap[0].PatronID != 0 || snap[1].PatronID != 1 {
		t.Fatalf("unexpected snapshot contents: %+v", snap)
	}
}

func TestBreakdownInitiatorExclusivity(t *testing.T) {
	var b Breakdown
	if !b.Declare(100) {
		t.Fatal("first Declare should succeed")
	}
	if b.Declare(200) {
		t.Fatal("a second Declare while active must fail")
	}
	if b.Resume(200) {
		t.Fatal("a non-initiator Resume must fail")
	}
	if !b.Active() {
		t.Fatal("breakdown should still be active")
	}
	if !b.Resume(100) {
		t.Fatal("the initiator's Resume should succeed")
	}
	if b.Active() {
		t.Fatal("breakdown should be cleared after initiator resume")
	}
}

func TestBreakdownWaitReleasesOnResume(t *testing.T) {
	var b Breakdown
	b.Declare(100)

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			b.Wait()
			done <- struct{}{}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("waiter returned before Resume")
	default:
	}

	b.Resume(100)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("waiter did not wake after Resume")
		}
	}
}

func TestDeclarePanicLatchesFirstCaller(t *testing.T) {
	s := New(4, 4)
	s.DeclarePanic("gate-1")
	s.DeclarePanic("lift")
	ok, by := s.Panic()
	if !ok || by != "gate-1" {
		t.Fatalf("expected panic latched by gate-1, got ok=%v by=%q", ok, by)
	}
}

func TestCountersRecordRouteTallies(t *testing.T) {
	var c Counters
	c.RecordRoute(1)
	c.RecordRoute(1)
	c.RecordRoute(3)
	c.RecordRoute(99) // out of range, must be ignored rather than panic

	tally := c.RouteTally()
	if tally[1] != 2 {
		t.Fatalf("expected route 1 tallied twice, got %d", tally[1])
	}
	if tally[3] != 1 {
		t.Fatalf("expected route 3 tallied once, got %d", tally[3])
	}
	if tally[0] != 0 || tally[2] != 0 || tally[4] != 0 {
		t.Fatalf("expected untouched routes to stay at 0, got %+v", tally)
	}
}
