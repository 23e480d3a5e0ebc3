// lift.go — the ring-buffer lift (spec.md §4.5).
//
// The ring is a fixed-size array with a moving head cursor (spec.md §9:
// "represent as a fixed-size array with a moving head cursor; logical
// positions are derived, not linked"), exactly the teacher's approach to
// representing a cyclic structure without pointer-chasing.
package sim

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/config"
	"github.com/octoreflex/chairlift/internal/observability"
	"github.com/octoreflex/chairlift/internal/state"
)

// BoardRequest is a patron's request to board the next row at the lower
// station.
type BoardRequest struct {
	PatronID      uint64
	VIP           bool
	PlatformSlots int
	GroupSize     int
	Reply         chan LiftSignal
}

// Lift is the ring-buffer lift. Not safe for concurrent use outside its
// own Run goroutine; BoardRequest is the only external entry point.
type Lift struct {
	cfg     *config.Config
	state   *state.State
	metrics *observability.Metrics
	logger  *zap.Logger

	rows []Row
	head int // Index of the row currently at the lower station.

	staged   []BoardRequest
	Requests chan BoardRequest
}

// NewLift creates a Lift with cfg.Lift.Rows empty rows. Platform-slot
// capacity is released back to Resources.Platform by each patron's own
// goroutine once it receives LiftBoard (patron.go), which is how
// spec.md §4.1's "replenished by the operator as rows cycle" language
// is realized here: the slot frees the instant its holder leaves the
// platform for the chair, not on a separate replenishment step.
func NewLift(cfg *config.Config, st *state.State, metrics *observability.Metrics, logger *zap.Logger) *Lift {
	return &Lift{
		cfg:      cfg,
		state:    st,
		metrics:  metrics,
		logger:   logger.Named("lift"),
		rows:     make([]Row, cfg.Lift.Rows),
		Requests: make(chan BoardRequest, 256),
	}
}

// upperIndex returns the ring index currently at the upper station.
func (l *Lift) upperIndex() int {
	return (l.head + len(l.rows)/2) % len(l.rows)
}

// Run ticks the lift every cfg.Lift.TickInterval until the day fully
// drains. Intended to run in its own goroutine for the supervisor's
// lifetime.
func (l *Lift) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Lift.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.drainShutdown()
			return
		case <-ticker.C:
			l.tick(ctx)
			if l.shouldExit() {
				l.logger.Info("lift drained, exiting after shutdown grace", zap.Duration("grace", l.cfg.Lift.ShutdownGrace))
				time.Sleep(l.cfg.Lift.ShutdownGrace)
				return
			}
		}
	}
}

func (l *Lift) shouldExit() bool {
	if l.state.Phase.Current() < state.PhaseDraining {
		return false
	}
	if len(l.staged) > 0 {
		return false
	}
	for i := range l.rows {
		if len(l.rows[i].Occupants) > 0 {
			return false
		}
	}
	return true
}

// tick runs one dismount/board/advance cycle.
func (l *Lift) tick(ctx context.Context) {
	l.waitForBreakdown()
	l.dismount()
	l.drainQueueIntoStaging(ctx)
	l.board()
	l.head = (l.head + 1) % len(l.rows)
}

func (l *Lift) waitForBreakdown() {
	l.state.Breakdown.Wait()
}

// dismount sends ARRIVE to every occupant of the row at the upper
// station, moves group_size from on_chair to on_top, and clears the row.
func (l *Lift) dismount() {
	idx := l.upperIndex()
	row := &l.rows[idx]
	for _, occ := range row.Occupants {
		occ.Reply <- LiftArrive
		l.state.Counters.OnChair.Add(-int64(occ.GroupSize))
		l.state.Counters.OnTop.Add(int64(occ.GroupSize))
		l.state.Counters.TotalRides.Add(1)
		l.state.Transit.Append(state.TransitEvent{
			PatronID: occ.PatronID,
			Kind:     state.TransitDismounted,
			At:       time.Now(),
		})
		if l.metrics != nil {
			l.metrics.OnLift.Add(-float64(occ.GroupSize))
		}
	}
	row.Occupants = nil
}

// drainQueueIntoStaging non-blockingly pulls every currently pending
// BoardRequest off the channel into the staging list, per spec.md §4.5
// step 2: "Drain the lift-request queue into an in-memory staging
// list." Requests arriving after this drain wait for the next tick.
func (l *Lift) drainQueueIntoStaging(ctx context.Context) {
	if l.state.Phase.Current() >= state.PhaseClosing {
		// Stop accepting new boarding requests once closing begins: each
		// request still queued is answered with STOP. The staging list
		// already collected is still honored.
		for {
			select {
			case req := <-l.Requests:
				req.Reply <- LiftStop
			default:
				return
			}
		}
	}
	for {
		select {
		case req := <-l.Requests:
			l.staged = append(l.staged, req)
		default:
			return
		}
	}
}

// board packs the row at the lower station in two passes — VIPs first,
// then everyone else — per spec.md §4.5 step 2.
func (l *Lift) board() {
	idx := l.head
	row := &l.rows[idx]
	capacity := l.cfg.Lift.RowCapacitySlots

	for _, pass := range []bool{true, false} {
		var stillStaged []BoardRequest
		for _, req := range l.staged {
			if req.VIP != pass {
				stillStaged = append(stillStaged, req)
				continue
			}
			used := row.SlotsUsed()
			if used+req.PlatformSlots <= capacity {
				row.Occupants = append(row.Occupants, RowOccupant{
					PatronID:      req.PatronID,
					GroupSize:     req.GroupSize,
					PlatformSlots: req.PlatformSlots,
					Reply:         req.Reply,
				})
				req.Reply <- LiftBoard
				l.state.Transit.Append(state.TransitEvent{
					PatronID: req.PatronID,
					Kind:     state.TransitBoarded,
					VIP:      req.VIP,
					At:       time.Now(),
				})
				if l.metrics != nil {
					l.metrics.OnLift.Add(float64(req.GroupSize))
				}
			} else {
				stillStaged = append(stillStaged, req)
			}
		}
		l.staged = stillStaged
	}
}

// drainShutdown sends STOP to every staged request once the context is
// cancelled directly (rather than via the DRAINING phase), so no
// goroutine is left blocked on Reply forever.
func (l *Lift) drainShutdown() {
	for _, req := range l.staged {
		req.Reply <- LiftStop
	}
	l.staged = nil
}
