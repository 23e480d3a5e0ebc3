// supervisor.go — the resort's lifecycle owner (spec.md §4.7).
//
// Grounded on the teacher's supervisor main loop shape (owner lock, stale
// resource cleanup, a bounded reap/monitor tick, a staged shutdown) and
// on internal/guardian for the sibling-process crash-safety protocol.
package sim

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/config"
	"github.com/octoreflex/chairlift/internal/guardian"
	"github.com/octoreflex/chairlift/internal/observability"
	"github.com/octoreflex/chairlift/internal/state"
	"github.com/octoreflex/chairlift/internal/storage"
	"github.com/octoreflex/chairlift/internal/telemetry"
)

// Supervisor owns the full simulation lifecycle: lock acquisition, crash
// recovery, worker orchestration, and the three-phase end-of-day drain.
type Supervisor struct {
	cfg    *config.Config
	logger *zap.Logger

	LockPath    string
	TriggerPath string

	lock    *guardian.OwnerLock
	state   *state.State
	db      *storage.DB
	metrics *observability.Metrics

	resources *Resources
	gates     []*Gate
	cashier   *Cashier
	lift      *Lift
	op1, op2  *Operator
	generator *Generator
	opSocket  *OpServer
	pressure  *telemetry.PressureAccumulator

	guardianCmd *exec.Cmd

	crashed chan string // Worker name, on abnormal goroutine exit.
	wg      sync.WaitGroup
}

// DefaultLockPath and DefaultTriggerPath are the fixed on-disk paths a
// Supervisor uses unless overridden; cmd/supervisor's guardian-child
// dispatch needs DefaultTriggerPath too, since the guardian process
// never constructs a Supervisor of its own.
const (
	DefaultLockPath    = "/tmp/chairlift/supervisor.lock"
	DefaultTriggerPath = "/tmp/chairlift/guardian.trigger"
)

// NewSupervisor constructs a Supervisor from cfg. LockPath/TriggerPath
// default to fixed paths under /tmp/chairlift if left empty.
func NewSupervisor(cfg *config.Config, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		logger:      logger.Named("supervisor"),
		LockPath:    DefaultLockPath,
		TriggerPath: DefaultTriggerPath,
		crashed:     make(chan string, 8),
	}
}

// TriggerBreakdownStop forwards an externally-signalled STOP (SIGUSR1)
// to operator-1, falling back to operator-2 if operator-1 isn't built
// yet or drops the signal. Returns false if the signal was dropped (no
// operator available, or the signal budget — internal/budget — is
// exhausted).
func (s *Supervisor) TriggerBreakdownStop() bool {
	if s.op1 != nil && s.op1.TriggerStop() {
		return true
	}
	if s.op2 != nil {
		return s.op2.TriggerStop()
	}
	return false
}

// TriggerBreakdownResume forwards an externally-signalled START
// (SIGUSR2) to whichever operator is recorded as the breakdown
// initiator. Spec.md §4.6: resume is honoured only by the initiator, so
// routing to the wrong operator is a harmless no-op inside
// attemptResume — this just saves that operator a wasted wakeup.
func (s *Supervisor) TriggerBreakdownResume() bool {
	if s.state == nil || s.op1 == nil || s.op2 == nil {
		return false
	}
	switch s.state.Breakdown.InitiatorPID() {
	case s.op1.Index:
		return s.op1.TriggerResume()
	case s.op2.Index:
		return s.op2.TriggerResume()
	default:
		return false
	}
}

// Run executes the full lifecycle: acquire the owner lock, recover from
// any previous crash, stand up every worker, run the day, drain, and
// clean up. Returns a non-nil error only for startup failures; a clean
// end-of-day or a panic shutdown both return nil (the panic is recorded
// in the logs and in state.DeclarePanic's latch).
func (s *Supervisor) Run(ctx context.Context) error {
	lock, err := guardian.AcquireOwnerLock(s.LockPath)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	s.lock = lock

	dirty, err := lock.WasDirty()
	if err != nil {
		return fmt.Errorf("supervisor: check lock dirtiness: %w", err)
	}
	if dirty {
		s.logger.Warn("previous run did not exit cleanly, sweeping stale resources")
		s.cleanupStaleResources()
	}
	if err := lock.MarkDirty(); err != nil {
		return fmt.Errorf("supervisor: mark lock dirty: %w", err)
	}

	db, err := storage.Open(s.cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("supervisor: open ledger: %w", err)
	}
	s.db = db
	defer db.Close()

	s.metrics = observability.NewMetrics()

	s.buildWorkers()

	runCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	guardianCmd, _, err := guardian.Spawn(s.logger, os.Getpid())
	if err != nil {
		s.logger.Error("guardian spawn failed, continuing without crash-safety net", zap.Error(err))
	} else {
		s.guardianCmd = guardianCmd
	}

	s.launchWorkers(runCtx)

	s.mainLoop(runCtx)
	s.drain(runCtx, cancelWorkers)

	s.wg.Wait()

	if p, by := s.state.Panic(); p {
		s.logger.Error("simulation ended via panic shutdown", zap.String("triggered_by", by))
	}

	if s.guardianCmd != nil && s.guardianCmd.Process != nil {
		_ = s.guardianCmd.Process.Kill()
		_, _ = s.guardianCmd.Process.Wait()
	}

	return lock.Release()
}

func (s *Supervisor) buildWorkers() {
	s.state = state.New(s.cfg.Storage.PassRegistryCapacity, s.cfg.Storage.TransitLogCapacity)
	s.resources = NewResources(s.cfg.Terrain.Capacity, s.cfg.Terrain.PlatformSlotCapacity)

	s.gates = make([]*Gate, s.cfg.Terrain.Gate1Count)
	for i := range s.gates {
		s.gates[i] = NewGate(i+1, s.resources, s.state, s.metrics, s.logger)
	}
	s.cashier = NewCashier(s.cfg, s.state, s.db, s.logger)
	s.lift = NewLift(s.cfg, s.state, s.metrics, s.logger)
	s.op1 = NewOperator(1, s.cfg, s.state, s.logger)
	s.op2 = NewOperator(2, s.cfg, s.state, s.logger)
	PairWith(s.op1, s.op2)

	deps := &PatronDeps{
		Cfg:       s.cfg,
		State:     s.state,
		Resources: s.resources,
		Cashier:   s.cashier,
		Gates:     s.gates,
		Operator1: s.op1,
		Lift:      s.lift,
		Logger:    s.logger,
	}
	s.generator = NewGenerator(s.cfg, s.state, deps, s.logger)
	s.pressure = telemetry.NewPressureAccumulator(s.cfg.Observability.PressureAlpha)

	if s.cfg.Operator.Enabled {
		s.opSocket = NewOpServer(s.cfg.Operator.SocketPath, s, s.logger)
	}
}

func (s *Supervisor) launchWorkers(ctx context.Context) {
	s.runWorker(ctx, "metrics", func(ctx context.Context) {
		if err := s.metrics.ServeMetrics(ctx, s.cfg.Observability.MetricsAddr); err != nil {
			s.logger.Warn("metrics server exited", zap.Error(err))
		}
	})
	for i, g := range s.gates {
		s.runWorker(ctx, fmt.Sprintf("gate-%d", i+1), g.Run)
	}
	s.runWorker(ctx, "cashier", s.cashier.Run)
	s.runWorker(ctx, "lift", s.lift.Run)
	s.runWorker(ctx, "operator-1", s.op1.Run)
	s.runWorker(ctx, "operator-2", s.op2.Run)
	s.runWorker(ctx, "generator", s.generator.Run)

	if s.opSocket != nil {
		s.runWorker(ctx, "opsocket", func(ctx context.Context) {
			if err := s.opSocket.ListenAndServe(ctx); err != nil {
				s.logger.Warn("operator socket exited", zap.Error(err))
			}
		})
	}
}

// runWorker runs fn in its own goroutine, recovering a panic into a
// crash report on s.crashed — the Go-native stand-in for spec.md §4.7's
// "abnormal death of a permanent process" detection, since a goroutine
// panic (unlike a process crash) is otherwise invisible to the rest of
// the program unless recovered.
func (s *Supervisor) runWorker(ctx context.Context, name string, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("worker panicked", zap.String("worker", name), zap.Any("panic", r))
				select {
				case s.crashed <- name:
				default:
				}
			}
		}()
		fn(ctx)
	}()
}

// mainLoop runs the 100ms reap/monitor tick until the simulated day ends
// or a worker crash demands a panic shutdown.
func (s *Supervisor) mainLoop(ctx context.Context) {
	dayDeadline := time.After(time.Duration(s.cfg.Day.Seconds) * time.Second)
	ticker := time.NewTicker(s.cfg.Day.MainLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case name := <-s.crashed:
			s.panicShutdown(name)
			return
		case <-dayDeadline:
			s.logger.Info("simulated day elapsed, beginning close")
			return
		case <-ticker.C:
			s.metrics.DayPhase.Set(float64(s.state.Phase.Current()))
			occupancyRatio := float64(s.state.Counters.OnTerrain.Load()) / float64(s.cfg.Terrain.Capacity)
			s.pressure.Update(occupancyRatio)
			s.logger.Debug("status",
				zap.Int64("on_terrain", s.state.Counters.OnTerrain.Load()),
				zap.Int64("on_platform", s.state.Counters.OnPlatform.Load()),
				zap.Int64("on_chair", s.state.Counters.OnChair.Load()),
				zap.Int64("on_top", s.state.Counters.OnTop.Load()),
				zap.Int64("active_patrons", s.state.Counters.ActivePatrons.Load()),
			)
		}
	}
}

// panicShutdown implements spec.md §4.7's panic path: latch panic, force
// CLOSING, release every breakdown waiter, and let drain() finish the
// teardown on an accelerated timeline.
func (s *Supervisor) panicShutdown(crashedWorker string) {
	s.state.DeclarePanic(crashedWorker)
	s.state.Phase.Advance(state.PhaseClosing)
	s.state.Breakdown.Release()
	s.logger.Error("panic shutdown triggered", zap.String("crashed_worker", crashedWorker))
}

// drain runs CLOSING → DRAINING → SHUTDOWN (spec.md §4.7).
func (s *Supervisor) drain(ctx context.Context, cancelWorkers context.CancelFunc) {
	s.state.Phase.Advance(state.PhaseClosing)
	s.state.Breakdown.Release()
	s.metrics.DayPhase.Set(float64(state.PhaseClosing))

	s.state.Phase.Advance(state.PhaseDraining)
	s.metrics.DayPhase.Set(float64(state.PhaseDraining))

	drained := make(chan struct{})
	go func() {
		for {
			if s.liftFullyDrained() {
				close(drained)
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	select {
	case <-drained:
		s.logger.Info("lift drained cleanly")
	case <-time.After(s.cfg.Lift.DrainTimeout):
		s.logger.Warn("lift did not drain within drain_timeout, forcing shutdown")
	}

	s.state.Phase.Advance(state.PhaseShutdown)
	s.metrics.DayPhase.Set(float64(state.PhaseShutdown))
	cancelWorkers()

	shutdownDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
	case <-time.After(s.cfg.Day.ShutdownGrace):
		s.logger.Warn("workers did not exit within shutdown_grace, escalating to guardian")
		s.triggerGuardianCleanup()
	}
}

// triggerGuardianCleanup drops the trigger file the Guardian polls for
// (internal/guardian.RunChild), asking it to force-kill the process
// group when the supervisor's own workers fail to exit in time.
func (s *Supervisor) triggerGuardianCleanup() {
	if s.TriggerPath == "" {
		return
	}
	f, err := os.Create(s.TriggerPath)
	if err != nil {
		s.logger.Error("failed to drop guardian trigger file", zap.Error(err))
		return
	}
	_ = f.Close()
}

func (s *Supervisor) liftFullyDrained() bool {
	return s.state.Counters.OnTerrain.Load() == 0 &&
		s.state.Counters.OnPlatform.Load() == 0 &&
		s.state.Counters.OnChair.Load() == 0
}

// cleanupStaleResources removes on-disk artifacts a crashed previous run
// may have left behind: the guardian trigger file and the operator
// socket, if present. Failure to remove either is logged, never fatal.
func (s *Supervisor) cleanupStaleResources() {
	removeStale(s.logger, s.TriggerPath)
	removeStale(s.logger, s.cfg.Operator.SocketPath)
}

func removeStale(logger *zap.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove stale resource", zap.String("path", path), zap.Error(err))
	}
}
