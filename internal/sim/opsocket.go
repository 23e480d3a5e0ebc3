// opsocket.go — the operator inspection/override socket.
//
// Grounded on the teacher's internal/operator/server.go: newline-
// delimited JSON over a Unix domain socket, 0600 permissions, a bounded
// concurrent-connection semaphore, and a per-connection read/write
// deadline. The command set is reshaped for this domain — there is no
// per-PID state ladder to reset/pin/unpin, only a read-only resort
// snapshot, a single pass lookup, and the two breakdown triggers spec.md
// §6 already exposes via SIGUSR1/SIGUSR2 — so an operator can drive the
// same protocol over the socket instead of (or in addition to) signals.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/chairlift/internal/telemetry"
)

const (
	opSocketMaxConns    = 4
	opSocketMaxReqBytes = 4096
	opSocketConnTimeout = 10 * time.Second
)

// OpRequest is the JSON structure for a single inspection/override
// command, one per connection.
type OpRequest struct {
	Cmd    string `json:"cmd"`               // status | pass | breakdown-stop | breakdown-resume
	PassID uint64 `json:"pass_id,omitempty"` // target pass for the pass command
}

// OpStatusSnapshot is the resort-wide status returned by the status
// command.
type OpStatusSnapshot struct {
	Phase             string  `json:"phase"`
	BreakdownActive   bool    `json:"breakdown_active"`
	BreakdownBy       int     `json:"breakdown_initiator,omitempty"`
	SignalsAbsorbed   uint64  `json:"signals_absorbed"`
	OnTerrain         int64   `json:"on_terrain"`
	OnPlatform        int64   `json:"on_platform"`
	OnChair           int64   `json:"on_chair"`
	OnTop             int64   `json:"on_top"`
	ActivePatrons     int64   `json:"active_patrons"`
	TotalAdmitted     int64   `json:"total_admitted"`
	TotalRejected     int64   `json:"total_rejected"`
	TotalRides        int64   `json:"total_rides"`
	Panicked          bool    `json:"panicked"`
	PanickedBy        string  `json:"panicked_by,omitempty"`
	OccupancyPressure float64 `json:"occupancy_pressure"`
	RouteDiversity    float64 `json:"route_diversity"`
}

// OpPassSnapshot is a single pass's visible state, returned by the pass
// command.
type OpPassSnapshot struct {
	ID              uint64 `json:"id"`
	Kind            string `json:"kind"`
	VIP             bool   `json:"vip"`
	Valid           bool   `json:"valid"`
	ActivatedAt     string `json:"activated_at,omitempty"`
	ValiditySeconds int    `json:"validity_seconds"`
}

// OpResponse is the JSON structure for a command response.
type OpResponse struct {
	OK     bool              `json:"ok"`
	Error  string            `json:"error,omitempty"`
	Status *OpStatusSnapshot `json:"status,omitempty"`
	Pass   *OpPassSnapshot   `json:"pass,omitempty"`
}

// OpRegistry is the narrow view of a running Supervisor the socket
// server needs. Satisfied by *Supervisor.
type OpRegistry interface {
	OpStatus() OpStatusSnapshot
	OpLookupPass(id uint64) (OpPassSnapshot, bool)
	TriggerBreakdownStop() bool
	TriggerBreakdownResume() bool
}

// OpServer is the operator Unix domain socket server.
type OpServer struct {
	socketPath string
	registry   OpRegistry
	logger     *zap.Logger
	sem        chan struct{}
}

// NewOpServer creates an OpServer bound to socketPath once ListenAndServe
// runs.
func NewOpServer(socketPath string, registry OpRegistry, logger *zap.Logger) *OpServer {
	return &OpServer{
		socketPath: socketPath,
		registry:   registry,
		logger:     logger.Named("opsocket"),
		sem:        make(chan struct{}, opSocketMaxConns),
	}
}

// ListenAndServe binds the Unix socket, removing any stale file first,
// and serves connections until ctx is cancelled.
func (s *OpServer) ListenAndServe(ctx context.Context) error {
	if s.socketPath == "" {
		return fmt.Errorf("opsocket: empty socket path")
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("opsocket: remove stale socket %q: %w", s.socketPath, err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("opsocket: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("opsocket: chmod %q: %w", s.socketPath, err)
	}
	s.logger.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger.Warn("opsocket: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.logger.Warn("opsocket: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *OpServer) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(opSocketConnTimeout))

	buf := make([]byte, opSocketMaxReqBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.logger.Warn("opsocket: read error", zap.Error(err))
		return
	}

	var req OpRequest
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, OpResponse{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}
	s.writeResponse(conn, s.dispatch(req))
}

func (s *OpServer) dispatch(req OpRequest) OpResponse {
	switch req.Cmd {
	case "status":
		status := s.registry.OpStatus()
		return OpResponse{OK: true, Status: &status}
	case "pass":
		pass, ok := s.registry.OpLookupPass(req.PassID)
		if !ok {
			return OpResponse{OK: false, Error: fmt.Sprintf("pass %d not found", req.PassID)}
		}
		return OpResponse{OK: true, Pass: &pass}
	case "breakdown-stop":
		if !s.registry.TriggerBreakdownStop() {
			return OpResponse{OK: false, Error: "stop signal dropped (no operator ready or budget exhausted)"}
		}
		return OpResponse{OK: true}
	case "breakdown-resume":
		if !s.registry.TriggerBreakdownResume() {
			return OpResponse{OK: false, Error: "resume signal dropped (not the initiator, or budget exhausted)"}
		}
		return OpResponse{OK: true}
	default:
		return OpResponse{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *OpServer) writeResponse(conn net.Conn, resp OpResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

// OpStatus implements OpRegistry for *Supervisor.
func (s *Supervisor) OpStatus() OpStatusSnapshot {
	panicked, by := s.state.Panic()
	var pressure float64
	if s.pressure != nil {
		pressure = s.pressure.Value()
	}
	return OpStatusSnapshot{
		Phase:             s.state.Phase.Current().String(),
		BreakdownActive:   s.state.Breakdown.Active(),
		BreakdownBy:       s.state.Breakdown.InitiatorPID(),
		SignalsAbsorbed:   s.state.Breakdown.SignalsAbsorbed(),
		OnTerrain:         s.state.Counters.OnTerrain.Load(),
		OnPlatform:        s.state.Counters.OnPlatform.Load(),
		OnChair:           s.state.Counters.OnChair.Load(),
		OnTop:             s.state.Counters.OnTop.Load(),
		ActivePatrons:     s.state.Counters.ActivePatrons.Load(),
		TotalAdmitted:     s.state.Counters.TotalAdmitted.Load(),
		TotalRejected:     s.state.Counters.TotalRejected.Load(),
		TotalRides:        s.state.Counters.TotalRides.Load(),
		Panicked:          panicked,
		PanickedBy:        by,
		OccupancyPressure: pressure,
		RouteDiversity:    telemetry.NormalisedEntropy(s.state.Counters.RouteTally(), 4),
	}
}

// OpLookupPass implements OpRegistry for *Supervisor.
func (s *Supervisor) OpLookupPass(id uint64) (OpPassSnapshot, bool) {
	pass := s.state.Passes.Get(id)
	if pass == nil {
		return OpPassSnapshot{}, false
	}
	snap := OpPassSnapshot{
		ID:              pass.ID,
		Kind:            pass.Kind.String(),
		VIP:             pass.VIP,
		Valid:           pass.Valid(time.Now()),
		ValiditySeconds: pass.ValiditySeconds,
	}
	if !pass.ActivatedAt.IsZero() {
		snap.ActivatedAt = pass.ActivatedAt.Format(time.RFC3339)
	}
	return snap, true
}

var _ OpRegistry = (*Supervisor)(nil)
