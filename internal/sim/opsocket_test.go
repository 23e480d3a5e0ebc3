package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeOpRegistry is a minimal OpRegistry double for exercising the socket
// protocol without standing up a full Supervisor.
type fakeOpRegistry struct {
	status       OpStatusSnapshot
	pass         OpPassSnapshot
	passExists   bool
	stopResult   bool
	resumeResult bool
}

func (f *fakeOpRegistry) OpStatus() OpStatusSnapshot { return f.status }
func (f *fakeOpRegistry) OpLookupPass(id uint64) (OpPassSnapshot, bool) {
	if !f.passExists {
		return OpPassSnapshot{}, false
	}
	return f.pass, true
}
func (f *fakeOpRegistry) TriggerBreakdownStop() bool   { return f.stopResult }
func (f *fakeOpRegistry) TriggerBreakdownResume() bool { return f.resumeResult }

func newTestOpServer(t *testing.T, reg *fakeOpRegistry) (string, context.CancelFunc) {
	t.Helper()
	path := fmt.Sprintf("/tmp/chairlift-opsocket-test-%d-%d.sock", os.Getpid(), time.Now().UnixNano())
	srv := NewOpServer(path, reg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	go func() {
		go func() {
			for {
				if _, err := os.Stat(path); err == nil {
					close(ready)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
		_ = srv.ListenAndServe(ctx)
	}()

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("operator socket never appeared")
	}
	return path, cancel
}

func opRequest(t *testing.T, path string, req OpRequest) OpResponse {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, _ := json.Marshal(req)
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp OpResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestOpSocketStatus(t *testing.T) {
	reg := &fakeOpRegistry{status: OpStatusSnapshot{Phase: "OPEN", OnTerrain: 5}}
	path, cancel := newTestOpServer(t, reg)
	defer cancel()

	resp := opRequest(t, path, OpRequest{Cmd: "status"})
	if !resp.OK || resp.Status == nil {
		t.Fatalf("expected ok status response, got %+v", resp)
	}
	if resp.Status.Phase != "OPEN" || resp.Status.OnTerrain != 5 {
		t.Fatalf("unexpected status payload: %+v", resp.Status)
	}
}

func TestOpSocketPassNotFound(t *testing.T) {
	reg := &fakeOpRegistry{}
	path, cancel := newTestOpServer(t, reg)
	defer cancel()

	resp := opRequest(t, path, OpRequest{Cmd: "pass", PassID: 42})
	if resp.OK {
		t.Fatal("expected failure for unknown pass id")
	}
}

func TestOpSocketBreakdownTriggers(t *testing.T) {
	reg := &fakeOpRegistry{stopResult: true, resumeResult: false}
	path, cancel := newTestOpServer(t, reg)
	defer cancel()

	resp := opRequest(t, path, OpRequest{Cmd: "breakdown-stop"})
	if !resp.OK {
		t.Fatal("expected breakdown-stop to succeed")
	}

	resp = opRequest(t, path, OpRequest{Cmd: "breakdown-resume"})
	if resp.OK {
		t.Fatal("expected breakdown-resume to report failure per fake registry")
	}
}

func TestOpSocketUnknownCommand(t *testing.T) {
	reg := &fakeOpRegistry{}
	path, cancel := newTestOpServer(t, reg)
	defer cancel()

	resp := opRequest(t, path, OpRequest{Cmd: "bogus"})
	if resp.OK {
		t.Fatal("expected unknown command to fail")
	}
}
