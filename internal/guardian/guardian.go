// guardian.go — the sibling Guardian process.
//
// The supervisor re-execs itself with a hidden flag (the same trick
// dockerd/containerd use for shim processes) to spawn the Guardian as a
// genuine separate OS process rather than a goroutine: if the supervisor
// itself is SIGKILLed, a goroutine inside it dies too, but a true
// sibling process keeps running and can still clean up (spec.md §4.8).
package guardian

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChildFlag is the hidden argv flag that tells a re-exec'd process it is
// running as the Guardian rather than the supervisor.
const ChildFlag = "-guardian-child"

// KnownExecutables lists the binary names the Guardian may find running
// under the invoking user after an abnormal parent death — the
// chairlift equivalent of the original's lift/generator/cashier/gate/
// operator/patron process set, collapsed here to the process names this
// reimplementation actually execs (see cmd/supervisor).
var KnownExecutables = []string{
	"supervisor",
	"chairlift-supervisor",
}

// Spawn re-execs the current binary with ChildFlag appended, handing it
// supervisorPID and instanceToken via environment variables so the
// child can identify which supervisor it is guarding without relying on
// argv parsing. Returns the running *exec.Cmd; the caller is responsible
// for keeping it alive for the supervisor's lifetime and for signalling
// it to clean up by creating the trigger file that RunChild polls for.
func Spawn(logger *zap.Logger, supervisorPID int) (*exec.Cmd, string, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, "", fmt.Errorf("guardian: resolve self executable: %w", err)
	}

	token := uuid.NewString()

	cmd := exec.Command(self, ChildFlag)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("CHAIRLIFT_GUARDIAN_SUPERVISOR_PID=%d", supervisorPID),
		fmt.Sprintf("CHAIRLIFT_GUARDIAN_INSTANCE_TOKEN=%s", token),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// The Guardian must survive the supervisor's own process group
	// teardown, so it gets its own group rather than inheriting ours.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("guardian: start sibling process: %w", err)
	}

	logger.Info("guardian spawned", zap.Int("guardian_pid", cmd.Process.Pid), zap.String("instance_token", token))
	return cmd, token, nil
}

// RunChild is the Guardian's own main loop, entered by cmd/supervisor
// when it detects ChildFlag on argv. It polls the supervisor PID (read
// from the environment Spawn set) and, on either abnormal parent death
// or an explicit trigger file appearing, tears down the process group
// and sweeps survivors by executable name.
func RunChild(ctx context.Context, logger *zap.Logger, supervisorPID int, processGroupPID int, triggerPath string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !processAlive(supervisorPID) {
				logger.Warn("guardian observed supervisor death, cleaning up", zap.Int("supervisor_pid", supervisorPID))
				return cleanup(logger, processGroupPID)
			}
			if triggered(triggerPath) {
				logger.Info("guardian received explicit cleanup trigger")
				return cleanup(logger, processGroupPID)
			}
		}
	}
}

// processAlive reports whether pid resolves to a live process, using the
// signal-0 idiom: sending signal 0 performs permission and existence
// checks without actually delivering a signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func triggered(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// cleanup sends SIGTERM to the process group, waits, escalates to
// SIGKILL, then sweeps any surviving processes by executable name
// (spec.md §4.8: "iterate over all processes owned by the current user
// whose executable name matches the known binaries").
func cleanup(logger *zap.Logger, pgid int) error {
	if pgid > 0 {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
		time.Sleep(300 * time.Millisecond)
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}

	sweepSurvivorsByName(logger, KnownExecutables)
	return nil
}
