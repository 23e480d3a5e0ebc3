// sweep.go — survivor sweep by executable name.
//
// Grounded on the teacher's use of golang.org/x/sys/unix for low-level
// process inspection; /proc/<pid>/exe is the standard Linux way to find
// a running process's backing executable without shelling out to ps.
package guardian

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"go.uber.org/zap"
)

// sweepSurvivorsByName scans /proc for processes owned by the invoking
// user whose resolved executable basename matches one of names, and
// SIGKILLs each one found. Best-effort: a process that exits or whose
// /proc entry disappears mid-scan is silently skipped.
func sweepSurvivorsByName(logger *zap.Logger, names []string) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		logger.Warn("guardian: cannot read /proc for survivor sweep", zap.Error(err))
		return
	}

	uid := os.Getuid()
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}

		exePath := filepath.Join("/proc", e.Name(), "exe")
		target, err := os.Readlink(exePath)
		if err != nil {
			continue
		}
		base := filepath.Base(target)
		if _, ok := wanted[base]; !ok {
			continue
		}

		var st syscall.Stat_t
		if err := syscall.Stat(filepath.Join("/proc", e.Name()), &st); err != nil {
			continue
		}
		if int(st.Uid) != uid {
			continue
		}

		if err := syscall.Kill(pid, syscall.SIGKILL); err == nil {
			logger.Info("guardian killed survivor", zap.Int("pid", pid), zap.String("exe", base))
		}
	}
}
