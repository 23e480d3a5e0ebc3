// Package guardian implements the crash-safety protocol: the owner lock
// that prevents two supervisor instances from running at once and
// records whether the previous run exited cleanly, and the Guardian
// sibling process that reclaims resources if the supervisor dies
// abnormally (spec.md §4.8).
//
// ownerlock.go — the owner lock file. Grounded on the teacher's use of
// golang.org/x/sys/unix for OS-level primitives (x/sys already appears
// in the teacher's go.mod for syscall-level process inspection); a real
// flock(2) advisory lock is the natural Go equivalent of the original's
// lock-file-plus-DIRTY-byte protocol, rather than hand-rolling PID-file
// parsing.
package guardian

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OwnerLock is an exclusive advisory lock on a single file, plus a DIRTY
// byte recording whether the holder exited cleanly.
type OwnerLock struct {
	file *os.File
}

// AcquireOwnerLock opens (creating if absent) the lock file at path and
// takes a non-blocking exclusive flock. Returns an error if another
// supervisor instance already holds the lock (spec §3 invariant 7: only
// one supervisor instance is live at a time).
func AcquireOwnerLock(path string) (*OwnerLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("guardian: open lock file %q: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("guardian: another supervisor instance holds %q: %w", path, err)
	}

	return &OwnerLock{file: f}, nil
}

// WasDirty reports whether the lock file's single content byte is '1',
// meaning the previous holder did not clear it before exiting — i.e. the
// previous run crashed and key-based IPC cleanup is required before new
// resources are created.
func (l *OwnerLock) WasDirty() (bool, error) {
	buf := make([]byte, 1)
	n, err := l.file.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return false, nil // Empty file: first run, nothing to clean up.
	}
	return n == 1 && buf[0] == '1', nil
}

// MarkDirty writes '1' at offset 0 and fsyncs, to be read back by the
// next AcquireOwnerLock if this process crashes before MarkClean.
func (l *OwnerLock) MarkDirty() error {
	return l.writeByte('1')
}

// MarkClean writes '0' at offset 0 and fsyncs. Call this on the clean
// shutdown path, after every IPC-equivalent resource has already been
// torn down.
func (l *OwnerLock) MarkClean() error {
	return l.writeByte('0')
}

func (l *OwnerLock) writeByte(b byte) error {
	if _, err := l.file.WriteAt([]byte{b}, 0); err != nil {
		return fmt.Errorf("guardian: write lock flag: %w", err)
	}
	return l.file.Sync()
}

// Release clears the DIRTY flag (marking a clean exit), releases the
// flock, and closes the file.
func (l *OwnerLock) Release() error {
	if err := l.MarkClean(); err != nil {
		return err
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("guardian: unlock: %w", err)
	}
	return l.file.Close()
}
