package guardian

import (
	"path/filepath"
	"testing"
)

func TestAcquireOwnerLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chairlift.lock")

	first, err := AcquireOwnerLock(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer first.Release()

	if _, err := AcquireOwnerLock(path); err == nil {
		t.Fatal("expected second acquire to fail while the first holds the lock")
	}
}

func TestOwnerLockDirtyFlagRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chairlift.lock")

	l, err := AcquireOwnerLock(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	dirty, err := l.WasDirty()
	if err != nil {
		t.Fatalf("WasDirty: %v", err)
	}
	if dirty {
		t.Fatal("expected a fresh lock file to not be dirty")
	}

	if err := l.MarkDirty(); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	l2, err := AcquireOwnerLock(path)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	defer l2.Release()

	dirty, err = l2.WasDirty()
	if err != nil {
		t.Fatalf("WasDirty: %v", err)
	}
	if dirty {
		t.Fatal("expected Release to have cleared the dirty flag before the next acquire")
	}
}
