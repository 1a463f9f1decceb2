package lockfile

import (
	"path/filepath"
	"testing"
)

func TestLockUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lru.lock")

	locker, err := NewLocker(path, 0o600)
	if err != nil {
		t.Fatal("unable to create locker:", err)
	}
	defer locker.Close()

	if locker.Held() {
		t.Fatal("freshly created locker reports held")
	}

	if err := locker.Lock(true); err != nil {
		t.Fatal("unable to acquire exclusive lock:", err)
	}
	if !locker.Held() {
		t.Error("locker does not report held after Lock")
	}

	if err := locker.Unlock(); err != nil {
		t.Fatal("unable to release lock:", err)
	}
	if locker.Held() {
		t.Error("locker reports held after Unlock")
	}

	if err := locker.RLock(true); err != nil {
		t.Fatal("unable to acquire shared lock:", err)
	}
	if !locker.Held() {
		t.Error("locker does not report held after RLock")
	}
	if err := locker.Unlock(); err != nil {
		t.Fatal("unable to release shared lock:", err)
	}
}

func TestLockNonBlockingConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lru.lock")

	first, err := NewLocker(path, 0o600)
	if err != nil {
		t.Fatal("unable to create first locker:", err)
	}
	defer first.Close()

	second, err := NewLocker(path, 0o600)
	if err != nil {
		t.Fatal("unable to create second locker:", err)
	}
	defer second.Close()

	if err := first.Lock(true); err != nil {
		t.Fatal("unable to acquire exclusive lock:", err)
	}
	defer first.Unlock()

	if err := second.Lock(false); err == nil {
		t.Error("expected non-blocking lock to fail while exclusively held")
	}
}
