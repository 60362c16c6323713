package lock

import (
	"log/slog"
	"testing"
	"time"

	"github.com/sora-gateway/gateway/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

func TestTryAcquireExclusive(t *testing.T) {
	l := New(time.Minute, testLogger())

	if !l.TryAcquire(1) {
		t.Fatal("expected first acquire to succeed")
	}
	if l.TryAcquire(1) {
		t.Fatal("expected second acquire of same credential to fail")
	}
	if !l.TryAcquire(2) {
		t.Fatal("expected acquire of a different credential to succeed")
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	l := New(time.Minute, testLogger())

	if !l.TryAcquire(1) {
		t.Fatal("expected acquire to succeed")
	}
	l.Release(1)
	if !l.TryAcquire(1) {
		t.Fatal("expected acquire after release to succeed")
	}
}

func TestLockExpires(t *testing.T) {
	l := New(10*time.Millisecond, testLogger())

	if !l.TryAcquire(1) {
		t.Fatal("expected acquire to succeed")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.TryAcquire(1) {
		t.Fatal("expected acquire after timeout to succeed")
	}
}

func TestIsLocked(t *testing.T) {
	l := New(10*time.Millisecond, testLogger())

	if l.IsLocked(1) {
		t.Fatal("expected credential to start unlocked")
	}
	l.TryAcquire(1)
	if !l.IsLocked(1) {
		t.Fatal("expected credential to be locked after acquire")
	}
	time.Sleep(20 * time.Millisecond)
	if l.IsLocked(1) {
		t.Fatal("expected expired lock to report unlocked")
	}
}

func TestCleanupExpired(t *testing.T) {
	l := New(10*time.Millisecond, testLogger())

	l.TryAcquire(1)
	l.TryAcquire(2)
	time.Sleep(20 * time.Millisecond)
	l.CleanupExpired()

	if len(l.LockedCredentials()) != 0 {
		t.Fatalf("expected no locks after cleanup, got %v", l.LockedCredentials())
	}
}
