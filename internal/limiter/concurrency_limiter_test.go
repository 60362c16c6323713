package limiter

import (
	"log/slog"
	"testing"

	"github.com/sora-gateway/gateway/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

func TestUnboundedCredentialAlwaysUsable(t *testing.T) {
	l := New(testLogger())
	if !l.CanUseImage(1) {
		t.Fatal("expected untracked credential to be usable")
	}
	for i := 0; i < 5; i++ {
		if !l.AcquireImage(1) {
			t.Fatalf("expected unbounded acquire #%d to succeed", i)
		}
	}
}

func TestBoundedCredentialExhausts(t *testing.T) {
	l := New(testLogger())
	l.Initialize([]CredentialLimits{{ID: 1, ImageConcurrency: 2}})

	if !l.AcquireImage(1) {
		t.Fatal("expected first acquire to succeed")
	}
	if !l.AcquireImage(1) {
		t.Fatal("expected second acquire to succeed")
	}
	if l.AcquireImage(1) {
		t.Fatal("expected third acquire to fail, slots exhausted")
	}
	if l.CanUseImage(1) {
		t.Fatal("expected CanUseImage to report exhausted")
	}

	l.ReleaseImage(1)
	if !l.CanUseImage(1) {
		t.Fatal("expected slot to be free after release")
	}
	if !l.AcquireImage(1) {
		t.Fatal("expected acquire after release to succeed")
	}
}

func TestImageAndVideoAreIndependent(t *testing.T) {
	l := New(testLogger())
	l.Initialize([]CredentialLimits{{ID: 1, ImageConcurrency: 1, VideoConcurrency: 1}})

	if !l.AcquireImage(1) {
		t.Fatal("expected image acquire to succeed")
	}
	if !l.AcquireVideo(1) {
		t.Fatal("expected video acquire to succeed independent of image")
	}
	if l.AcquireImage(1) {
		t.Fatal("expected second image acquire to fail")
	}
}

func TestResetRemovesLimit(t *testing.T) {
	l := New(testLogger())
	l.Initialize([]CredentialLimits{{ID: 1, ImageConcurrency: 1}})
	l.AcquireImage(1)

	l.Reset(1, Unbounded, Unbounded)
	if !l.CanUseImage(1) {
		t.Fatal("expected reset to Unbounded to clear the limit")
	}
	if _, bounded := l.ImageRemaining(1); bounded {
		t.Fatal("expected no bounded entry after reset to Unbounded")
	}
}
