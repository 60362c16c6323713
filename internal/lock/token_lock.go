// Package lock implements the per-credential exclusive lock that serializes
// image generation on a single upstream account (spec.md §4.4). It is a
// direct Go port of the original TokenLock in
// original_source/src/services/token_lock.py, trading its asyncio.Lock +
// dict for a sync.Mutex + map guarded the way polling_manager.go guards its
// workers map.
package lock

import (
	"sync"
	"time"

	"github.com/sora-gateway/gateway/internal/logger"
)

const defaultTimeout = 5 * time.Minute

// Metrics is the subset of internal/metrics the TokenLock reports
// acquisition outcomes through.
type Metrics interface {
	ObserveLock(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveLock(string) {}

// TokenLock is a per-credential self-expiring exclusive lock.
//
// Thread-safety: all methods are thread-safe.
type TokenLock struct {
	mu      sync.Mutex
	locks   map[int64]time.Time // credential id -> acquired-at
	timeout time.Duration
	log     *logger.Logger
	metrics Metrics
}

// New creates a TokenLock with the given lock timeout. A non-positive
// timeout falls back to the 5-minute default the original service used.
func New(timeout time.Duration, log *logger.Logger) *TokenLock {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &TokenLock{
		locks:   make(map[int64]time.Time),
		timeout: timeout,
		log:     log.WithComponent("token_lock"),
		metrics: noopMetrics{},
	}
}

// SetMetrics wires a Metrics sink, replacing the no-op default.
func (l *TokenLock) SetMetrics(m Metrics) { l.metrics = m }

// TryAcquire attempts to lock credentialID for image generation. It returns
// false if another caller already holds a non-expired lock.
func (l *TokenLock) TryAcquire(credentialID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if acquiredAt, held := l.locks[credentialID]; held {
		if now.Sub(acquiredAt) > l.timeout {
			l.log.Debug("lock expired, releasing", "credential_id", credentialID)
			delete(l.locks, credentialID)
		} else {
			l.log.Debug("credential is locked", "credential_id", credentialID,
				"remaining_seconds", (l.timeout - now.Sub(acquiredAt)).Seconds())
			l.metrics.ObserveLock("contended")
			return false
		}
	}

	l.locks[credentialID] = now
	l.log.Debug("lock acquired", "credential_id", credentialID)
	l.metrics.ObserveLock("acquired")
	return true
}

// Release frees credentialID's lock, if held.
func (l *TokenLock) Release(credentialID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locks[credentialID]; held {
		delete(l.locks, credentialID)
		l.log.Debug("lock released", "credential_id", credentialID)
	}
}

// IsLocked reports whether credentialID currently holds a non-expired lock.
func (l *TokenLock) IsLocked(credentialID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	acquiredAt, held := l.locks[credentialID]
	if !held {
		return false
	}
	if time.Since(acquiredAt) > l.timeout {
		delete(l.locks, credentialID)
		return false
	}
	return true
}

// CleanupExpired removes every lock whose timeout has elapsed. It is meant
// to be called periodically from a ticker goroutine.
func (l *TokenLock) CleanupExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	var expired []int64
	for credentialID, acquiredAt := range l.locks {
		if now.Sub(acquiredAt) > l.timeout {
			expired = append(expired, credentialID)
		}
	}
	for _, credentialID := range expired {
		delete(l.locks, credentialID)
	}
	if len(expired) > 0 {
		l.log.Debug("cleaned up expired locks", "count", len(expired))
	}
}

// LockedCredentials returns the ids currently holding a lock, expired or not.
func (l *TokenLock) LockedCredentials() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int64, 0, len(l.locks))
	for credentialID := range l.locks {
		out = append(out, credentialID)
	}
	return out
}

// SetTimeout updates the lock timeout used for future and existing locks.
func (l *TokenLock) SetTimeout(timeout time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeout = timeout
}
