// Package limiter implements the per-credential, per-modality concurrency
// semaphore described in spec.md §4.5. It is a direct Go port of
// original_source/src/services/concurrency_manager.py: a credential absent
// from the counter map has unbounded concurrency, the same convention the
// Python manager uses for a missing dict entry.
package limiter

import (
	"sync"

	"github.com/sora-gateway/gateway/internal/logger"
)

// Unbounded is the sentinel slot count meaning "no limit configured".
const Unbounded = -1

// Metrics is the subset of internal/metrics the ConcurrencyLimiter reports
// slot usage and saturation through.
type Metrics interface {
	SetConcurrencyInUse(modality string, inUse int)
	ObserveSaturation(modality string)
}

type noopMetrics struct{}

func (noopMetrics) SetConcurrencyInUse(string, int) {}
func (noopMetrics) ObserveSaturation(string)        {}

// ConcurrencyLimiter tracks remaining image/video slots per credential.
//
// Thread-safety: all methods are thread-safe.
type ConcurrencyLimiter struct {
	mu         sync.Mutex
	image      map[int64]int
	video      map[int64]int
	imageInUse int
	videoInUse int
	log        *logger.Logger
	metrics    Metrics
}

// New returns an empty limiter; credentials are registered via Reset.
func New(log *logger.Logger) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		image:   make(map[int64]int),
		video:   make(map[int64]int),
		log:     log.WithComponent("concurrency_limiter"),
		metrics: noopMetrics{},
	}
}

// SetMetrics wires a Metrics sink, replacing the no-op default.
func (c *ConcurrencyLimiter) SetMetrics(m Metrics) { c.metrics = m }

// Initialize seeds the slot counters from a credential list, mirroring
// ConcurrencyManager.initialize: only positive limits get an entry, so an
// unset or -1 concurrency is treated as unbounded.
func (c *ConcurrencyLimiter) Initialize(credentials []CredentialLimits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cr := range credentials {
		if cr.ImageConcurrency > 0 {
			c.image[cr.ID] = cr.ImageConcurrency
		}
		if cr.VideoConcurrency > 0 {
			c.video[cr.ID] = cr.VideoConcurrency
		}
	}
	c.log.Debug("initialized", "credentials", len(credentials))
}

// CredentialLimits is the subset of domain.Credential Initialize needs.
type CredentialLimits struct {
	ID               int64
	ImageConcurrency int
	VideoConcurrency int
}

// CanUseImage reports whether the credential has an available image slot.
func (c *ConcurrencyLimiter) CanUseImage(credentialID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return canUse(c.image, credentialID)
}

// CanUseVideo reports whether the credential has an available video slot.
func (c *ConcurrencyLimiter) CanUseVideo(credentialID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return canUse(c.video, credentialID)
}

func canUse(counters map[int64]int, credentialID int64) bool {
	remaining, tracked := counters[credentialID]
	if !tracked {
		return true
	}
	return remaining > 0
}

// AcquireImage reserves one image slot, returning false if none is free.
func (c *ConcurrencyLimiter) AcquireImage(credentialID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, tracked := c.image[credentialID]
	ok := acquire(c.image, credentialID)
	if ok {
		if tracked {
			c.imageInUse++
		}
		c.log.Debug("acquired image slot", "credential_id", credentialID, "remaining", c.image[credentialID])
		c.metrics.SetConcurrencyInUse("image", c.imageInUse)
	} else {
		c.metrics.ObserveSaturation("image")
	}
	return ok
}

// AcquireVideo reserves one video slot, returning false if none is free.
func (c *ConcurrencyLimiter) AcquireVideo(credentialID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, tracked := c.video[credentialID]
	ok := acquire(c.video, credentialID)
	if ok {
		if tracked {
			c.videoInUse++
		}
		c.log.Debug("acquired video slot", "credential_id", credentialID, "remaining", c.video[credentialID])
		c.metrics.SetConcurrencyInUse("video", c.videoInUse)
	} else {
		c.metrics.ObserveSaturation("video")
	}
	return ok
}

func acquire(counters map[int64]int, credentialID int64) bool {
	remaining, tracked := counters[credentialID]
	if !tracked {
		return true
	}
	if remaining <= 0 {
		return false
	}
	counters[credentialID] = remaining - 1
	return true
}

// ReleaseImage frees a previously acquired image slot, if the credential is
// tracked at all (unbounded credentials are a no-op).
func (c *ConcurrencyLimiter) ReleaseImage(credentialID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining, tracked := c.image[credentialID]; tracked {
		c.image[credentialID] = remaining + 1
		if c.imageInUse > 0 {
			c.imageInUse--
		}
		c.log.Debug("released image slot", "credential_id", credentialID, "remaining", c.image[credentialID])
		c.metrics.SetConcurrencyInUse("image", c.imageInUse)
	}
}

// ReleaseVideo frees a previously acquired video slot.
func (c *ConcurrencyLimiter) ReleaseVideo(credentialID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining, tracked := c.video[credentialID]; tracked {
		c.video[credentialID] = remaining + 1
		if c.videoInUse > 0 {
			c.videoInUse--
		}
		c.log.Debug("released video slot", "credential_id", credentialID, "remaining", c.video[credentialID])
		c.metrics.SetConcurrencyInUse("video", c.videoInUse)
	}
}

// ImageRemaining returns the remaining image slots and whether the
// credential carries an explicit (bounded) limit at all.
func (c *ConcurrencyLimiter) ImageRemaining(credentialID int64) (remaining int, bounded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining, bounded = c.image[credentialID]
	return
}

// VideoRemaining returns the remaining video slots and whether the
// credential carries an explicit (bounded) limit at all.
func (c *ConcurrencyLimiter) VideoRemaining(credentialID int64) (remaining int, bounded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining, bounded = c.video[credentialID]
	return
}

// Reset overwrites a credential's slot counters. A non-positive value
// (including Unbounded) removes the limit entirely.
func (c *ConcurrencyLimiter) Reset(credentialID int64, imageConcurrency, videoConcurrency int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if imageConcurrency > 0 {
		c.image[credentialID] = imageConcurrency
	} else {
		delete(c.image, credentialID)
	}

	if videoConcurrency > 0 {
		c.video[credentialID] = videoConcurrency
	} else {
		delete(c.video, credentialID)
	}

	c.log.Debug("reset", "credential_id", credentialID,
		"image_concurrency", imageConcurrency, "video_concurrency", videoConcurrency)
}
