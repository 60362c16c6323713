// Package filecache implements the File Cache (spec.md §4.6): an
// md5(url)-keyed local artifact store with TTL eviction, ported from
// original_source/src/services/file_cache.py. A ticker goroutine replaces
// the Python service's asyncio cleanup task, and the -1 "never expire"
// sentinel timeout carries over unchanged.
package filecache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sora-gateway/gateway/internal/logger"
)

// NeverExpire disables TTL eviction entirely, mirroring the -1 sentinel.
const NeverExpire = -1

const cleanupInterval = 5 * time.Minute

// Cache downloads and caches media files on the local filesystem.
type Cache struct {
	dir            string
	timeoutSeconds int
	httpClient     *http.Client
	log            *logger.Logger

	stop chan struct{}
}

// New creates a Cache rooted at dir (created if missing) with the given
// default TTL in seconds.
func New(dir string, timeoutSeconds int, log *logger.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		dir:            dir,
		timeoutSeconds: timeoutSeconds,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		log:            log.WithComponent("file_cache"),
		stop:           make(chan struct{}),
	}, nil
}

// StartCleanupLoop runs the periodic eviction sweep until ctx is cancelled.
func (c *Cache) StartCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.cleanupExpired()
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
	}()
}

// StopCleanupLoop stops a loop started with StartCleanupLoop.
func (c *Cache) StopCleanupLoop() {
	close(c.stop)
}

func (c *Cache) cleanupExpired() {
	if c.timeoutSeconds == NeverExpire {
		return
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Error("cleanup read dir failed", "error", err)
		return
	}

	now := time.Now()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > time.Duration(c.timeoutSeconds)*time.Second {
			if err := os.Remove(filepath.Join(c.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		c.log.Debug("cleanup completed", "removed", removed)
	}
}

// filename derives the cache filename for url, keyed by its md5 hash with
// the extension chosen by media type, exactly as _generate_cache_filename.
func filename(rawURL, mediaType string) string {
	sum := md5.Sum([]byte(rawURL))
	ext := ".png"
	if mediaType == "video" {
		ext = ".mp4"
	}
	return hex.EncodeToString(sum[:]) + ext
}

// DownloadAndCache fetches url (through proxyURL if set) and stores it
// under its cache filename, returning a hit immediately if a non-expired
// copy already exists.
func (c *Cache) DownloadAndCache(ctx context.Context, rawURL, mediaType, proxyURL string) (string, error) {
	name := filename(rawURL, mediaType)
	path := filepath.Join(c.dir, name)

	if info, err := os.Stat(path); err == nil {
		if c.timeoutSeconds == NeverExpire || time.Since(info.ModTime()) < time.Duration(c.timeoutSeconds)*time.Second {
			c.log.Debug("cache hit", "filename", name)
			return name, nil
		}
		os.Remove(path)
	}

	c.log.Debug("downloading file", "url", rawURL)

	httpClient := c.httpClient
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return "", fmt.Errorf("parse proxy url: %w", err)
		}
		httpClient = &http.Client{
			Timeout:   60 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to cache file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create cache file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write cache file: %w", err)
	}

	c.log.Debug("file cached", "filename", name, "bytes", written)
	return name, nil
}

// GetCachePath returns the full path to a cached filename.
func (c *Cache) GetCachePath(filename string) string {
	return filepath.Join(c.dir, filename)
}

// SetTimeout updates the default TTL in seconds.
func (c *Cache) SetTimeout(seconds int) {
	c.timeoutSeconds = seconds
}

// GetTimeout returns the current default TTL in seconds.
func (c *Cache) GetTimeout() int {
	return c.timeoutSeconds
}

// ClearAll removes every cached file and returns the count removed.
func (c *Cache) ClearAll() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err == nil {
			removed++
		}
	}
	c.log.Debug("cache cleared", "removed", removed)
	return removed, nil
}
