package filecache

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sora-gateway/gateway/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

func TestDownloadAndCacheStoresFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake image bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	c, err := New(dir, 3600, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	name, err := c.DownloadAndCache(context.Background(), server.URL+"/img.png", "image", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Ext(name) != ".png" {
		t.Fatalf("expected .png extension, got %q", name)
	}

	data, err := os.ReadFile(c.GetCachePath(name))
	if err != nil {
		t.Fatalf("unexpected error reading cached file: %v", err)
	}
	if string(data) != "fake image bytes" {
		t.Fatalf("unexpected cached contents: %q", data)
	}
}

func TestDownloadAndCacheIsIdempotentOnHit(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("video bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	c, err := New(dir, 3600, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	url := server.URL + "/clip.mp4"
	first, err := c.DownloadAndCache(context.Background(), url, "video", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.DownloadAndCache(context.Background(), url, "video", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Fatalf("expected same cache filename, got %q and %q", first, second)
	}
	if hits != 1 {
		t.Fatalf("expected exactly one download, got %d", hits)
	}
}

func TestCleanupExpiredRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 0, testLogger()) // 0s TTL: everything is immediately expired
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(dir, "stale.png")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	c.cleanupExpired()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected stale file to be removed")
	}
}

func TestNeverExpireSkipsCleanup(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, NeverExpire, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(dir, "forever.png")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.cleanupExpired()

	if _, err := os.Stat(path); err != nil {
		t.Fatal("expected file to survive cleanup when timeout is NeverExpire")
	}
}

func TestClearAllRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 3600, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	os.WriteFile(filepath.Join(dir, "a.png"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.mp4"), []byte("b"), 0o644)

	removed, err := c.ClearAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 files removed, got %d", removed)
	}
}
