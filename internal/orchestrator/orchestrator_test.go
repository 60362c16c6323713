package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sora-gateway/gateway/internal/filecache"
	"github.com/sora-gateway/gateway/internal/limiter"
	"github.com/sora-gateway/gateway/internal/lock"
	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/scheduler"
	"github.com/sora-gateway/gateway/internal/store/memstore"
	"github.com/sora-gateway/gateway/internal/upstream"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	log := testLogger()
	st := memstore.New()
	lim := limiter.New(log)
	tl := lock.New(time.Minute, log)
	sched := scheduler.New(st, nil, tl, lim, log)
	client := upstream.New("https://example.invalid", time.Second, nil, log)
	cache, err := filecache.New(t.TempDir(), filecache.NeverExpire, log)
	if err != nil {
		t.Fatalf("filecache.New: %v", err)
	}
	return New(st, sched, tl, lim, client, cache, DefaultModelTable(), "http://localhost:8080", log)
}

func drain(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var lines []string
	for line := range ch {
		lines = append(lines, line)
	}
	return lines
}

func TestHandleRejectsUnknownModel(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Handle(context.Background(), Request{Model: "not-a-real-model"})
	if err == nil {
		t.Fatal("expected a ValidationError")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func TestHandleNonStreamReportsNoAvailableCredential(t *testing.T) {
	o := newTestOrchestrator(t)

	ch, err := o.Handle(context.Background(), Request{Model: "gpt-image", Stream: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := drain(t, ch)
	if len(lines) != 1 {
		t.Fatalf("expected exactly one non-stream envelope, got %d", len(lines))
	}

	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if len(envelope.Choices) == 0 {
		t.Fatal("expected at least one choice")
	}
	if !strings.Contains(envelope.Choices[0].Message.Content, "No available models for image generation") {
		t.Fatalf("expected an unavailability message, got %q", envelope.Choices[0].Message.Content)
	}
}

func TestHandleStreamEmitsFatalWhenNoCredentialAvailable(t *testing.T) {
	o := newTestOrchestrator(t)

	ch, err := o.Handle(context.Background(), Request{Model: "gpt-image", Prompt: "a cat", Stream: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := drain(t, ch)
	if len(lines) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if lines[len(lines)-1] != "data: [DONE]\n\n" {
		t.Fatalf("expected the terminal DONE line, got %q", lines[len(lines)-1])
	}

	joined := strings.Join(lines, "")
	if !strings.Contains(joined, "No available tokens for image generation") {
		t.Fatalf("expected the fatal unavailability message, got %s", joined)
	}
	if !strings.Contains(joined, "❌") {
		t.Fatalf("expected the fatal marker, got %s", joined)
	}
}

func TestHandleStreamSkipsRemixWhenPromptHasNoShareLink(t *testing.T) {
	o := newTestOrchestrator(t)

	ch, err := o.Handle(context.Background(), Request{Model: "sora2-landscape-10s", Prompt: "a dog running", Stream: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := drain(t, ch)
	joined := strings.Join(lines, "")
	if !strings.Contains(joined, "No available tokens for video generation") {
		t.Fatalf("expected the video unavailability message (no remix path taken), got %s", joined)
	}
}

func TestGuardRunsEachReleaseExactlyOnceInLIFOOrder(t *testing.T) {
	var g Guard
	var order []int

	g.Add(func() { order = append(order, 1) })
	g.Add(func() { order = append(order, 2) })
	g.Add(func() { order = append(order, 3) })

	g.ReleaseAll()
	g.ReleaseAll() // second call must be a no-op

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("expected %d releases, got %d: %v", len(want), len(order), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected release order %v, got %v", want, order)
		}
	}
}

func TestDefaultModelTablePopulatesNameFromKey(t *testing.T) {
	table := DefaultModelTable()
	desc, ok := table["gpt-image-landscape"]
	if !ok {
		t.Fatal("expected gpt-image-landscape in the default table")
	}
	if desc.Name != "gpt-image-landscape" {
		t.Fatalf("expected Name to be populated from the map key, got %q", desc.Name)
	}
	if desc.Type != ModalityImage {
		t.Fatalf("expected ModalityImage, got %q", desc.Type)
	}
}
