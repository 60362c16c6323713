package pow

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sora-gateway/gateway/internal/logger"
)

func TestSolveFindsCollisionUnderTrivialDifficulty(t *testing.T) {
	cfg := newConfig(DefaultUserAgent)
	token, _, ok := Solve("0.12345", "00", cfg)
	if !ok {
		t.Fatal("expected a solution under trivial one-byte difficulty")
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}
}

func TestSolveFallsBackToErrorTokenWhenExhausted(t *testing.T) {
	cfg := newConfig(DefaultUserAgent)
	// An all-zero difficulty only matches a near-impossible hash prefix,
	// so the bounded search should exhaust and fall back.
	token, _, ok := Solve("0.99999", "0000000000000000", cfg)
	if ok {
		t.Skip("collision found unexpectedly quickly, not a failure")
	}
	if token == "" {
		t.Fatal("expected a non-empty error token")
	}
}

func TestSolverInitialTokenHasExpectedPrefix(t *testing.T) {
	log := logger.New(logger.Config{Level: slog.LevelError})
	s := NewSolver(2, log)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := s.InitialToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(token) < len("gAAAAAC") || token[:len("gAAAAAC")] != "gAAAAAC" {
		t.Fatalf("expected gAAAAAC prefix, got %q", token)
	}
}

func TestSolverFinalTokenSkipsPowWhenNotRequired(t *testing.T) {
	log := logger.New(logger.Config{Level: slog.LevelError})
	s := NewSolver(1, log)
	defer s.Close()

	resp := map[string]any{
		"proofofwork": map[string]any{"required": false},
		"turnstile":   map[string]any{"dx": "abc"},
		"token":       "tok",
	}

	payload, err := s.FinalToken(context.Background(), "sora_2_create_task", "req-1", "gAAAAACseed", resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload == "" {
		t.Fatal("expected a non-empty payload")
	}
}
