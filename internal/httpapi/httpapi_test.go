package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sora-gateway/gateway/internal/filecache"
	"github.com/sora-gateway/gateway/internal/limiter"
	"github.com/sora-gateway/gateway/internal/lock"
	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/orchestrator"
	"github.com/sora-gateway/gateway/internal/pow"
	"github.com/sora-gateway/gateway/internal/scheduler"
	"github.com/sora-gateway/gateway/internal/store/memstore"
	"github.com/sora-gateway/gateway/internal/upstream"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	log := logger.New(logger.Config{Level: slog.LevelError})
	st := memstore.New()
	lim := limiter.New(log)
	tl := lock.New(time.Minute, log)
	sched := scheduler.New(st, nil, tl, lim, log)
	solver := pow.NewSolver(1, log)
	t.Cleanup(solver.Close)
	client := upstream.New("https://example.invalid", time.Second, solver, log)
	cache, err := filecache.New(t.TempDir(), filecache.NeverExpire, log)
	if err != nil {
		t.Fatalf("filecache.New: %v", err)
	}

	models := orchestrator.DefaultModelTable()
	o := orchestrator.New(st, sched, tl, lim, client, cache, models, "http://localhost:8080", log)
	return NewServer(o, models, log)
}

func testRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	s := testServer(t)
	return NewRouter(s, prometheus.NewRegistry())
}

func TestHandleListModels(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Data []modelEntry `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data) == 0 {
		t.Fatal("expected at least one model entry")
	}
}

func TestHandleChatCompletionsRejectsUnknownModel(t *testing.T) {
	router := testRouter(t)

	payload := `{"model":"not-a-real-model","messages":[{"role":"user","content":"hi"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleChatCompletionsNonStreamReportsAvailability(t *testing.T) {
	router := testRouter(t)

	payload := `{"model":"gpt-image","messages":[{"role":"user","content":"a cat"}],"stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "No available models") {
		t.Fatalf("expected an availability message, got %s", rec.Body.String())
	}
}

func TestHandleChatCompletionsStreamEmitsFatalWhenNoCredential(t *testing.T) {
	router := testRouter(t)

	payload := `{"model":"gpt-image","messages":[{"role":"user","content":"a cat"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "data: [DONE]") {
		t.Fatalf("expected a terminal DONE line, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "No available tokens for image generation") {
		t.Fatalf("expected the no-credential fatal message, got %s", rec.Body.String())
	}
}

func TestHandleImageGenerationsSurfacesFatalAsError(t *testing.T) {
	router := testRouter(t)

	payload := `{"model":"gpt-image","prompt":"a cat"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 (no credential available), got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleImageGenerationsRejectsInvalidBody(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", bytes.NewBufferString("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleHealthz(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
