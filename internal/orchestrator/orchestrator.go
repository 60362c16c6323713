package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sora-gateway/gateway/internal/filecache"
	"github.com/sora-gateway/gateway/internal/limiter"
	"github.com/sora-gateway/gateway/internal/lock"
	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/scheduler"
	"github.com/sora-gateway/gateway/internal/store"
	"github.com/sora-gateway/gateway/internal/streamfmt"
	"github.com/sora-gateway/gateway/internal/upstream"
)

// Metrics is the subset of internal/metrics the Orchestrator reports
// terminal task outcomes through, kept as a narrow interface so the package
// stays testable without pulling in the Prometheus registry.
type Metrics interface {
	ObserveOutcome(modality, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOutcome(string, string) {}

// Orchestrator drives one generation request end to end: resolve model,
// select credential, acquire lock/slot, create, poll, cache, release.
type Orchestrator struct {
	store     store.CredentialStore
	scheduler *scheduler.Scheduler
	tokenLock *lock.TokenLock
	limiter   *limiter.ConcurrencyLimiter
	client    *upstream.Client
	cache     *filecache.Cache
	models    map[string]ModelDescriptor
	baseURL   string
	log       *logger.Logger
	metrics   Metrics
	now       func() time.Time
}

// New constructs an Orchestrator. models is normally orchestrator.DefaultModelTable(),
// overridden by the config-loaded YAML table when present.
func New(
	st store.CredentialStore,
	sched *scheduler.Scheduler,
	tokenLock *lock.TokenLock,
	lim *limiter.ConcurrencyLimiter,
	client *upstream.Client,
	cache *filecache.Cache,
	models map[string]ModelDescriptor,
	baseURL string,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		store: st, scheduler: sched, tokenLock: tokenLock, limiter: lim,
		client: client, cache: cache, models: models, baseURL: strings.TrimRight(baseURL, "/"),
		log: log.WithComponent("orchestrator"), metrics: noopMetrics{}, now: time.Now,
	}
}

// SetMetrics wires a Metrics sink, replacing the no-op default.
func (o *Orchestrator) SetMetrics(m Metrics) { o.metrics = m }

// Request is one inbound generation request, already normalized by the
// httpapi layer (base64 payloads decoded from the OpenAI request shape,
// multimodal parts concatenated into Prompt).
type Request struct {
	Model         string
	Prompt        string
	ImageBase64   string // optional; data URI or raw base64
	VideoRef      string // optional; data URI, raw base64, or http(s) URL
	RemixTargetID string // optional; explicit override, else auto-detected from Prompt
	Stream        bool
}

// ValidationError reports a request the Orchestrator refuses before any
// credential is touched (spec.md §7 case 1): unknown model, bad payload.
type ValidationError struct{ Message string }

func (e *ValidationError) Error() string { return e.Message }

// Handle resolves req's model and returns a channel of fully-framed
// response chunks: SSE "data: ...\n\n" lines (including the terminal
// "data: [DONE]\n\n") when Stream is true, or a single chat.completion JSON
// body when it is false. The channel is closed after the final chunk. A
// non-nil error is only ever a ValidationError, returned before any
// credential is touched.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (<-chan string, error) {
	desc, ok := o.models[req.Model]
	if !ok {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid model: %s", req.Model)}
	}
	desc.Name = req.Model

	if !req.Stream {
		out := make(chan string, 1)
		go func() {
			defer close(out)
			out <- o.availabilityEnvelope(ctx, desc)
		}()
		return out, nil
	}

	out := make(chan string, 8)
	go func() {
		defer close(out)
		o.run(ctx, req, desc, out)
	}()
	return out, nil
}

func (o *Orchestrator) availabilityEnvelope(ctx context.Context, desc ModelDescriptor) string {
	opts := scheduler.SelectOptions{
		ForImageGeneration: desc.Type == ModalityImage,
		ForVideoGeneration: desc.Type == ModalityVideo,
		RequirePro:         desc.RequirePro,
	}
	cred, err := o.scheduler.Select(ctx, opts)
	available := err == nil && cred != nil

	var message string
	switch {
	case available && desc.Type == ModalityImage:
		message = "All tokens available for image generation. Please enable streaming to use the generation feature."
	case available:
		message = "All tokens available for video generation. Please enable streaming to use the generation feature."
	case desc.Type == ModalityImage:
		message = "No available models for image generation"
	default:
		message = "No available models for video generation"
	}

	env := streamfmt.NewNonStreamEnvelope(chatID(), desc.Name, o.now().Unix(), message)
	line, _ := marshalNonStream(env)
	return line
}

// run dispatches to the video pre-flows (remix, character) or the shared
// create->poll->release pipeline, emitting chunks onto out until the
// terminal chunk and [DONE] line have been sent.
func (o *Orchestrator) run(ctx context.Context, req Request, desc ModelDescriptor, out chan<- string) {
	if desc.Type == ModalityVideo {
		remixID := req.RemixTargetID
		if remixID == "" {
			if id, ok := upstream.ExtractShareID(req.Prompt); ok {
				remixID = id
			}
		}
		if remixID != "" {
			o.handleRemix(ctx, remixID, req.Prompt, desc, out)
			return
		}
		if req.VideoRef != "" {
			videoBytes, err := o.resolveVideoBytes(ctx, req.VideoRef)
			if err != nil {
				o.emitFatal(out, desc.Name, fmt.Sprintf("failed to read video attachment: %v", err))
				return
			}
			if strings.TrimSpace(req.Prompt) == "" {
				o.handleCharacterOnly(ctx, videoBytes, desc, out)
			} else {
				o.handleCharacterAndVideo(ctx, videoBytes, req.Prompt, desc, out)
			}
			return
		}
	}
	o.handleGenerate(ctx, req, desc, out)
}

func (o *Orchestrator) emitFatal(out chan<- string, model, message string) {
	out <- mustSSE(streamfmt.NewRoleChunk(chatID(), model, o.now().Unix()))
	out <- mustSSE(streamfmt.NewContentChunk(chatID(), model, o.now().Unix(), "❌ "+message))
	final := streamfmt.NewFinalChunk(chatID(), model, o.now().Unix(), "stop")
	out <- mustSSE(final)
	out <- streamfmt.DoneLine
}

func chatID() string {
	return "chatcmpl-" + strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10)
}
