// Package pow generates the openai-sentinel-token header required on every
// generation request, ported from the PoW routine in
// original_source/src/services/sora_client.py: a SHA3-512 hash-collision
// search over a browser-fingerprint config array, offloaded to a worker pool
// the way the Python client offloads it to a thread-pool executor so it
// never blocks the request goroutine.
package pow

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/sora-gateway/gateway/internal/logger"
)

const (
	maxIteration           = 500000
	initialTokenDifficulty = "0fffff"
)

var (
	cores   = []int{8, 16, 24, 32}
	scripts = []string{
		"https://cdn.oaistatic.com/_next/static/cXh69klOLzS0Gy2joLDRS/_ssgManifest.js?dpl=453ebaec0d44c2decab71692e1bfe39be35a24b3",
	}
	deployIDs     = []string{"prod-f501fe933b3edf57aea882da888e1a544df99840"}
	navigatorKeys = []string{
		"registerProtocolHandler−function registerProtocolHandler() { [native code] }",
		"storage−[object StorageManager]",
		"locks−[object LockManager]",
		"appCodeName−Mozilla",
		"permissions−[object Permissions]",
		"webdriver−false",
		"vendor−Google Inc.",
		"mediaDevices−[object MediaDevices]",
		"cookieEnabled−true",
		"product−Gecko",
		"productSub−20030107",
		"hardwareConcurrency−32",
		"onLine−true",
	}
	documentKeys = []string{"_reactListeningo743lnnpvdg", "location"}
	windowKeys   = []string{
		"0", "window", "self", "document", "name", "location",
		"navigator", "screen", "innerWidth", "innerHeight",
		"localStorage", "sessionStorage", "crypto", "performance",
		"fetch", "setTimeout", "setInterval", "console",
	}
	screenSizes = []int{1920 + 1080, 2560 + 1440, 1920 + 1200, 2560 + 1600}
)

// DefaultUserAgent is the fixed fingerprint used for every sentinel request,
// the Go approximation of curl_cffi's impersonate="safari_ios" handshake
// (see SPEC_FULL.md's note on TLS/UA fingerprinting).
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Puzzle is a server-issued proof-of-work challenge.
type Puzzle struct {
	Seed       string
	Difficulty string
}

// Metrics is the subset of internal/metrics the Solver reports solve
// duration and iteration count through.
type Metrics interface {
	ObservePoWSolve(seconds float64, iterations int)
}

type noopMetrics struct{}

func (noopMetrics) ObservePoWSolve(float64, int) {}

// Solver solves PoW puzzles on a bounded worker pool so callers never block
// an HTTP request goroutine directly on the search loop.
type Solver struct {
	jobs    chan func()
	log     *logger.Logger
	metrics Metrics
}

// NewSolver starts workers workers, analogous to the size of the default
// executor thread pool the Python client hands run_in_executor.
func NewSolver(workers int, log *logger.Logger) *Solver {
	if workers <= 0 {
		workers = 4
	}
	s := &Solver{
		jobs:    make(chan func(), workers*4),
		log:     log.WithComponent("pow_solver"),
		metrics: noopMetrics{},
	}
	for i := 0; i < workers; i++ {
		go s.loop()
	}
	return s
}

// SetMetrics wires a Metrics sink, replacing the no-op default.
func (s *Solver) SetMetrics(m Metrics) { s.metrics = m }

func (s *Solver) loop() {
	for job := range s.jobs {
		job()
	}
}

// Close stops accepting new work. In-flight jobs still run to completion.
func (s *Solver) Close() { close(s.jobs) }

// InitialToken builds the "p" parameter sent to /backend-api/sentinel/req,
// solving a fixed easy puzzle the way _get_pow_token does.
func (s *Solver) InitialToken(ctx context.Context) (string, error) {
	cfg := newConfig(DefaultUserAgent)
	seed := fmt.Sprintf("%v", rand.Float64())
	solution, err := s.solveAsync(ctx, seed, initialTokenDifficulty, cfg)
	if err != nil {
		return "", err
	}
	return "gAAAAAC" + solution, nil
}

// FinalToken builds the openai-sentinel-token payload from the sentinel
// endpoint's JSON response, matching _build_sentinel_token: a harder puzzle
// only when the server's proofofwork.required flag is set.
func (s *Solver) FinalToken(ctx context.Context, flow, reqID, initialToken string, sentinelResp map[string]any) (string, error) {
	finalPowToken := initialToken

	if pw, _ := sentinelResp["proofofwork"].(map[string]any); pw != nil {
		required, _ := pw["required"].(bool)
		seed, _ := pw["seed"].(string)
		difficulty, _ := pw["difficulty"].(string)
		if required && seed != "" && difficulty != "" {
			cfg := newConfig(DefaultUserAgent)
			solution, err := s.solveAsync(ctx, seed, difficulty, cfg)
			if err != nil {
				s.log.LogError(ctx, err, "pow calculation error")
			} else {
				finalPowToken = "gAAAAAB" + solution
			}
		}
	}

	turnstile, _ := sentinelResp["turnstile"].(map[string]any)
	dx, _ := turnstile["dx"].(string)
	token, _ := sentinelResp["token"].(string)

	payload := map[string]any{
		"p":    finalPowToken,
		"t":    dx,
		"c":    token,
		"id":   reqID,
		"flow": flow,
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal sentinel payload: %w", err)
	}
	return string(out), nil
}

// solveAsync dispatches Solve onto the worker pool and blocks the caller's
// goroutine (not an HTTP handler goroutine, by convention) until it
// completes or ctx is cancelled.
func (s *Solver) solveAsync(ctx context.Context, seed, difficulty string, cfg []any) (string, error) {
	type result struct {
		solution   string
		ok         bool
		iterations int
	}
	done := make(chan result, 1)
	start := time.Now()

	select {
	case s.jobs <- func() {
		solution, iterations, ok := Solve(seed, difficulty, cfg)
		done <- result{solution, ok, iterations}
	}:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-done:
		s.metrics.ObservePoWSolve(time.Since(start).Seconds(), r.iterations)
		if !r.ok {
			s.log.Warn("pow search exhausted iteration budget, using error token")
		}
		return r.solution, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// newConfig builds the browser-fingerprint config array the way
// _get_pow_config does: an 18-element tuple mixing fixed and randomized
// fields, laid out so Solve's static/dynamic split lines up with indices
// [0:3], [3] (dynamic), [4:9], [9] (dynamic), [10:].
func newConfig(userAgent string) []any {
	now := time.Now().In(time.FixedZone("EST", -5*60*60))
	parseTime := now.Format("Mon Jan 2 2006 15:04:05") + " GMT-0500 (Eastern Standard Time)"

	return []any{
		screenSizes[rand.Intn(len(screenSizes))],
		parseTime,
		4294705152,
		0, // [3] dynamic: replaced by the iteration counter i
		userAgent,
		scripts[rand.Intn(len(scripts))],
		deployIDs[rand.Intn(len(deployIDs))],
		"en-US",
		"en-US,es-US,en,es",
		0, // [9] dynamic: replaced by i >> 1
		navigatorKeys[rand.Intn(len(navigatorKeys))],
		documentKeys[rand.Intn(len(documentKeys))],
		windowKeys[rand.Intn(len(windowKeys))],
		float64(time.Now().UnixNano()) / 1e6,
		randomUUID(),
		"",
		cores[rand.Intn(len(cores))],
		0.0,
	}
}

// Solve searches for an SHA3-512 hash-collision token under difficulty,
// mirroring _solve_pow's iteration loop exactly: config[:3] and config[3]
// (the loop index) interleave with config[4:9] and config[9] (index >> 1),
// then config[10:], JSON-encoded compactly and base64-wrapped each attempt.
func Solve(seed, difficulty string, config []any) (token string, iterations int, ok bool) {
	diffLen := len(difficulty) / 2
	targetDiff, err := hex.DecodeString(difficulty)
	if err != nil || diffLen == 0 {
		return errorToken(seed), 0, false
	}
	seedBytes := []byte(seed)

	part1 := compactJSON(config[:3])
	part1 = part1[:len(part1)-1] + "," // drop trailing ']', add separator

	part2Raw := compactJSON(config[4:9])
	part2 := "," + part2Raw[1:len(part2Raw)-1] + ","

	part3Raw := compactJSON(config[10:])
	part3 := "," + part3Raw[1:]

	for i := 0; i < maxIteration; i++ {
		dynamicI := fmt.Sprintf("%d", i)
		dynamicJ := fmt.Sprintf("%d", i>>1)

		finalJSON := part1 + dynamicI + part2 + dynamicJ + part3
		b64 := base64.StdEncoding.EncodeToString([]byte(finalJSON))

		h := sha3.Sum512(append(append([]byte{}, seedBytes...), []byte(b64)...))
		if lessOrEqual(h[:diffLen], targetDiff) {
			return b64, i + 1, true
		}
	}

	return errorToken(seed), maxIteration, false
}

func errorToken(seed string) string {
	quoted := fmt.Sprintf("%q", seed)
	return "wQ8Lk5FbGpA2NcR9dShT6gYjU7VxZ4D" + base64.StdEncoding.EncodeToString([]byte(quoted))
}

func lessOrEqual(hashPrefix, target []byte) bool {
	for i := range hashPrefix {
		if hashPrefix[i] < target[i] {
			return true
		}
		if hashPrefix[i] > target[i] {
			return false
		}
	}
	return true
}

func compactJSON(v any) string {
	out, _ := json.Marshal(v)
	return string(out)
}

func randomUUID() string {
	b := make([]byte, 16)
	rand.Read(b)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
