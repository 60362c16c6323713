package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sora-gateway/gateway/internal/domain"
	"github.com/sora-gateway/gateway/internal/streamfmt"
	"github.com/sora-gateway/gateway/internal/upstream"
)

const (
	defaultPollInterval    = 5 * time.Second
	imageHeartbeatInterval = 10 * time.Second
	videoStatusInterval    = 30 * time.Second
)

type pollParams struct {
	taskID     string
	taskRowID  int64
	credential *domain.Credential
	model      string
	isVideo    bool
	stream     bool
	prompt     string
	guard      *Guard
	logID      int64
}

// pollTaskResult drives the poll loop until the task reaches a terminal
// state (completed, failed, content violation) or the configured timeout
// elapses, emitting progress chunks to out as it goes. It is the Go
// counterpart of _poll_task_result; every exit path releases p.guard
// exactly once via ReleaseAll (idempotent, so the caller's own deferred
// release is harmless).
func (o *Orchestrator) pollTaskResult(ctx context.Context, p pollParams, out chan<- string) outcome {
	genCfg, err := o.store.GetGenerationConfig(ctx)
	timeout := 600 * time.Second
	if err == nil && genCfg != nil {
		if p.isVideo {
			timeout = time.Duration(genCfg.VideoTimeoutSeconds) * time.Second
		} else {
			timeout = time.Duration(genCfg.ImageTimeoutSeconds) * time.Second
		}
	}

	start := o.now()
	lastProgress := 0.0
	lastHeartbeat := start
	lastStatusOutput := start

	for {
		if o.now().Sub(start) > timeout {
			o.log.WithContext(ctx).Warn("poll timeout", "task_id", p.taskID, "timeout", timeout)
			p.guard.ReleaseAll()
			o.store.FailTask(ctx, p.taskRowID, fmt.Sprintf("generation timeout after %s", timeout), o.now())
			o.closeLogWithError(ctx, p.logID, fmt.Errorf("upstream API timeout: generation exceeded %s limit", timeout))
			o.emitFatal(out, p.model, fmt.Sprintf("generation timed out after %s", timeout))
			return outcomeTimeout
		}

		select {
		case <-ctx.Done():
			p.guard.ReleaseAll()
			return outcomeFailed
		case <-time.After(defaultPollInterval):
		}

		var done bool
		var result outcome
		if p.isVideo {
			done, result = o.pollVideoAttempt(ctx, p, out, &lastStatusOutput)
		} else {
			done, result = o.pollImageAttempt(ctx, p, out, &lastProgress, &lastHeartbeat, start)
		}
		if done {
			p.guard.ReleaseAll()
			if result == outcomeCompleted && p.logID != 0 {
				o.store.CloseRequestLog(ctx, p.logID, 200, "", o.now().Sub(start).Seconds(), o.now())
			}
			return result
		}
	}
}

func findByID(items []any, key, id string) map[string]any {
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if v, _ := item[key].(string); v == id {
			return item
		}
	}
	return nil
}

func (o *Orchestrator) pollVideoAttempt(ctx context.Context, p pollParams, out chan<- string, lastStatusOutput *time.Time) (bool, outcome) {
	pending, err := o.client.GetPendingTasks(ctx, p.credential.AccessToken, p.credential.ProxyURL)
	if err != nil {
		if cfErr := o.handleCfShieldDuringPoll(ctx, p, out, err); cfErr {
			return true, outcomeFailed
		}
		return false, ""
	}

	if task := findByID(pending, "id", p.taskID); task != nil {
		progressPct := 0
		if v, ok := task["progress_pct"].(float64); ok {
			progressPct = int(v * 100)
		}
		status, _ := task["status"].(string)
		if o.now().Sub(*lastStatusOutput) >= videoStatusInterval {
			*lastStatusOutput = o.now()
			out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), p.model, o.now().Unix(),
				fmt.Sprintf("video generation progress: %d%% (%s)", progressPct, status)))
		}
		return false, ""
	}

	// Not in pending tasks any more: the task has left the queue, so look
	// it up in the drafts list to find its terminal outcome.
	drafts, err := o.client.GetVideoDrafts(ctx, p.credential.AccessToken, p.credential.ProxyURL, 20)
	if err != nil {
		return false, ""
	}
	items, _ := drafts["items"].([]any)
	item := findByID(items, "task_id", p.taskID)
	if item == nil {
		return false, ""
	}

	kind, _ := item["kind"].(string)
	reasonStr, _ := item["reason_str"].(string)
	if reasonStr == "" {
		reasonStr, _ = item["markdown_reason_str"].(string)
	}
	url, _ := item["url"].(string)
	if url == "" {
		url, _ = item["downloadable_url"].(string)
	}
	isViolation := kind == "sora_content_violation" || reasonStr != "" || url == ""
	if isViolation {
		msg := reasonStr
		if msg == "" {
			msg = "content violates guardrails"
		}
		o.store.FailTask(ctx, p.taskRowID, "content policy violation: "+msg, o.now())
		o.closeLogWithError(ctx, p.logID, errors.New("content policy violation: "+msg))
		out <- mustSSE(streamfmt.NewContentChunk(chatID(), p.model, o.now().Unix(), "❌ generation failed: "+msg))
		out <- mustSSE(streamfmt.NewFinalChunk(chatID(), p.model, o.now().Unix(), "stop"))
		out <- streamfmt.DoneLine
		return true, outcomeViolation
	}

	localURL, err := o.resolveVideoURL(ctx, item, p)
	if err != nil {
		localURL = url
	}
	o.store.CompleteTask(ctx, p.taskRowID, []string{localURL}, o.now())
	out <- mustSSE(streamfmt.NewContentChunk(chatID(), p.model, o.now().Unix(),
		fmt.Sprintf("```html\n<video src='%s' controls></video>\n```", localURL)))
	out <- mustSSE(streamfmt.NewFinalChunk(chatID(), p.model, o.now().Unix(), "stop"))
	out <- streamfmt.DoneLine
	return true, outcomeCompleted
}

// resolveVideoURL applies the watermark-free post-publish flow when
// enabled, falling back to the raw downloadable URL, then caches the
// result locally when caching is enabled.
func (o *Orchestrator) resolveVideoURL(ctx context.Context, item map[string]any, p pollParams) (string, error) {
	url, _ := item["url"].(string)
	if dl, ok := item["downloadable_url"].(string); ok && dl != "" {
		url = dl
	}

	wmCfg, _ := o.store.GetWatermarkFreeConfig(ctx)
	if wmCfg != nil && wmCfg.Enabled {
		generationID, _ := item["id"].(string)
		if generationID != "" {
			if resolved, err := o.resolveWatermarkFreeURL(ctx, generationID, p, wmCfg); err == nil {
				url = resolved
			}
		}
	}

	cacheCfg, _ := o.store.GetCacheConfig(ctx)
	if cacheCfg == nil || !cacheCfg.Enabled {
		return url, nil
	}
	cached, err := o.cache.DownloadAndCache(ctx, url, "video", p.credential.ProxyURL)
	if err != nil {
		return url, nil
	}
	return o.baseURL + "/tmp/" + cached, nil
}

func (o *Orchestrator) resolveWatermarkFreeURL(ctx context.Context, generationID string, p pollParams, wmCfg *domain.WatermarkFreeConfig) (string, error) {
	postID, err := o.client.PostVideoForWatermarkFree(ctx, generationID, p.credential.AccessToken)
	if err != nil || postID == "" {
		return "", fmt.Errorf("publish for watermark-free: %w", err)
	}

	var url string
	if wmCfg.Method == domain.WatermarkFreeCustom {
		if wmCfg.CustomURL == "" || wmCfg.CustomToken == "" {
			return "", fmt.Errorf("custom parse server not configured")
		}
		url, err = o.client.GetWatermarkFreeURLCustom(ctx, wmCfg.CustomURL, wmCfg.CustomToken, postID)
		if err != nil {
			return "", err
		}
	} else {
		url = "https://oscdn2.dyysy.com/MP4/" + postID + ".mp4"
	}

	if derr := o.client.DeletePost(ctx, postID, p.credential.AccessToken); derr != nil {
		o.log.WithContext(ctx).Warn("failed to delete published post", "post_id", postID, "error", derr)
	}
	return url, nil
}

func (o *Orchestrator) pollImageAttempt(ctx context.Context, p pollParams, out chan<- string, lastProgress *float64, lastHeartbeat *time.Time, start time.Time) (bool, outcome) {
	result, err := o.client.GetImageTasks(ctx, p.credential.AccessToken, p.credential.ProxyURL, 20)
	if err != nil {
		if cfErr := o.handleCfShieldDuringPoll(ctx, p, out, err); cfErr {
			return true, outcomeFailed
		}
		return false, ""
	}

	responses, _ := result["task_responses"].([]any)
	task := findByID(responses, "id", p.taskID)
	if task == nil {
		if o.now().Sub(*lastHeartbeat) >= imageHeartbeatInterval {
			*lastHeartbeat = o.now()
			out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), p.model, o.now().Unix(),
				fmt.Sprintf("image generation in progress... (%ds elapsed)", int(o.now().Sub(start).Seconds()))))
		}
		return false, ""
	}

	status, _ := task["status"].(string)
	switch status {
	case "succeeded":
		generations, _ := task["generations"].([]any)
		var urls []string
		for _, raw := range generations {
			gen, _ := raw.(map[string]any)
			if url, _ := gen["url"].(string); url != "" {
				urls = append(urls, url)
			}
		}
		if len(urls) == 0 {
			return false, ""
		}

		localURLs := o.cacheImageURLs(ctx, urls, p.credential.ProxyURL)
		o.store.CompleteTask(ctx, p.taskRowID, localURLs, o.now())

		content := ""
		for i, u := range localURLs {
			if i > 0 {
				content += "\n"
			}
			content += "![Generated Image](" + u + ")"
		}
		out <- mustSSE(streamfmt.NewContentChunk(chatID(), p.model, o.now().Unix(), content))
		out <- mustSSE(streamfmt.NewFinalChunk(chatID(), p.model, o.now().Unix(), "stop"))
		out <- streamfmt.DoneLine
		return true, outcomeCompleted

	case "failed":
		errMsg, _ := task["error_message"].(string)
		if errMsg == "" {
			errMsg = "generation failed"
		}
		o.store.FailTask(ctx, p.taskRowID, errMsg, o.now())
		o.closeLogWithError(ctx, p.logID, errors.New(errMsg))
		o.emitFatal(out, p.model, errMsg)
		return true, outcomeFailed

	case "processing":
		progress, _ := task["progress_pct"].(float64)
		progress *= 100
		if progress > *lastProgress+20 {
			*lastProgress = progress
			o.store.UpdateTaskProgress(ctx, p.taskRowID, progress/100)
			out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), p.model, o.now().Unix(),
				fmt.Sprintf("processing: %.0f%% completed...", progress)))
		}
	}
	return false, ""
}

func (o *Orchestrator) cacheImageURLs(ctx context.Context, urls []string, proxyURL string) []string {
	cacheCfg, _ := o.store.GetCacheConfig(ctx)
	if cacheCfg == nil || !cacheCfg.Enabled {
		return urls
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		cached, err := o.cache.DownloadAndCache(ctx, u, "image", proxyURL)
		if err != nil {
			out = append(out, u)
			continue
		}
		out = append(out, o.baseURL+"/tmp/"+cached)
	}
	return out
}

// handleCfShieldDuringPoll detects a Cloudflare-shield/429 failure during
// polling and fails the task immediately instead of retrying, matching
// _poll_task_result's early-exit branch. Returns true if it handled (and
// terminated) the poll.
func (o *Orchestrator) handleCfShieldDuringPoll(ctx context.Context, p pollParams, out chan<- string, err error) bool {
	var uerr *upstream.Error
	if !errors.As(err, &uerr) || uerr.Kind != upstream.KindCfShield429 {
		return false
	}
	o.store.FailTask(ctx, p.taskRowID, "cloudflare challenge or rate limit (429) triggered", o.now())
	o.closeLogWithError(ctx, p.logID, err)
	out <- mustSSE(streamfmt.NewContentChunk(chatID(), p.model, o.now().Unix(),
		"❌ generation failed: cloudflare challenge or rate limit (429) triggered. Please change proxy or reduce request frequency."))
	out <- mustSSE(streamfmt.NewFinalChunk(chatID(), p.model, o.now().Unix(), "stop"))
	out <- streamfmt.DoneLine
	return true
}
