package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sora-gateway/gateway/internal/domain"
	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/scheduler"
	"github.com/sora-gateway/gateway/internal/streamfmt"
	"github.com/sora-gateway/gateway/internal/upstream"
)

// handleRemix runs the remix pre-flow: a prompt carrying (or explicitly
// targeting) an embedded Sora share id skips normal generation and instead
// asks the upstream API to remix that existing video, the counterpart of
// _handle_remix.
func (o *Orchestrator) handleRemix(ctx context.Context, remixTargetID, prompt string, desc ModelDescriptor, out chan<- string) {
	cred, err := o.scheduler.Select(ctx, scheduler.SelectOptions{ForVideoGeneration: true})
	if err != nil || cred == nil {
		o.emitFatal(out, desc.Name, "no available tokens for video generation")
		return
	}

	var guard Guard
	if !o.limiter.AcquireVideo(cred.ID) {
		o.emitFatal(out, desc.Name, fmt.Sprintf("failed to acquire concurrency slot for credential %d", cred.ID))
		return
	}
	guard.Add(func() { o.limiter.ReleaseVideo(cred.ID) })
	defer guard.ReleaseAll()

	ctx = logger.WithCredentialID(ctx, cred.ID)
	ctx = logger.WithOperation(ctx, "remix_video")

	out <- mustSSE(streamfmt.NewRoleChunk(chatID(), desc.Name, o.now().Unix()))
	out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), desc.Name, o.now().Unix(), "remixing video..."))

	styleID, cleanPrompt, _ := upstream.ExtractStyle(prompt)
	cleanPrompt = upstream.CleanRemixLink(cleanPrompt)

	taskID, err := o.client.RemixVideo(ctx, remixTargetID, cleanPrompt, cred.AccessToken, cred.ProxyURL, desc.Orientation, desc.NFrames, styleID)
	if err != nil {
		o.recordFailure(ctx, cred, err)
		o.emitRemixFailure(out, desc.Name, err)
		return
	}

	ctx = logger.WithTaskID(ctx, taskID)

	taskRowID, cerr := o.store.CreateTask(ctx, &domain.Task{
		UpstreamID: taskID, CredentialID: cred.ID, Model: desc.Name, Prompt: cleanPrompt,
		Status: domain.TaskProcessing,
	})
	if cerr != nil {
		o.log.WithContext(ctx).Error("create task record failed", "error", cerr)
	}
	o.store.RecordUsage(ctx, cred.ID, o.now())

	result := o.pollTaskResult(ctx, pollParams{
		taskID: taskID, taskRowID: taskRowID, credential: cred, model: desc.Name, isVideo: true, stream: true,
		prompt: cleanPrompt, guard: &guard,
	}, out)
	if result == outcomeCompleted {
		o.store.RecordSuccess(ctx, cred.ID, "video", today(o.now()))
	}
}

func (o *Orchestrator) emitRemixFailure(out chan<- string, model string, err error) {
	var uerr *upstream.Error
	if errors.As(err, &uerr) && uerr.Kind == upstream.KindCfShield429 {
		o.emitFatal(out, model, "cloudflare challenge or rate limit (429) triggered. Please change proxy or reduce request frequency.")
		return
	}
	o.emitFatal(out, model, fmt.Sprintf("remix failed: %v", err))
}
