package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sora-gateway/gateway/internal/domain"
	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/scheduler"
	"github.com/sora-gateway/gateway/internal/streamfmt"
	"github.com/sora-gateway/gateway/internal/upstream"
)

// handleGenerate is the shared create->poll->release pipeline for direct
// image and video generation (no remix, no character attachment), the Go
// counterpart of handle_generation's main body.
func (o *Orchestrator) handleGenerate(ctx context.Context, req Request, desc ModelDescriptor, out chan<- string) {
	opts := scheduler.SelectOptions{
		ForImageGeneration: desc.Type == ModalityImage,
		ForVideoGeneration: desc.Type == ModalityVideo,
		RequirePro:         desc.RequirePro,
	}
	cred, err := o.scheduler.Select(ctx, opts)
	if err != nil || cred == nil {
		o.emitFatal(out, desc.Name, unavailableMessage(desc))
		return
	}

	var guard Guard
	isImage := desc.Type == ModalityImage
	if isImage {
		if !o.tokenLock.TryAcquire(cred.ID) {
			o.emitFatal(out, desc.Name, fmt.Sprintf("failed to acquire lock for credential %d", cred.ID))
			return
		}
		guard.Add(func() { o.tokenLock.Release(cred.ID) })
		if !o.limiter.AcquireImage(cred.ID) {
			guard.ReleaseAll()
			o.emitFatal(out, desc.Name, fmt.Sprintf("failed to acquire concurrency slot for credential %d", cred.ID))
			return
		}
		guard.Add(func() { o.limiter.ReleaseImage(cred.ID) })
	} else {
		if !o.limiter.AcquireVideo(cred.ID) {
			o.emitFatal(out, desc.Name, fmt.Sprintf("failed to acquire concurrency slot for credential %d", cred.ID))
			return
		}
		guard.Add(func() { o.limiter.ReleaseVideo(cred.ID) })
	}
	defer guard.ReleaseAll()

	operation := "generate_" + string(desc.Type)
	ctx = logger.WithCredentialID(ctx, cred.ID)
	ctx = logger.WithOperation(ctx, operation)

	log := &domain.RequestLog{
		CredentialID:   &cred.ID,
		Operation:      operation,
		StatusCode:     domain.StatusInProgress,
		DurationSecond: domain.DurationSecondsInProgress,
	}
	requestBody, _ := json.Marshal(map[string]any{
		"model": desc.Name, "prompt": req.Prompt, "has_image": req.ImageBase64 != "",
	})
	log.RequestBody = string(requestBody)
	logID, _ := o.store.OpenRequestLog(ctx, log)

	var taskID, prompt string
	fail := o.log.LogOperation(ctx, operation, func() error {
		var cerr error
		taskID, prompt, cerr = o.create(ctx, req, desc, cred, out)
		return cerr
	})
	if fail != nil {
		o.recordFailure(ctx, cred, fail)
		o.closeLogWithError(ctx, logID, fail)
		o.metrics.ObserveOutcome(string(desc.Type), outcomeFor(fail))
		return
	}

	ctx = logger.WithTaskID(ctx, taskID)

	taskRowID, err := o.store.CreateTask(ctx, &domain.Task{
		UpstreamID: taskID, CredentialID: cred.ID, Model: desc.Name, Prompt: prompt,
		Status: domain.TaskProcessing,
	})
	if err != nil {
		o.log.WithContext(ctx).Error("create task record failed", "error", err)
	}
	o.store.RecordUsage(ctx, cred.ID, o.now())

	outcome := o.pollTaskResult(ctx, pollParams{
		taskID: taskID, taskRowID: taskRowID, credential: cred, model: desc.Name, isVideo: !isImage, stream: true,
		prompt: prompt, guard: &guard, logID: logID,
	}, out)

	switch outcome {
	case outcomeCompleted:
		if isImage {
			o.store.RecordSuccess(ctx, cred.ID, "image", today(o.now()))
		} else {
			o.store.RecordSuccess(ctx, cred.ID, "video", today(o.now()))
		}
	}
	o.metrics.ObserveOutcome(string(desc.Type), string(outcome))
}

// create issues the upstream create call for the resolved modality and
// returns the upstream task id and the prompt recorded for the task: the
// image prompt as given, or the video prompt with its style tag removed.
// For a storyboard prompt this is the text before formatting; the formatted
// timeline is what is sent upstream.
func (o *Orchestrator) create(ctx context.Context, req Request, desc ModelDescriptor, cred *domain.Credential, out chan<- string) (taskID, prompt string, err error) {
	var mediaID string
	if req.ImageBase64 != "" {
		out <- mustSSE(streamfmt.NewRoleChunk(chatID(), desc.Name, o.now().Unix()))
		out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), desc.Name, o.now().Unix(), "uploading image to server..."))
		imageData, derr := decodeBase64Payload(req.ImageBase64)
		if derr != nil {
			return "", "", fmt.Errorf("decode image attachment: %w", derr)
		}
		id, uerr := o.client.UploadImage(ctx, imageData, cred.AccessToken, "upload.png", cred.ProxyURL)
		if uerr != nil {
			return "", "", uerr
		}
		mediaID = id
	}

	if desc.Type == ModalityImage {
		id, cerr := o.client.GenerateImage(ctx, req.Prompt, cred.AccessToken, desc.Width, desc.Height, mediaID, cred.ProxyURL)
		return id, req.Prompt, cerr
	}

	styleID, cleanPrompt, _ := upstream.ExtractStyle(req.Prompt)
	if upstream.IsStoryboardPrompt(cleanPrompt) {
		formatted := upstream.FormatStoryboardPrompt(cleanPrompt)
		id, cerr := o.client.GenerateStoryboard(ctx, formatted, cred.AccessToken, cred.ProxyURL, desc.Orientation, mediaID, desc.NFrames, styleID)
		return id, cleanPrompt, cerr
	}

	id, cerr := o.client.GenerateVideo(ctx, cleanPrompt, cred.AccessToken, cred.ProxyURL, upstream.VideoGenOptions{
		Orientation: desc.Orientation, MediaID: mediaID, NFrames: desc.NFrames,
		StyleID: styleID, Model: desc.UpstreamModel, Size: desc.Size,
	})
	return id, cleanPrompt, cerr
}

func unavailableMessage(desc ModelDescriptor) string {
	switch {
	case desc.RequirePro:
		return "No available Pro tokens. Pro models require a ChatGPT Pro subscription."
	case desc.Type == ModalityImage:
		return "No available tokens for image generation. All tokens are either disabled, cooling down, locked, or expired."
	default:
		return "No available tokens for video generation. All tokens are either disabled, cooling down, Sora2 quota exhausted, don't support Sora2, or expired."
	}
}

// recordFailure classifies err and updates the credential's error counters,
// matching handle_generation's except block: overload and CF-shield/429
// failures don't count toward the consecutive-error ban threshold.
func (o *Orchestrator) recordFailure(ctx context.Context, cred *domain.Credential, err error) {
	var uerr *upstream.Error
	overloadOrShield := errors.As(err, &uerr) && (uerr.Kind == upstream.KindOverload || uerr.Kind == upstream.KindCfShield429)
	if errors.As(err, &uerr) && uerr.Kind == upstream.KindUpstreamAuthExpired {
		o.store.MarkExpired(ctx, cred.ID)
		return
	}
	o.store.RecordError(ctx, cred.ID, today(o.now()), overloadOrShield)
}

func (o *Orchestrator) closeLogWithError(ctx context.Context, logID int64, err error) {
	if logID == 0 {
		return
	}
	var uerr *upstream.Error
	statusCode := 500
	body := map[string]any{"error": err.Error()}
	if errors.As(err, &uerr) {
		if uerr.Kind == upstream.KindCfShield429 {
			statusCode = 429
		} else {
			statusCode = 400
		}
		body = map[string]any{"error": map[string]any{"message": uerr.Message, "status_code": uerr.StatusCode}}
	}
	encoded, _ := json.Marshal(body)
	o.store.CloseRequestLog(ctx, logID, statusCode, string(encoded), 0, o.now())
}

func today(t time.Time) string {
	return t.Format("2006-01-02")
}

func outcomeFor(err error) string {
	var uerr *upstream.Error
	if errors.As(err, &uerr) && uerr.Kind == upstream.KindContentViolation {
		return string(outcomeViolation)
	}
	return string(outcomeFailed)
}

type outcome string

const (
	outcomeCompleted outcome = "completed"
	outcomeFailed    outcome = "failed"
	outcomeViolation outcome = "violation"
	outcomeTimeout   outcome = "timeout"
)
