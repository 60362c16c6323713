package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sora-gateway/gateway/internal/domain"
	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/scheduler"
	"github.com/sora-gateway/gateway/internal/streamfmt"
	"github.com/sora-gateway/gateway/internal/upstream"
)

const (
	cameoPollTimeout  = 10 * time.Minute
	cameoPollInterval = 5 * time.Second
	maxCameoErrors    = 3
)

// handleCharacterOnly runs the upload -> poll -> finalize -> publish
// character pipeline with no follow-on video generation, the counterpart
// of _handle_character_creation_only.
func (o *Orchestrator) handleCharacterOnly(ctx context.Context, videoBytes []byte, desc ModelDescriptor, out chan<- string) {
	cred, err := o.scheduler.Select(ctx, scheduler.SelectOptions{ForVideoGeneration: true})
	if err != nil || cred == nil {
		o.emitFatal(out, desc.Name, "no available tokens for character creation")
		return
	}

	ctx = logger.WithCredentialID(ctx, cred.ID)
	ctx = logger.WithOperation(ctx, "character_only")

	out <- mustSSE(streamfmt.NewRoleChunk(chatID(), desc.Name, o.now().Unix()))
	out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), desc.Name, o.now().Unix(), "initializing character creation..."))

	character, err := o.createCharacter(ctx, cred, videoBytes, desc, out)
	if err != nil {
		o.log.WithContext(ctx).Error("character creation failed", "error", err)
		o.recordFailure(ctx, cred, err)
		o.emitFatal(out, desc.Name, fmt.Sprintf("character creation failed: %v", err))
		return
	}
	defer o.deleteCharacter(ctx, cred, character.characterID, desc.Name, out)

	if err := o.client.SetCharacterPublic(ctx, character.cameoID, cred.AccessToken); err != nil {
		o.recordFailure(ctx, cred, err)
		o.emitFatal(out, desc.Name, fmt.Sprintf("failed to publish character: %v", err))
		return
	}

	out <- mustSSE(streamfmt.NewContentChunk(chatID(), desc.Name, o.now().Unix(),
		fmt.Sprintf("character created, handle @%s", character.username)))
	out <- mustSSE(streamfmt.NewFinalChunk(chatID(), desc.Name, o.now().Unix(), "stop"))
	out <- streamfmt.DoneLine
}

// handleCharacterAndVideo runs the same character pipeline, then generates
// a video with "@username <prompt>", guaranteeing character deletion on
// every exit path, the counterpart of _handle_character_and_video_generation.
func (o *Orchestrator) handleCharacterAndVideo(ctx context.Context, videoBytes []byte, prompt string, desc ModelDescriptor, out chan<- string) {
	cred, err := o.scheduler.Select(ctx, scheduler.SelectOptions{ForVideoGeneration: true})
	if err != nil || cred == nil {
		o.emitFatal(out, desc.Name, "no available tokens for video generation")
		return
	}

	ctx = logger.WithCredentialID(ctx, cred.ID)
	ctx = logger.WithOperation(ctx, "character_and_video")

	out <- mustSSE(streamfmt.NewRoleChunk(chatID(), desc.Name, o.now().Unix()))
	out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), desc.Name, o.now().Unix(), "initializing character creation..."))

	character, err := o.createCharacter(ctx, cred, videoBytes, desc, out)
	if err != nil {
		o.log.WithContext(ctx).Error("character creation failed", "error", err)
		o.recordFailure(ctx, cred, err)
		o.emitFatal(out, desc.Name, fmt.Sprintf("character creation failed: %v", err))
		return
	}
	defer o.deleteCharacter(ctx, cred, character.characterID, desc.Name, out)

	var guard Guard
	if !o.limiter.AcquireVideo(cred.ID) {
		o.emitFatal(out, desc.Name, fmt.Sprintf("failed to acquire concurrency slot for credential %d", cred.ID))
		return
	}
	guard.Add(func() { o.limiter.ReleaseVideo(cred.ID) })
	defer guard.ReleaseAll()

	fullPrompt := fmt.Sprintf("@%s %s", character.username, prompt)
	taskID, err := o.client.GenerateVideo(ctx, fullPrompt, cred.AccessToken, cred.ProxyURL, upstream.VideoGenOptions{
		Orientation: desc.Orientation, NFrames: desc.NFrames, Model: desc.UpstreamModel, Size: desc.Size,
	})
	if err != nil {
		o.recordFailure(ctx, cred, err)
		o.emitFatal(out, desc.Name, fmt.Sprintf("video generation failed: %v", err))
		return
	}

	ctx = logger.WithTaskID(ctx, taskID)

	taskRowID, _ := o.store.CreateTask(ctx, &domain.Task{
		UpstreamID: taskID, CredentialID: cred.ID, Model: desc.Name, Prompt: fullPrompt,
		Status: domain.TaskProcessing,
	})
	o.store.RecordUsage(ctx, cred.ID, o.now())

	result := o.pollTaskResult(ctx, pollParams{
		taskID: taskID, taskRowID: taskRowID, credential: cred, model: desc.Name, isVideo: true, stream: true,
		prompt: fullPrompt, guard: &guard,
	}, out)
	if result == outcomeCompleted {
		o.store.RecordSuccess(ctx, cred.ID, "video", today(o.now()))
	}
}

type createdCharacter struct {
	cameoID     string
	characterID string
	username    string
	displayName string
}

// createCharacter runs the shared upload -> poll -> download avatar ->
// upload avatar -> finalize steps common to both character flows.
func (o *Orchestrator) createCharacter(ctx context.Context, cred *domain.Credential, videoBytes []byte, desc ModelDescriptor, out chan<- string) (*createdCharacter, error) {
	out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), desc.Name, o.now().Unix(), "uploading video..."))
	cameoID, err := o.client.UploadCharacterVideo(ctx, videoBytes, cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("upload character video: %w", err)
	}

	out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), desc.Name, o.now().Unix(), "processing video to extract character..."))
	status, err := o.pollCameoStatus(ctx, cameoID, cred.AccessToken)
	if err != nil {
		return nil, err
	}

	usernameHint, _ := status["username_hint"].(string)
	if usernameHint == "" {
		usernameHint = "character"
	}
	displayName, _ := status["display_name_hint"].(string)
	if displayName == "" {
		displayName = "Character"
	}
	username := processCharacterUsername(usernameHint)

	out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), desc.Name, o.now().Unix(),
		fmt.Sprintf("character identified: %s (@%s)", displayName, username)))

	profileAssetURL, _ := status["profile_asset_url"].(string)
	if profileAssetURL == "" {
		return nil, fmt.Errorf("profile asset url not found in cameo status")
	}

	out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), desc.Name, o.now().Unix(), "downloading character avatar..."))
	avatarData, err := o.client.DownloadCharacterImage(ctx, profileAssetURL)
	if err != nil {
		return nil, fmt.Errorf("download character avatar: %w", err)
	}

	out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), desc.Name, o.now().Unix(), "uploading character avatar..."))
	assetPointer, err := o.client.UploadCharacterImage(ctx, avatarData, cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("upload character avatar: %w", err)
	}

	out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), desc.Name, o.now().Unix(), "finalizing character creation..."))
	characterID, err := o.client.FinalizeCharacter(ctx, cameoID, username, displayName, assetPointer, cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("finalize character: %w", err)
	}

	return &createdCharacter{cameoID: cameoID, characterID: characterID, username: username, displayName: displayName}, nil
}

func (o *Orchestrator) deleteCharacter(ctx context.Context, cred *domain.Credential, characterID, model string, out chan<- string) {
	if characterID == "" {
		return
	}
	out <- mustSSE(streamfmt.NewReasoningChunk(chatID(), model, o.now().Unix(), "cleaning up temporary character..."))
	if err := o.client.DeleteCharacter(ctx, characterID, cred.AccessToken); err != nil {
		o.log.WithContext(ctx).Warn("failed to delete character", "character_id", characterID, "error", err)
	}
}

// pollCameoStatus polls the cameo processing pipeline until it finalizes or
// fails, giving up when the transport error count reaches maxCameoErrors in
// a row, the counterpart of _poll_cameo_status.
func (o *Orchestrator) pollCameoStatus(ctx context.Context, cameoID, token string) (map[string]any, error) {
	deadline := o.now().Add(cameoPollTimeout)
	consecutiveErrors := 0

	for o.now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cameoPollInterval):
		}

		status, err := o.client.GetCameoStatus(ctx, cameoID, token)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= maxCameoErrors {
				return nil, fmt.Errorf("too many consecutive errors while polling cameo status: %w", err)
			}
			continue
		}
		consecutiveErrors = 0

		current, _ := status["status"].(string)
		message, _ := status["status_message"].(string)
		if current == "failed" {
			if message == "" {
				message = "character creation failed"
			}
			return nil, fmt.Errorf("character creation failed: %s", message)
		}
		if message == "Completed" || current == "finalized" {
			return status, nil
		}
	}
	return nil, fmt.Errorf("cameo processing timeout after %s", cameoPollTimeout)
}
