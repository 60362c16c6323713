// Package upstream is the Upstream Client (spec.md §4.1): it wraps every
// call the gateway makes to the Sora-like generation backend, grounded on
// original_source/src/services/sora_client.py. It replaces curl_cffi's
// browser-fingerprint impersonation with a fixed User-Agent header set
// directly on each outgoing request, and replaces string-matched exception
// bodies with the typed errors in errors.go.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sora-gateway/gateway/internal/logger"
	"github.com/sora-gateway/gateway/internal/pow"
)

const (
	chatgptBaseURL = "https://chatgpt.com"
	sentinelFlow   = "sora_2_create_task"

	clientUserAgent = "Sora/1.2026.007 (Android 15; 24122RKC7C; build 2600700)"
)

// proxyAllowedPrefixes mirrors _make_request's allowed_prefixes: only
// creation traffic (video and storyboard creates under /nf/create, image
// creates under /video_gen) is allowed to route through a per-credential proxy.
var proxyAllowedPrefixes = []string{"/nf/create", "/video_gen"}

// Client talks to the upstream generation API for one request's lifetime.
type Client struct {
	baseURL string
	timeout time.Duration
	solver  *pow.Solver
	log     *logger.Logger
}

// New builds a Client. baseURL is the upstream API root (distinct from
// chatgptBaseURL, which only serves the sentinel token endpoint).
func New(baseURL string, timeout time.Duration, solver *pow.Solver, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		solver:  solver,
		log:     log.WithComponent("upstream_client"),
	}
}

// httpClientFor builds an *http.Client wired to proxyURL, or the zero-value
// direct transport when proxyURL is empty.
func httpClientFor(proxyURL string, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

func allowsProxy(endpoint string) bool {
	for _, prefix := range proxyAllowedPrefixes {
		if strings.HasPrefix(endpoint, prefix) {
			return true
		}
	}
	return false
}

type requestOptions struct {
	method           string
	endpoint         string
	token            string
	jsonBody         any
	multipartBody    *multipartPayload
	addSentinelToken bool
	proxyURL         string
}

type multipartPayload struct {
	fieldName string
	filename  string
	mimeType  string
	data      []byte
	extra     map[string]string
}

// do executes one upstream request, mirroring _make_request: conditional
// proxying, a fixed User-Agent, an optional sentinel token, and status-based
// error classification on non-2xx responses.
func (c *Client) do(ctx context.Context, opts requestOptions) (map[string]any, error) {
	proxyURL := opts.proxyURL
	if !allowsProxy(opts.endpoint) {
		proxyURL = ""
	}

	httpClient, err := httpClientFor(proxyURL, c.timeout)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""

	switch {
	case opts.multipartBody != nil:
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		partHeader := make(map[string][]string)
		partHeader["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name=%q; filename=%q`, opts.multipartBody.fieldName, opts.multipartBody.filename)}
		if opts.multipartBody.mimeType != "" {
			partHeader["Content-Type"] = []string{opts.multipartBody.mimeType}
		}
		part, err := w.CreatePart(partHeader)
		if err != nil {
			return nil, fmt.Errorf("create multipart file field: %w", err)
		}
		if _, err := part.Write(opts.multipartBody.data); err != nil {
			return nil, fmt.Errorf("write multipart file contents: %w", err)
		}
		for k, v := range opts.multipartBody.extra {
			if err := w.WriteField(k, v); err != nil {
				return nil, fmt.Errorf("write multipart field %s: %w", k, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close multipart writer: %w", err)
		}
		body = buf
		contentType = w.FormDataContentType()
	case opts.jsonBody != nil:
		encoded, err := json.Marshal(opts.jsonBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, opts.method, c.baseURL+opts.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+opts.token)
	req.Header.Set("User-Agent", clientUserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if opts.addSentinelToken {
		sentinelToken, err := c.generateSentinelToken(ctx, opts.token, proxyURL)
		if err != nil {
			return nil, fmt.Errorf("generate sentinel token: %w", err)
		}
		req.Header.Set("openai-sentinel-token", sentinelToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	var parsed map[string]any
	_ = json.Unmarshal(rawBody, &parsed) // non-JSON body is fine for classify's raw-body path

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		errCode, errMessage := extractErrorInfo(parsed)
		return nil, classify(resp.StatusCode, errCode, errMessage, string(rawBody))
	}

	return parsed, nil
}

func extractErrorInfo(body map[string]any) (code, message string) {
	if body == nil {
		return "", ""
	}
	errInfo, _ := body["error"].(map[string]any)
	if errInfo == nil {
		return "", ""
	}
	code, _ = errInfo["code"].(string)
	message, _ = errInfo["message"].(string)
	return code, message
}

// generateSentinelToken reproduces _generate_sentinel_token: solve an easy
// puzzle for the initial "p" token, call /backend-api/sentinel/req, then
// solve the server-issued puzzle (if required) to build the final payload.
func (c *Client) generateSentinelToken(ctx context.Context, token, proxyURL string) (string, error) {
	reqID := uuid.NewString()

	initialToken, err := c.solver.InitialToken(ctx)
	if err != nil {
		return "", fmt.Errorf("initial pow token: %w", err)
	}

	httpClient, err := httpClientFor("", 10*time.Second) // sentinel/req never proxies
	if err != nil {
		return "", err
	}

	payload := map[string]any{"p": initialToken, "flow": sentinelFlow, "id": reqID}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal sentinel request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatgptBaseURL+"/backend-api/sentinel/req", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("build sentinel request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://sora.chatgpt.com")
	req.Header.Set("Referer", "https://sora.chatgpt.com/")
	req.Header.Set("User-Agent", pow.DefaultUserAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sentinel request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("sentinel request failed: status %d", resp.StatusCode)
	}

	var sentinelResp map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&sentinelResp); err != nil {
		return "", fmt.Errorf("decode sentinel response: %w", err)
	}

	return c.solver.FinalToken(ctx, sentinelFlow, reqID, initialToken, sentinelResp)
}

// --- generation operations (spec.md §4.1) ---

// GetUserInfo fetches the credential's /me profile.
func (c *Client) GetUserInfo(ctx context.Context, token, proxyURL string) (map[string]any, error) {
	return c.do(ctx, requestOptions{method: http.MethodGet, endpoint: "/me", token: token, proxyURL: proxyURL})
}

// UploadImage uploads an input image and returns its media id.
func (c *Client) UploadImage(ctx context.Context, imageData []byte, token, filename, proxyURL string) (string, error) {
	mimeType := "image/png"
	switch {
	case strings.HasSuffix(strings.ToLower(filename), ".jpg"), strings.HasSuffix(strings.ToLower(filename), ".jpeg"):
		mimeType = "image/jpeg"
	case strings.HasSuffix(strings.ToLower(filename), ".webp"):
		mimeType = "image/webp"
	}

	result, err := c.do(ctx, requestOptions{
		method: http.MethodPost, endpoint: "/uploads", token: token, proxyURL: proxyURL,
		multipartBody: &multipartPayload{
			fieldName: "file", filename: filename, mimeType: mimeType, data: imageData,
			extra: map[string]string{"file_name": filename},
		},
	})
	if err != nil {
		return "", err
	}
	id, _ := result["id"].(string)
	return id, nil
}

// GenerateImage creates an image generation task (simple_compose, or remix
// when mediaID is set) and returns the task id.
func (c *Client) GenerateImage(ctx context.Context, prompt, token string, width, height int, mediaID, proxyURL string) (string, error) {
	operation := "simple_compose"
	var inpaintItems []map[string]any
	if mediaID != "" {
		operation = "remix"
		inpaintItems = []map[string]any{{"type": "image", "frame_index": 0, "upload_media_id": mediaID}}
	}

	result, err := c.do(ctx, requestOptions{
		method: http.MethodPost, endpoint: "/video_gen", token: token, proxyURL: proxyURL, addSentinelToken: true,
		jsonBody: map[string]any{
			"type": "image_gen", "operation": operation, "prompt": prompt,
			"width": width, "height": height, "n_variants": 1, "n_frames": 1,
			"inpaint_items": inpaintItems,
		},
	})
	if err != nil {
		return "", err
	}
	id, _ := result["id"].(string)
	return id, nil
}

// VideoGenOptions carries the parameters GenerateVideo needs beyond prompt
// and token, grouped to keep the call sites from drowning in positionals.
type VideoGenOptions struct {
	Orientation string // "landscape" | "portrait"
	MediaID     string // optional image-to-video source
	NFrames     int    // 300 | 450 | 750
	StyleID     string
	Model       string // "sy_8" standard, "sy_ore" pro
	Size        string // "small" | "large"
}

// GenerateVideo creates a video generation task and returns the task id.
func (c *Client) GenerateVideo(ctx context.Context, prompt, token, proxyURL string, opts VideoGenOptions) (string, error) {
	var inpaintItems []map[string]any
	if opts.MediaID != "" {
		inpaintItems = []map[string]any{{"kind": "upload", "upload_id": opts.MediaID}}
	}

	result, err := c.do(ctx, requestOptions{
		method: http.MethodPost, endpoint: "/nf/create", token: token, proxyURL: proxyURL, addSentinelToken: true,
		jsonBody: map[string]any{
			"kind": "video", "prompt": prompt, "orientation": opts.Orientation,
			"size": opts.Size, "n_frames": opts.NFrames, "model": opts.Model,
			"inpaint_items": inpaintItems, "style_id": nullable(opts.StyleID),
		},
	})
	if err != nil {
		return "", err
	}
	id, _ := result["id"].(string)
	return id, nil
}

// RemixVideo generates a video based on an existing shared video.
func (c *Client) RemixVideo(ctx context.Context, remixTargetID, prompt, token, proxyURL string, orientation string, nFrames int, styleID string) (string, error) {
	result, err := c.do(ctx, requestOptions{
		method: http.MethodPost, endpoint: "/nf/create", token: token, proxyURL: proxyURL, addSentinelToken: true,
		jsonBody: map[string]any{
			"kind": "video", "prompt": prompt, "inpaint_items": []any{},
			"remix_target_id": remixTargetID, "cameo_ids": []any{}, "cameo_replacements": map[string]any{},
			"model": "sy_8", "orientation": orientation, "n_frames": nFrames, "style_id": nullable(styleID),
		},
	})
	if err != nil {
		return "", err
	}
	id, _ := result["id"].(string)
	return id, nil
}

// GenerateStoryboard creates a multi-shot storyboard video generation task.
func (c *Client) GenerateStoryboard(ctx context.Context, formattedPrompt, token, proxyURL, orientation, mediaID string, nFrames int, styleID string) (string, error) {
	var inpaintItems []map[string]any
	if mediaID != "" {
		inpaintItems = []map[string]any{{"kind": "upload", "upload_id": mediaID}}
	}

	result, err := c.do(ctx, requestOptions{
		method: http.MethodPost, endpoint: "/nf/create/storyboard", token: token, proxyURL: proxyURL, addSentinelToken: true,
		jsonBody: map[string]any{
			"kind": "video", "prompt": formattedPrompt, "title": "Draft your video",
			"orientation": orientation, "size": "small", "n_frames": nFrames,
			"storyboard_id": nil, "inpaint_items": inpaintItems, "remix_target_id": nil,
			"model": "sy_8", "metadata": nil, "style_id": nullable(styleID),
			"cameo_ids": nil, "cameo_replacements": nil,
			"audio_caption": nil, "audio_transcript": nil, "video_caption": nil,
		},
	})
	if err != nil {
		return "", err
	}
	id, _ := result["id"].(string)
	return id, nil
}

// GetImageTasks lists recent image generation tasks.
func (c *Client) GetImageTasks(ctx context.Context, token, proxyURL string, limit int) (map[string]any, error) {
	return c.do(ctx, requestOptions{method: http.MethodGet, endpoint: fmt.Sprintf("/v2/recent_tasks?limit=%d", limit), token: token, proxyURL: proxyURL})
}

// GetVideoDrafts lists recent video drafts.
func (c *Client) GetVideoDrafts(ctx context.Context, token, proxyURL string, limit int) (map[string]any, error) {
	return c.do(ctx, requestOptions{method: http.MethodGet, endpoint: fmt.Sprintf("/project_y/profile/drafts?limit=%d", limit), token: token, proxyURL: proxyURL})
}

// GetPendingTasks lists in-flight video tasks with their progress.
func (c *Client) GetPendingTasks(ctx context.Context, token, proxyURL string) ([]any, error) {
	httpClient, err := httpClientFor("", c.timeout)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/nf/pending/v2", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", clientUserAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pending tasks request failed: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, "", "", string(rawBody))
	}

	var list []any
	if err := json.Unmarshal(rawBody, &list); err != nil {
		return []any{}, nil // a non-list body is treated as "no pending tasks", matching the Python fallback
	}
	return list, nil
}

// PostVideoForWatermarkFree publishes a generation to get a shareable post
// id, the prerequisite for resolving a watermark-free download URL.
func (c *Client) PostVideoForWatermarkFree(ctx context.Context, generationID, token string) (string, error) {
	result, err := c.do(ctx, requestOptions{
		method: http.MethodPost, endpoint: "/project_y/post", token: token, addSentinelToken: true,
		jsonBody: map[string]any{
			"attachments_to_create": []map[string]any{{"generation_id": generationID, "kind": "sora"}},
			"post_text":             "",
		},
	})
	if err != nil {
		return "", err
	}
	post, _ := result["post"].(map[string]any)
	if post == nil {
		return "", nil
	}
	id, _ := post["id"].(string)
	return id, nil
}

// DeletePost removes a published post.
func (c *Client) DeletePost(ctx context.Context, postID, token string) error {
	_, err := c.doDelete(ctx, fmt.Sprintf("/project_y/post/%s", postID), token)
	return err
}

// GetWatermarkFreeURLCustom resolves a watermark-free download link through
// the operator's own custom parse server (spec.md's WatermarkFreeCustom
// path), posting the public share URL the way the original client does.
func (c *Client) GetWatermarkFreeURLCustom(ctx context.Context, parseURL, parseToken, postID string) (string, error) {
	shareURL := fmt.Sprintf("https://sora.chatgpt.com/p/%s", postID)

	httpClient, err := httpClientFor("", 30*time.Second)
	if err != nil {
		return "", err
	}

	encoded, err := json.Marshal(map[string]any{"url": shareURL, "token": parseToken})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(parseURL, "/")+"/get-sora-link", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("custom parse request failed: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("custom parse failed: status %d - %s", resp.StatusCode, string(rawBody))
	}

	var result map[string]any
	if err := json.Unmarshal(rawBody, &result); err != nil {
		return "", fmt.Errorf("decode custom parse response: %w", err)
	}
	if errMsg, ok := result["error"]; ok {
		return "", fmt.Errorf("custom parse error: %v", errMsg)
	}
	downloadLink, _ := result["download_link"].(string)
	if downloadLink == "" {
		return "", fmt.Errorf("no download_link in custom parse response")
	}
	return downloadLink, nil
}

func (c *Client) doDelete(ctx context.Context, endpoint, token string) (*http.Response, error) {
	httpClient, err := httpClientFor("", c.timeout)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("delete failed: status %d - %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// --- character (cameo) operations ---

// UploadCharacterVideo uploads a reference video and returns a cameo id.
func (c *Client) UploadCharacterVideo(ctx context.Context, videoData []byte, token string) (string, error) {
	result, err := c.do(ctx, requestOptions{
		method: http.MethodPost, endpoint: "/characters/upload", token: token,
		multipartBody: &multipartPayload{
			fieldName: "file", filename: "video.mp4", mimeType: "video/mp4", data: videoData,
			extra: map[string]string{"timestamps": "0,3"},
		},
	})
	if err != nil {
		return "", err
	}
	id, _ := result["id"].(string)
	return id, nil
}

// GetCameoStatus polls the cameo processing pipeline.
func (c *Client) GetCameoStatus(ctx context.Context, cameoID, token string) (map[string]any, error) {
	return c.do(ctx, requestOptions{method: http.MethodGet, endpoint: fmt.Sprintf("/project_y/cameos/in_progress/%s", cameoID), token: token})
}

// DownloadCharacterImage fetches a cameo's profile image bytes.
func (c *Client) DownloadCharacterImage(ctx context.Context, imageURL string) ([]byte, error) {
	httpClient, err := httpClientFor("", c.timeout)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download character image: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// UploadCharacterImage uploads a profile image and returns its asset pointer.
func (c *Client) UploadCharacterImage(ctx context.Context, imageData []byte, token string) (string, error) {
	result, err := c.do(ctx, requestOptions{
		method: http.MethodPost, endpoint: "/project_y/file/upload", token: token,
		multipartBody: &multipartPayload{
			fieldName: "file", filename: "profile.webp", mimeType: "image/webp", data: imageData,
			extra: map[string]string{"use_case": "profile"},
		},
	})
	if err != nil {
		return "", err
	}
	pointer, _ := result["asset_pointer"].(string)
	return pointer, nil
}

// FinalizeCharacter completes character creation after upload+cameo
// processing and returns the new character id. instruction_set is always
// sent as null, matching the API's (undocumented) requirement.
func (c *Client) FinalizeCharacter(ctx context.Context, cameoID, username, displayName, profileAssetPointer, token string) (string, error) {
	result, err := c.do(ctx, requestOptions{
		method: http.MethodPost, endpoint: "/characters/finalize", token: token,
		jsonBody: map[string]any{
			"cameo_id": cameoID, "username": username, "display_name": displayName,
			"profile_asset_pointer":  profileAssetPointer,
			"instruction_set":        nil,
			"safety_instruction_set": nil,
		},
	})
	if err != nil {
		return "", err
	}
	character, _ := result["character"].(map[string]any)
	if character == nil {
		return "", nil
	}
	id, _ := character["character_id"].(string)
	return id, nil
}

// SetCharacterPublic flips a cameo's visibility to public.
func (c *Client) SetCharacterPublic(ctx context.Context, cameoID, token string) error {
	_, err := c.do(ctx, requestOptions{
		method: http.MethodPost, endpoint: fmt.Sprintf("/project_y/cameos/by_id/%s/update_v2", cameoID), token: token,
		jsonBody: map[string]any{"visibility": "public"},
	})
	return err
}

// DeleteCharacter removes a character.
func (c *Client) DeleteCharacter(ctx context.Context, characterID, token string) error {
	_, err := c.doDelete(ctx, fmt.Sprintf("/project_y/characters/%s", characterID), token)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
