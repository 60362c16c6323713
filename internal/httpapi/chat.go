package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sora-gateway/gateway/internal/errors"
	"github.com/sora-gateway/gateway/internal/orchestrator"
	"github.com/sora-gateway/gateway/internal/streamfmt"
)

// chatMessage is one entry of an OpenAI chat completion request; Content is
// left as json.RawMessage since it may be a plain string or the multimodal
// array form.
type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// chatCompletionRequest mirrors the OpenAI chat completions request shape,
// plus the gateway's own top-level extensions (image, video,
// remix_target_id) documented alongside the multimodal message form.
type chatCompletionRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	Stream        bool          `json:"stream"`
	Image         string        `json:"image"`
	Video         string        `json:"video"`
	RemixTargetID string        `json:"remix_target_id"`
}

// contentPart is one entry of the multimodal message content array.
type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
	VideoURL struct {
		URL string `json:"url"`
	} `json:"video_url"`
}

func (s *Server) handleChatCompletions(c *gin.Context) {
	var body chatCompletionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		errors.AbortWithBadRequest(c, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	prompt, imageB64, videoRef := extractLastMessage(body.Messages)
	if body.Image != "" {
		imageB64 = body.Image
	}
	if body.Video != "" {
		videoRef = body.Video
	}

	req := orchestrator.Request{
		Model:         body.Model,
		Prompt:        prompt,
		ImageBase64:   imageB64,
		VideoRef:      videoRef,
		RemixTargetID: body.RemixTargetID,
		Stream:        body.Stream,
	}

	chunks, err := s.orchestrator.Handle(c.Request.Context(), req)
	if err != nil {
		writeValidationError(c, err)
		return
	}

	if !req.Stream {
		for line := range chunks {
			c.Data(http.StatusOK, "application/json", []byte(line))
			return
		}
		return
	}

	streamfmt.SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Stream(func(w io.Writer) bool {
		line, ok := <-chunks
		if !ok {
			return false
		}
		io.WriteString(w, line)
		return true
	})
}

// extractLastMessage concatenates the last message's text parts into a
// prompt and pulls the URL of the first image_url part and of the first
// video_url part found, whatever their form (data URI or plain URL),
// matching spec.md §6's multimodal content handling.
func extractLastMessage(messages []chatMessage) (prompt, imageB64, videoRef string) {
	if len(messages) == 0 {
		return "", "", ""
	}
	last := messages[len(messages)-1]

	var asString string
	if err := json.Unmarshal(last.Content, &asString); err == nil {
		return asString, "", ""
	}

	var parts []contentPart
	if err := json.Unmarshal(last.Content, &parts); err != nil {
		return "", "", ""
	}

	var sb strings.Builder
	for _, p := range parts {
		switch p.Type {
		case "text":
			sb.WriteString(p.Text)
		case "image_url":
			if imageB64 == "" {
				imageB64 = p.ImageURL.URL
			}
		case "video_url":
			if videoRef == "" {
				videoRef = p.VideoURL.URL
			}
		}
	}
	return sb.String(), imageB64, videoRef
}

func writeValidationError(c *gin.Context, err error) {
	if ve, ok := err.(*orchestrator.ValidationError); ok {
		errors.AbortWithBadRequest(c, ve.Message, nil)
		return
	}
	errors.AbortWithInternal(c, err.Error(), nil)
}
