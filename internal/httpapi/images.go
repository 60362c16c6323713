package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sora-gateway/gateway/internal/errors"
	"github.com/sora-gateway/gateway/internal/orchestrator"
)

// imageURLPattern extracts the Markdown image URLs the orchestrator's
// content chunks embed, matching poll.go's "![Generated Image](url)" format.
var imageURLPattern = regexp.MustCompile(`!\[Generated Image\]\(([^)]+)\)`)

type imageGenerationsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type imageDatum struct {
	URL string `json:"url"`
}

// handleImageGenerations adapts the chat-style streaming pipeline to the
// standard OpenAI image-generation response shape: it always drives the
// orchestrator in streaming mode internally, accumulates the assistant's
// content deltas, and regex-extracts the cached image URLs from the final
// Markdown content chunk.
func (s *Server) handleImageGenerations(c *gin.Context) {
	var body imageGenerationsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		errors.AbortWithBadRequest(c, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	req := orchestrator.Request{Model: body.Model, Prompt: body.Prompt, Stream: true}
	chunks, err := s.orchestrator.Handle(c.Request.Context(), req)
	if err != nil {
		writeValidationError(c, err)
		return
	}

	var accumulated string
	for line := range chunks {
		accumulated += extractSSEContent(line)
	}

	matches := imageURLPattern.FindAllStringSubmatch(accumulated, -1)
	if len(matches) == 0 && strings.Contains(accumulated, fatalMarker) {
		writeNonStreamFailure(c, accumulated)
		return
	}

	data := make([]imageDatum, 0, len(matches))
	for _, m := range matches {
		data = append(data, imageDatum{URL: m[1]})
	}

	c.JSON(http.StatusOK, gin.H{"created": time.Now().Unix(), "data": data})
}

// sseChunk mirrors just enough of streamfmt.Chunk's shape to pull the
// content delta back out of an SSE "data: {...}\n\n" line.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func extractSSEContent(line string) string {
	const prefix = "data: "
	if len(line) <= len(prefix) || line[:len(prefix)] != prefix {
		return ""
	}
	payload := line[len(prefix):]
	if len(payload) >= 6 && payload[:6] == "[DONE]" {
		return ""
	}
	var chunk sseChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil || len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}
