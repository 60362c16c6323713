// Package streamfmt renders generation results into the OpenAI
// chat.completion.chunk SSE shape the /v1/chat/completions surface promises
// clients (spec.md §4.8), grounded on the teacher's message_utils.go parsing
// of that same shape and stream_helpers.go's write-then-flush SSE loop.
package streamfmt

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Delta is one incremental content update within a chunk's single choice.
// ReasoningContent carries progress/heartbeat text (uploads, polling
// percentage, etc.); Content is reserved for the single terminal chunk of
// a flow, matching generation_handler.py's reasoning_content= vs content=
// split.
type Delta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// Choice is the single-element choices array every chunk carries.
type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Chunk is one chat.completion.chunk SSE event.
type Chunk struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
}

// NewRoleChunk opens a stream by announcing the assistant role, the first
// event every chat.completion.chunk stream sends.
func NewRoleChunk(id, model string, createdAt int64) Chunk {
	return Chunk{
		ID: id, Object: "chat.completion.chunk", Created: createdAt, Model: model,
		Choices: []Choice{{Index: 0, Delta: Delta{Role: "assistant"}}},
	}
}

// NewContentChunk carries the terminal content of a flow (a Markdown or
// HTML result, or a failure message); progress text goes through
// NewReasoningChunk instead.
func NewContentChunk(id, model string, createdAt int64, content string) Chunk {
	return Chunk{
		ID: id, Object: "chat.completion.chunk", Created: createdAt, Model: model,
		Choices: []Choice{{Index: 0, Delta: Delta{Content: content}}},
	}
}

// NewReasoningChunk carries one piece of progress/heartbeat text (upload
// progress, polling percentage, "video generation progress: N%", etc.)
// without touching the terminal content field.
func NewReasoningChunk(id, model string, createdAt int64, reasoning string) Chunk {
	return Chunk{
		ID: id, Object: "chat.completion.chunk", Created: createdAt, Model: model,
		Choices: []Choice{{Index: 0, Delta: Delta{ReasoningContent: reasoning}}},
	}
}

// NewFinalChunk closes a stream with an empty delta and a finish_reason.
func NewFinalChunk(id, model string, createdAt int64, finishReason string) Chunk {
	return Chunk{
		ID: id, Object: "chat.completion.chunk", Created: createdAt, Model: model,
		Choices: []Choice{{Index: 0, Delta: Delta{}, FinishReason: &finishReason}},
	}
}

// SSELine renders a Chunk as one "data: {...}\n\n" SSE event.
func SSELine(c Chunk) (string, error) {
	encoded, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal chunk: %w", err)
	}
	return "data: " + string(encoded) + "\n\n", nil
}

// DoneLine is the terminal SSE event every OpenAI-compatible stream ends
// with.
const DoneLine = "data: [DONE]\n\n"

// NonStreamMessage is the single assistant message of a non-streaming
// chat.completion response.
type NonStreamMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NonStreamChoice is the single-element choices array of a non-streaming
// response.
type NonStreamChoice struct {
	Index        int              `json:"index"`
	Message      NonStreamMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// NonStreamEnvelope is a complete chat.completion response body.
type NonStreamEnvelope struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []NonStreamChoice `json:"choices"`
}

// NewNonStreamEnvelope wraps content as a complete chat.completion body.
func NewNonStreamEnvelope(id, model string, createdAt int64, content string) NonStreamEnvelope {
	return NonStreamEnvelope{
		ID: id, Object: "chat.completion", Created: createdAt, Model: model,
		Choices: []NonStreamChoice{{
			Index:        0,
			Message:      NonStreamMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}
}

// SetSSEHeaders sets the response headers an SSE stream needs before the
// first write, matching stream_helpers.go's streamToClient.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
