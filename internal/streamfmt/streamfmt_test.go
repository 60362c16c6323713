package streamfmt

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSSELineRoundTrips(t *testing.T) {
	chunk := NewContentChunk("chatcmpl-1", "sora-image", 1700000000, "50% complete")
	line, err := SSELine(chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") || !strings.HasSuffix(line, "\n\n") {
		t.Fatalf("unexpected SSE framing: %q", line)
	}

	raw := strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n\n")
	var decoded Chunk
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("unexpected error decoding: %v", err)
	}
	if decoded.Choices[0].Delta.Content != "50% complete" {
		t.Fatalf("unexpected content: %q", decoded.Choices[0].Delta.Content)
	}
}

func TestFinalChunkCarriesFinishReason(t *testing.T) {
	chunk := NewFinalChunk("chatcmpl-1", "sora-image", 1700000000, "stop")
	if chunk.Choices[0].FinishReason == nil || *chunk.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected finish_reason stop, got %+v", chunk.Choices[0].FinishReason)
	}
}

func TestRoleChunkAnnouncesAssistant(t *testing.T) {
	chunk := NewRoleChunk("chatcmpl-1", "sora-image", 1700000000)
	if chunk.Choices[0].Delta.Role != "assistant" {
		t.Fatalf("expected assistant role, got %q", chunk.Choices[0].Delta.Role)
	}
}

func TestNonStreamEnvelopeShape(t *testing.T) {
	env := NewNonStreamEnvelope("chatcmpl-1", "sora-image", 1700000000, "![result](https://example.com/x.png)")
	if env.Object != "chat.completion" {
		t.Fatalf("expected chat.completion object, got %q", env.Object)
	}
	if env.Choices[0].Message.Role != "assistant" {
		t.Fatalf("expected assistant role in message")
	}
	if env.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected finish_reason stop, got %q", env.Choices[0].FinishReason)
	}
}
