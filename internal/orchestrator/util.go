package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"

	"github.com/sora-gateway/gateway/internal/streamfmt"
)

// decodeBase64Payload strips an optional "data:...;base64," URI prefix and
// decodes the remainder, the Go equivalent of _decode_base64_image /
// _decode_base64_video.
func decodeBase64Payload(s string) ([]byte, error) {
	if idx := strings.Index(s, ","); idx >= 0 && strings.HasPrefix(s, "data:") {
		s = s[idx+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

// resolveVideoBytes returns the raw bytes behind a video field that may be
// a data URI, a plain base64 blob, or an http(s) URL to download lazily.
func (o *Orchestrator) resolveVideoBytes(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		buf := make([]byte, 0, 1<<20)
		chunk := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if rerr != nil {
				break
			}
		}
		return buf, nil
	}
	return decodeBase64Payload(ref)
}

// processCharacterUsername mirrors _process_character_username: the
// upstream-assigned username hint carries a "<tier>." prefix that is
// stripped, then three random digits are appended.
func processCharacterUsername(usernameHint string) string {
	base := usernameHint
	if idx := strings.LastIndex(usernameHint, "."); idx >= 0 {
		base = usernameHint[idx+1:]
	}
	digits := 100 + rand.Intn(900)
	return base + itoa(digits)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

func mustSSE(c streamfmt.Chunk) string {
	line, err := streamfmt.SSELine(c)
	if err != nil {
		// Chunk is always a plain struct of strings and ints; Marshal cannot
		// fail on it. Surfacing [DONE] keeps a malformed chunk from hanging
		// a client stream open forever.
		return streamfmt.DoneLine
	}
	return line
}

func marshalNonStream(env streamfmt.NonStreamEnvelope) (string, error) {
	encoded, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
