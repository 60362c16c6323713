package upstream

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	storyboardMarker = regexp.MustCompile(`\[\d+(?:\.\d+)?s\]`)
	storyboardShot   = regexp.MustCompile(`\[(\d+(?:\.\d+)?)s\]\s*([^\[]+)`)
)

// IsStoryboardPrompt reports whether prompt uses the "[5.0s]scene [3.0s]scene"
// storyboard shorthand, ported from SoraClient.is_storyboard_prompt: at
// least one "[<seconds>s]" marker is enough to switch to storyboard mode.
func IsStoryboardPrompt(prompt string) bool {
	if prompt == "" {
		return false
	}
	return len(storyboardMarker.FindAllString(prompt, -1)) >= 1
}

// FormatStoryboardPrompt rewrites a "[time]scene" prompt into the
// "Shot N:\nduration: Xsec\nScene: ..." shape the storyboard endpoint
// expects, the direct port of SoraClient.format_storyboard_prompt. Text
// before the first "[" becomes a trailing "instructions:" block, and only
// then is the shot list prefixed with "current timeline:"; a prompt that
// starts with a marker yields the bare shot list.
func FormatStoryboardPrompt(prompt string) string {
	matches := storyboardShot.FindAllStringSubmatch(prompt, -1)
	if len(matches) == 0 {
		return prompt
	}

	instructions := ""
	if idx := strings.Index(prompt, "["); idx > 0 {
		instructions = strings.TrimSpace(prompt[:idx])
	}

	shots := make([]string, 0, len(matches))
	for i, m := range matches {
		duration := m[1]
		scene := strings.TrimSpace(m[2])
		shots = append(shots, fmt.Sprintf("Shot %d:\nduration: %ssec\nScene: %s", i+1, duration, scene))
	}
	timeline := strings.Join(shots, "\n\n")

	if instructions != "" {
		return fmt.Sprintf("current timeline:\n%s\n\ninstructions:\n%s", timeline, instructions)
	}
	return timeline
}

// shareIDPattern extracts the embedded share id (e.g. s_690d100857...) from
// a Sora share URL or raw prompt text, used by the Generation Orchestrator's
// remix pre-flow to detect an implicit remix request.
var shareIDPattern = regexp.MustCompile(`s_[0-9a-f]{32}`)

// ExtractShareID returns the first embedded share id found in text, if any.
func ExtractShareID(text string) (string, bool) {
	match := shareIDPattern.FindString(text)
	return match, match != ""
}

// remixURLPattern and remixIDPattern strip an embedded remix link from a
// prompt so it is not echoed back into the generated video's metadata,
// ported from SoraClient._clean_remix_link_from_prompt.
var (
	remixURLPattern = regexp.MustCompile(`https://sora\.chatgpt\.com/p/s_[0-9a-f]{32}`)
	remixIDPattern  = regexp.MustCompile(`s_[0-9a-f]{32}`)
)

// CleanRemixLink removes both the full share URL and the bare share id from
// prompt, collapsing the whitespace left behind.
func CleanRemixLink(prompt string) string {
	if prompt == "" {
		return prompt
	}
	cleaned := remixURLPattern.ReplaceAllString(prompt, "")
	cleaned = remixIDPattern.ReplaceAllString(cleaned, "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// stylePattern extracts a "{style_name}" style tag from a prompt.
var stylePattern = regexp.MustCompile(`\{([^}]+)\}`)

// ExtractStyle returns the style tag embedded in a prompt (e.g. "{noir}")
// and the prompt with the tag removed, or ok=false if none is present.
func ExtractStyle(prompt string) (style, cleaned string, ok bool) {
	match := stylePattern.FindStringSubmatchIndex(prompt)
	if match == nil {
		return "", prompt, false
	}
	style = prompt[match[2]:match[3]]
	cleaned = strings.TrimSpace(prompt[:match[0]] + prompt[match[1]:])
	return style, cleaned, true
}
