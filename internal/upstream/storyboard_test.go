package upstream

import "testing"

func TestIsStoryboardPrompt(t *testing.T) {
	cases := map[string]bool{
		"":                                      false,
		"a plain prompt":                        false,
		"[5.0s]cat jumps [5.0s]cat lands":       true,
		"intro\n[3s]scene one\n[2.5s]scene two": true,
	}
	for prompt, want := range cases {
		if got := IsStoryboardPrompt(prompt); got != want {
			t.Errorf("IsStoryboardPrompt(%q) = %v, want %v", prompt, got, want)
		}
	}
}

func TestFormatStoryboardPrompt(t *testing.T) {
	prompt := "cat's wondrous adventure\n[5.0s]cat jumps from plane [5.0s]cat lands"
	got := FormatStoryboardPrompt(prompt)

	want := "current timeline:\n" +
		"Shot 1:\nduration: 5.0sec\nScene: cat jumps from plane\n\n" +
		"Shot 2:\nduration: 5.0sec\nScene: cat lands\n\n" +
		"instructions:\ncat's wondrous adventure"

	if got != want {
		t.Errorf("FormatStoryboardPrompt mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestFormatStoryboardPromptWithoutInstructions(t *testing.T) {
	prompt := "[2s]only scene"
	got := FormatStoryboardPrompt(prompt)
	want := "Shot 1:\nduration: 2sec\nScene: only scene"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatStoryboardPromptPassthroughWhenNoMatch(t *testing.T) {
	prompt := "a plain prompt with no markers"
	if got := FormatStoryboardPrompt(prompt); got != prompt {
		t.Errorf("expected passthrough, got %q", got)
	}
}

func TestExtractShareID(t *testing.T) {
	text := "check out https://sora.chatgpt.com/p/s_690d100857248191b679e6de12db840e for this"
	id, ok := ExtractShareID(text)
	if !ok || id != "s_690d100857248191b679e6de12db840e" {
		t.Fatalf("got id=%q ok=%v", id, ok)
	}

	if _, ok := ExtractShareID("no share id here"); ok {
		t.Fatal("expected no match")
	}
}

func TestExtractStyle(t *testing.T) {
	style, cleaned, ok := ExtractStyle("a cat in the rain {noir}")
	if !ok || style != "noir" || cleaned != "a cat in the rain" {
		t.Fatalf("got style=%q cleaned=%q ok=%v", style, cleaned, ok)
	}

	_, _, ok = ExtractStyle("a cat with no style tag")
	if ok {
		t.Fatal("expected no match")
	}
}
