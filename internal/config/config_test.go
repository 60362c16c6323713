package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("MODELS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if len(cfg.Models) == 0 {
		t.Fatal("expected the built-in model table fallback to populate Models")
	}
	if _, ok := cfg.Models["gpt-image"]; !ok {
		t.Fatal("expected fallback table to include gpt-image")
	}
}

func TestLoadReadsModelsFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	doc := `models:
  - name: custom-image
    type: image
    width: 100
    height: 100
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("MODELS_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := cfg.Models["custom-image"]
	if !ok {
		t.Fatal("expected custom-image to be loaded from the YAML file")
	}
	if d.Width != 100 || d.Height != 100 {
		t.Fatalf("expected width/height 100, got %d/%d", d.Width, d.Height)
	}
}

func TestGetEnvAsIntFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	if got := getEnvAsInt("SOME_INT", 42); got != 42 {
		t.Fatalf("expected fallback 42, got %d", got)
	}
}

func TestSplitCSVTrimsAndDropsEmpties(t *testing.T) {
	got := splitCSV(" a, b ,, c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
