// Package orchestrator implements the Generation Orchestrator (spec.md §4.7):
// the end-to-end pipeline that resolves a requested model to a capability
// descriptor, selects a credential, acquires the Token Lock and a
// Concurrency Limiter slot, drives the Upstream Client through
// create -> poll -> finalize, and emits Stream Formatter chunks along the
// way. Grounded on original_source/src/services/generation_handler.py.
package orchestrator

// Modality is the kind of media a model descriptor produces.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
)

// ModelDescriptor is one entry of the static model table (spec.md §6),
// the Go shape of generation_handler.py's MODEL_CONFIG dict. The yaml tags
// let it double as the row shape of the YAML-loaded model table in
// internal/config.
type ModelDescriptor struct {
	Name string   `yaml:"name"`
	Type Modality `yaml:"type"`

	// Image fields.
	Width  int `yaml:"width,omitempty"`
	Height int `yaml:"height,omitempty"`

	// Video fields.
	Orientation   string `yaml:"orientation,omitempty"` // "landscape" | "portrait"
	NFrames       int    `yaml:"n_frames,omitempty"`
	UpstreamModel string `yaml:"upstream_model,omitempty"` // "sy_8" (default) or "sy_ore" (Pro)
	Size          string `yaml:"size,omitempty"`           // "small" | "large"
	RequirePro    bool   `yaml:"require_pro,omitempty"`
}

// defaultModelTable is the built-in descriptor set, identical to
// MODEL_CONFIG. Deployments may override it via config's YAML-loaded model
// table (internal/config); Resolve always consults whatever table the
// Orchestrator was constructed with.
var defaultModelTable = map[string]ModelDescriptor{
	"gpt-image":           {Type: ModalityImage, Width: 360, Height: 360},
	"gpt-image-landscape": {Type: ModalityImage, Width: 540, Height: 360},
	"gpt-image-portrait":  {Type: ModalityImage, Width: 360, Height: 540},

	"sora2-landscape-10s": {Type: ModalityVideo, Orientation: "landscape", NFrames: 300, UpstreamModel: "sy_8", Size: "small"},
	"sora2-portrait-10s":  {Type: ModalityVideo, Orientation: "portrait", NFrames: 300, UpstreamModel: "sy_8", Size: "small"},
	"sora2-landscape-15s": {Type: ModalityVideo, Orientation: "landscape", NFrames: 450, UpstreamModel: "sy_8", Size: "small"},
	"sora2-portrait-15s":  {Type: ModalityVideo, Orientation: "portrait", NFrames: 450, UpstreamModel: "sy_8", Size: "small"},

	"sora2-landscape-25s": {Type: ModalityVideo, Orientation: "landscape", NFrames: 750, UpstreamModel: "sy_8", Size: "small", RequirePro: true},
	"sora2-portrait-25s":  {Type: ModalityVideo, Orientation: "portrait", NFrames: 750, UpstreamModel: "sy_8", Size: "small", RequirePro: true},

	"sora2pro-landscape-10s": {Type: ModalityVideo, Orientation: "landscape", NFrames: 300, UpstreamModel: "sy_ore", Size: "small", RequirePro: true},
	"sora2pro-portrait-10s":  {Type: ModalityVideo, Orientation: "portrait", NFrames: 300, UpstreamModel: "sy_ore", Size: "small", RequirePro: true},
	"sora2pro-landscape-15s": {Type: ModalityVideo, Orientation: "landscape", NFrames: 450, UpstreamModel: "sy_ore", Size: "small", RequirePro: true},
	"sora2pro-portrait-15s":  {Type: ModalityVideo, Orientation: "portrait", NFrames: 450, UpstreamModel: "sy_ore", Size: "small", RequirePro: true},
	"sora2pro-landscape-25s": {Type: ModalityVideo, Orientation: "landscape", NFrames: 750, UpstreamModel: "sy_ore", Size: "small", RequirePro: true},
	"sora2pro-portrait-25s":  {Type: ModalityVideo, Orientation: "portrait", NFrames: 750, UpstreamModel: "sy_ore", Size: "small", RequirePro: true},

	"sora2pro-hd-landscape-10s": {Type: ModalityVideo, Orientation: "landscape", NFrames: 300, UpstreamModel: "sy_ore", Size: "large", RequirePro: true},
	"sora2pro-hd-portrait-10s":  {Type: ModalityVideo, Orientation: "portrait", NFrames: 300, UpstreamModel: "sy_ore", Size: "large", RequirePro: true},
	"sora2pro-hd-landscape-15s": {Type: ModalityVideo, Orientation: "landscape", NFrames: 450, UpstreamModel: "sy_ore", Size: "large", RequirePro: true},
	"sora2pro-hd-portrait-15s":  {Type: ModalityVideo, Orientation: "portrait", NFrames: 450, UpstreamModel: "sy_ore", Size: "large", RequirePro: true},
}

// DefaultModelTable returns a copy of the built-in descriptor table, keyed
// by model name, with Name populated on each entry.
func DefaultModelTable() map[string]ModelDescriptor {
	out := make(map[string]ModelDescriptor, len(defaultModelTable))
	for name, d := range defaultModelTable {
		d.Name = name
		out[name] = d
	}
	return out
}
