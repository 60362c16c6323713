// Package domain holds the persistent record shapes the gateway reads and
// writes through the CredentialStore interface (internal/store). The schema
// that backs these rows is an external collaborator (spec.md §1); only the
// shapes below are the core's contract with it.
package domain

import "time"

// Credential is one upstream account: an access token plus the metadata the
// Scheduler, Token Lock, and Concurrency Limiter need to decide whether it
// is safe to use for a given request.
type Credential struct {
	ID int64

	AccessToken  string
	SessionToken string // optional, used by the external refresh flow
	RefreshToken string // optional, used by the external refresh flow
	ClientID     string // optional, used by the external refresh flow

	ProxyURL string // optional dedicated proxy for this credential
	Email    string // natural key for imports; exactly one active record per email

	Enabled     bool
	CooledUntil *time.Time // nil or in the past ⇒ not cooled
	Expired     bool

	SubscriptionTier   string // "" | "plus" | "chatgpt_pro"
	SubscriptionEndsAt *time.Time
	Sora2Supported     bool
	Sora2Remaining     int
	Sora2CooldownUntil *time.Time
	ExpiresAt          time.Time

	ImageEnabled     bool
	VideoEnabled     bool
	ImageConcurrency int // -1 ⇒ unbounded
	VideoConcurrency int // -1 ⇒ unbounded

	LastUsedAt *time.Time
	UseCount   int64
}

// IsPro reports whether the credential carries the Pro subscription tier
// required by some model descriptors.
func (c *Credential) IsPro() bool {
	return c.SubscriptionTier == "chatgpt_pro"
}

// IsCooled reports whether the credential's cooldown has not yet elapsed.
func (c *Credential) IsCooled(now time.Time) bool {
	return c.CooledUntil != nil && c.CooledUntil.After(now)
}

// IsSora2Cooled reports whether the credential's Sora2-specific quota
// cooldown has not yet elapsed. This is orthogonal to CooledUntil.
func (c *Credential) IsSora2Cooled(now time.Time) bool {
	return c.Sora2CooldownUntil != nil && c.Sora2CooldownUntil.After(now)
}

// CredentialStats holds the error/usage counters tracked per credential.
type CredentialStats struct {
	CredentialID int64

	LifetimeImageCount int64
	LifetimeVideoCount int64
	LifetimeErrorCount int64

	TodayDate       string // YYYY-MM-DD; counters roll when this differs from today
	TodayImageCount int64
	TodayVideoCount int64
	TodayErrorCount int64

	LastErrorAt       *time.Time
	ConsecutiveErrors int
}

// TaskStatus is the lifecycle state of one upstream generation.
type TaskStatus string

const (
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task represents one upstream generation request end to end.
type Task struct {
	ID           int64
	UpstreamID   string
	CredentialID int64
	Model        string
	Prompt       string
	Status       TaskStatus
	Progress     float64 // 0..1
	ResultURLs   []string
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// Sentinel values used by RequestLog while a request is still in progress.
const (
	StatusInProgress          = -1
	DurationSecondsInProgress = -1.0
)

// RequestLog is one row per user-visible operation, opened with sentinel
// values and updated exactly once on completion.
type RequestLog struct {
	ID             int64
	CredentialID   *int64
	TaskID         *string
	Operation      string
	RequestBody    string
	ResponseBody   string
	StatusCode     int
	DurationSecond float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AdminConfig is the id=1 singleton row controlling ban policy and the
// gateway's own API key. Admin CRUD of this row is an external collaborator;
// the core only reads it.
type AdminConfig struct {
	ErrorBanThreshold int
	AdminUsername     string
	AdminPasswordHash string
	APIKey            string
}

// ProxyConfig is the id=1 singleton row holding the global outbound proxy.
type ProxyConfig struct {
	GlobalProxyURL string
}

// WatermarkFreeMethod selects how the watermark-free URL is resolved.
type WatermarkFreeMethod string

const (
	WatermarkFreeThirdParty WatermarkFreeMethod = "third_party"
	WatermarkFreeCustom     WatermarkFreeMethod = "custom"
)

// WatermarkFreeConfig is the id=1 singleton row controlling the post-publish
// watermark-free resolution workflow.
type WatermarkFreeConfig struct {
	Enabled     bool
	Method      WatermarkFreeMethod
	CustomURL   string
	CustomToken string
}

// CacheConfig is the id=1 singleton row controlling the File Cache.
type CacheConfig struct {
	Enabled        bool
	TimeoutSeconds int // -1 disables eviction
	BaseURL        string
}

// GenerationConfig is the id=1 singleton row controlling poll timeouts.
type GenerationConfig struct {
	ImageTimeoutSeconds int
	VideoTimeoutSeconds int
}

// TokenRefreshConfig is the id=1 singleton row controlling auto-refresh.
type TokenRefreshConfig struct {
	AutoRefreshEnabled bool
}
