package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RateLimitError represents a standardized 429 Too Many Requests response.
// Used for the upstream cf_shield_429 shield event (spec.md §7 item 5):
// the credential's error counter is not debited and polling aborts
// immediately, but the caller still needs a response.
type RateLimitError struct {
	Error        string `json:"error"`
	CredentialID int64  `json:"credential_id,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
}

// AbortWithRateLimit sends a 429 response with the RateLimitError and aborts the request.
func AbortWithRateLimit(c *gin.Context, err *RateLimitError) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, err)
}

// CfShield429 creates a RateLimitError for the upstream's shield/rate-limit event.
func CfShield429(credentialID int64, taskID string) *RateLimitError {
	return &RateLimitError{
		Error:        "upstream rate-limit shield triggered for this credential",
		CredentialID: credentialID,
		TaskID:       taskID,
	}
}
