package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ForbiddenReason represents machine-readable reason codes for 403 errors.
type ForbiddenReason string

const (
	// ReasonModelNotAllowed is returned when the requested model string has no
	// entry in the static model descriptor table.
	ReasonModelNotAllowed ForbiddenReason = "model_not_allowed"
	// ReasonProRequired is returned when the model requires a Pro subscription
	// tier and no eligible credential carries one.
	ReasonProRequired ForbiddenReason = "pro_required"
	// ReasonNoEligibleCredential is returned when the scheduler's predicate
	// filters leave no credential to select from.
	ReasonNoEligibleCredential ForbiddenReason = "no_eligible_credential"
)

// ForbiddenError represents a standardized 403 Forbidden response.
type ForbiddenError struct {
	Error   string                 `json:"error"`
	Reason  ForbiddenReason        `json:"reason"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewForbiddenError creates a new ForbiddenError with the given parameters.
func NewForbiddenError(reason ForbiddenReason, errorMsg string, details map[string]interface{}) *ForbiddenError {
	return &ForbiddenError{
		Error:   errorMsg,
		Reason:  reason,
		Details: details,
	}
}

// AbortWithForbidden sends a 403 response with the ForbiddenError and aborts the request.
func AbortWithForbidden(c *gin.Context, err *ForbiddenError) {
	c.AbortWithStatusJSON(http.StatusForbidden, err)
}

// ModelNotAllowed creates a ForbiddenError for an unknown model string.
func ModelNotAllowed(model string) *ForbiddenError {
	return NewForbiddenError(
		ReasonModelNotAllowed,
		"model '"+model+"' is not in the descriptor table",
		map[string]interface{}{"requested_model": model},
	)
}

// ProRequired creates a ForbiddenError for a model that requires a Pro-tier credential.
func ProRequired(model string) *ForbiddenError {
	return NewForbiddenError(
		ReasonProRequired,
		"model '"+model+"' requires a Pro subscription credential",
		map[string]interface{}{"requested_model": model},
	)
}

// NoEligibleCredential creates a ForbiddenError describing which modality had no
// eligible credential, matching spec.md §7's distinct image/video/Pro messages.
func NoEligibleCredential(modality string) *ForbiddenError {
	var msg string
	switch modality {
	case "image":
		msg = "no enabled, unlocked credential with a free image slot is available"
	case "video":
		msg = "no enabled credential with Sora2 support and a free video slot is available"
	case "pro":
		msg = "no enabled Pro-tier credential is available"
	default:
		msg = "no eligible credential is available"
	}
	return NewForbiddenError(
		ReasonNoEligibleCredential,
		msg,
		map[string]interface{}{"modality": modality},
	)
}
