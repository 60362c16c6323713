package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"

	apierrors "github.com/sora-gateway/gateway/internal/errors"
)

// fatalMarker is the prefix emitFatal puts on every terminal failure
// message it emits into a content chunk (internal/orchestrator/orchestrator.go).
const fatalMarker = "❌ "

// writeNonStreamFailure maps an accumulated fatal message from the
// orchestrator's channel to the HTTP-facing error shape spec.md §7
// describes, for the non-streaming endpoints (images/generations) that
// otherwise would report an emitFatal message as a 200 with no data.
func writeNonStreamFailure(c *gin.Context, message string) {
	reason := strings.TrimPrefix(message, fatalMarker)
	if strings.Contains(reason, "cloudflare challenge or rate limit (429)") {
		apierrors.AbortWithRateLimit(c, apierrors.CfShield429(0, ""))
		return
	}
	apierrors.AbortWithInternal(c, reason, nil)
}
