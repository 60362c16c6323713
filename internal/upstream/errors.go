package upstream

import (
	"fmt"
	"strings"
)

// Kind tags the upstream failure variants the Generation Orchestrator has to
// branch on (spec.md design note 9): a re-architecture of the original
// client's string-matched Exception payloads into typed Go errors.
type Kind int

const (
	// KindGeneric covers any upstream failure that doesn't fall into one
	// of the more specific kinds below.
	KindGeneric Kind = iota
	// KindUnsupportedCountry mirrors the unsupported_country_code error
	// code sora_client.py special-cases out of the generic error path.
	KindUnsupportedCountry
	// KindCfShield429 is a Cloudflare-shield rate-limit response.
	KindCfShield429
	// KindUpstreamAuthExpired is a 401 indicating the credential's token
	// has expired and should be marked expired/disabled.
	KindUpstreamAuthExpired
	// KindOverload is a transient capacity error that should not count
	// against a credential's consecutive-error ban counter.
	KindOverload
	// KindContentViolation is a moderation rejection of the prompt or
	// generated content.
	KindContentViolation
)

// Error is a typed upstream failure carrying the HTTP status and raw body
// alongside its Kind, so callers can branch on Kind without re-parsing text.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

func newError(kind Kind, statusCode int, message, body string) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Message: message, Body: body}
}

// classify maps a status code plus parsed error body into a Kind, the Go
// equivalent of generation_handler.py's exception handler: it checks
// error_info.get("code") == "cf_shield_429" for the structured shield
// signal and substring-matches "heavy_load"/"under heavy load" in the
// combined error text for overload, rather than guessing from HTML
// challenge-page markers or a status code the upstream never sends.
func classify(statusCode int, errCode, errMessage, body string) *Error {
	switch {
	case errCode == "unsupported_country_code":
		return newError(KindUnsupportedCountry, statusCode, "unsupported country", body)
	case errCode == "cf_shield_429":
		return newError(KindCfShield429, statusCode, "cloudflare shield rate limit", body)
	case statusCode == 401:
		return newError(KindUpstreamAuthExpired, statusCode, "upstream auth expired", body)
	case looksLikeOverload(errCode, errMessage, body):
		return newError(KindOverload, statusCode, "upstream overloaded", body)
	case errCode == "content_policy_violation" || errCode == "moderation_blocked":
		return newError(KindContentViolation, statusCode, errMessage, body)
	default:
		msg := errMessage
		if msg == "" {
			msg = fmt.Sprintf("request failed with status %d", statusCode)
		}
		return newError(KindGeneric, statusCode, msg, body)
	}
}

// looksLikeOverload mirrors generation_handler.py's is_overload check:
// "heavy_load" in error_str or "under heavy load" in error_str, where
// error_str is the lowercased combined error text.
func looksLikeOverload(errCode, errMessage, body string) bool {
	combined := strings.ToLower(errCode + " " + errMessage + " " + body)
	return strings.Contains(combined, "heavy_load") || strings.Contains(combined, "under heavy load")
}
