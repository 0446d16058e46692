// Package transport implements the run-lifecycle layer: the synchronous
// and streaming run transports, the shared error taxonomy mapper, the
// retry engine and the per-backend circuit breaker.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/olumi/olumi-go/pkg/schema"
)

// MapHTTPFailure converts a non-success HTTP response into exactly one
// CanonicalError. Shared byte-for-byte between the sync and streaming
// transports so callers see identical error shapes regardless of path.
//
// Priority order: 429, 400+oversize-reason, plain 400, 413 or
// body-embedded LIMIT_EXCEEDED, 504, everything else.
func MapHTTPFailure(status int, header http.Header, body []byte) *schema.CanonicalError {
	var eb schema.ErrorBody
	_ = json.Unmarshal(body, &eb) // absence of fields falls back to generics

	details := map[string]any{
		"status": status,
		"body":   string(body),
	}

	var cerr *schema.CanonicalError
	switch {
	case status == http.StatusTooManyRequests:
		cerr = schema.NewErrorf(schema.ErrCodeRateLimited, "rate limited: %s", bodyReason(eb, "too many requests")).
			WithRetryAfter(retryAfterSeconds(header, eb))

	case status == http.StatusBadRequest && indicatesOversize(eb):
		cerr = schema.NewErrorf(schema.ErrCodeLimitExceeded, "%s", bodyReason(eb, "graph exceeds engine limits"))
		if eb.Limits != nil {
			details["limits"] = eb.Limits
		}

	case status == http.StatusBadRequest:
		cerr = schema.NewErrorf(schema.ErrCodeBadInput, "%s", bodyReason(eb, "request rejected by engine"))

	case status == http.StatusRequestEntityTooLarge || eb.Code == schema.ErrCodeLimitExceeded:
		cerr = schema.NewErrorf(schema.ErrCodeLimitExceeded, "%s", bodyReason(eb, "payload too large"))
		if eb.Limits != nil {
			details["limits"] = eb.Limits
		}

	case status == http.StatusGatewayTimeout:
		cerr = schema.NewErrorf(schema.ErrCodeGatewayTimeout, "%s", bodyReason(eb, "gateway timed out"))

	default:
		cerr = schema.NewErrorf(schema.ErrCodeServerError, "engine returned %d: %s", status, bodyReason(eb, "unexpected server error"))
	}

	if eb.Fields != nil {
		cerr = cerr.WithField(eb.Fields.Field).WithMax(eb.Fields.Max)
	}
	return cerr.WithDetails(details)
}

// MapTransportError converts a raw round-trip failure into a
// CanonicalError. A deadline hit maps to TIMEOUT; an external cancel to
// CANCELLED, never NETWORK_ERROR — a cancelled caller is not a network
// failure.
func MapTransportError(err error) *schema.CanonicalError {
	var cerr *schema.CanonicalError
	if errors.As(err, &cerr) {
		return cerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "request deadline exceeded").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return schema.NewError(schema.ErrCodeCancelled, "request cancelled").WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeNetworkError, "request failed: %v", err).WithCause(err)
}

// AsCanonical coerces any error into the canonical shape.
func AsCanonical(err error) *schema.CanonicalError {
	return MapTransportError(err)
}

// indicatesOversize reports whether a 400 body is really an oversized
// graph in disguise (older backends used 400 where newer ones use 413).
func indicatesOversize(eb schema.ErrorBody) bool {
	if eb.Code == schema.ErrCodeLimitExceeded {
		return true
	}
	reason := strings.ToLower(eb.Reason + " " + eb.Error)
	for _, p := range []string{"too large", "too many nodes", "too many edges", "exceeds limit", "limit exceeded"} {
		if strings.Contains(reason, p) {
			return true
		}
	}
	return false
}

// retryAfterSeconds reads the retry delay from the Retry-After header
// first, then from the body. Zero means the server gave no hint.
func retryAfterSeconds(header http.Header, eb schema.ErrorBody) int {
	if header != nil {
		if v := header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				return n
			}
		}
	}
	if eb.RetryAfter > 0 {
		return int(eb.RetryAfter)
	}
	return 0
}

// bodyReason picks the most specific human-readable reason from a body.
func bodyReason(eb schema.ErrorBody, fallback string) string {
	if eb.Reason != "" {
		return eb.Reason
	}
	if eb.Error != "" {
		return eb.Error
	}
	return fallback
}
