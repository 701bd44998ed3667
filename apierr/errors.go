// Package apierr holds the one typed error the client raises for
// non-2xx responses, shared by the retry, csrf, and client packages so
// none of them need to import each other just to construct it.
package apierr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StatusError is raised for a fatal (non-retryable, non-2xx) response,
// or for the last response in a chain that exhausted its retries. It
// enriches the message with the response body's "detail" field and any
// "extra_info[*].message" entries, per spec section 4.D point 5.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Status)
	if detail := extractDetail(e.Body); detail != "" {
		msg += "\nResponse: " + detail
	}
	return msg
}

// extractDetail concatenates the "detail" field and "extra_info[*].message"
// values out of a JSON error body. Bodies that aren't JSON, or that carry
// neither field, yield an empty string.
func extractDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Detail    string `json:"detail"`
		ExtraInfo []struct {
			Message string `json:"message"`
		} `json:"extra_info"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	parts := make([]string, 0, 1+len(payload.ExtraInfo))
	if payload.Detail != "" {
		parts = append(parts, payload.Detail)
	}
	for _, ei := range payload.ExtraInfo {
		if ei.Message != "" {
			parts = append(parts, ei.Message)
		}
	}
	return strings.Join(parts, "; ")
}

// IsCSRFInvalid reports whether a 403 response body carries the
// server's "Invalid CSRF token or client identifier." detail, per spec
// section 4.B.
func IsCSRFInvalid(statusCode int, body []byte) bool {
	return statusCode == 403 && bodyDetailEquals(body, "Invalid CSRF token or client identifier.")
}

// IsCSRFDisabled reports whether a 422 response body carries the
// server's "CSRF protection is disabled." detail, per spec section 4.B.
func IsCSRFDisabled(statusCode int, body []byte) bool {
	return statusCode == 422 && bodyDetailEquals(body, "CSRF protection is disabled.")
}

func bodyDetailEquals(body []byte, want string) bool {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return payload.Detail == want
}
