package apierr_test

import (
	"testing"

	"github.com/prefecthq/control-plane-client/apierr"
	"github.com/stretchr/testify/assert"
)

func TestStatusError_EnrichesWithDetail(t *testing.T) {
	err := &apierr.StatusError{
		Method:     "POST",
		URL:        "/flows",
		StatusCode: 400,
		Status:     "400 Bad Request",
		Body:       []byte(`{"detail": "You done bad things"}`),
	}
	assert.Contains(t, err.Error(), "You done bad things")
}

func TestStatusError_EnrichesWithExtraInfo(t *testing.T) {
	err := &apierr.StatusError{
		StatusCode: 400,
		Status:     "400 Bad Request",
		Body:       []byte(`{"extra_info": [{"message": "a test error message"}]}`),
	}
	assert.Contains(t, err.Error(), "a test error message")
}

func TestStatusError_NoBody(t *testing.T) {
	err := &apierr.StatusError{StatusCode: 500, Status: "500 Internal Server Error"}
	assert.Contains(t, err.Error(), "500")
	assert.NotContains(t, err.Error(), "Response:")
}

func TestIsCSRFInvalid(t *testing.T) {
	assert.True(t, apierr.IsCSRFInvalid(403, []byte(`{"detail": "Invalid CSRF token or client identifier."}`)))
	assert.False(t, apierr.IsCSRFInvalid(403, []byte(`{"detail": "something else"}`)))
	assert.False(t, apierr.IsCSRFInvalid(400, []byte(`{"detail": "Invalid CSRF token or client identifier."}`)))
}

func TestIsCSRFDisabled(t *testing.T) {
	assert.True(t, apierr.IsCSRFDisabled(422, []byte(`{"detail": "CSRF protection is disabled."}`)))
	assert.False(t, apierr.IsCSRFDisabled(422, []byte(`{"detail": "something else"}`)))
	assert.False(t, apierr.IsCSRFDisabled(400, []byte(`{"detail": "CSRF protection is disabled."}`)))
}
