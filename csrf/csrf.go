// Package csrf implements the CSRF Manager from spec section 4.B: it
// maintains a per-client token with expiry, fetches it on demand for
// mutating requests, and detects server-side CSRF disablement.
package csrf

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prefecthq/control-plane-client/apierr"
	"github.com/prefecthq/control-plane-client/internal/logging"
)

// Mutating reports whether method is one of the HTTP methods that
// engage CSRF: POST, PUT, PATCH, DELETE.
func Mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Token is the immutable triple {client_id, token, expiration} from
// spec section 3, issued by the server in response to a token fetch.
type Token struct {
	ClientID   string
	Token      string
	Expiration time.Time
}

// Fresh reports whether the token's expiration is strictly in the
// future relative to now, per spec section 3: "fresh iff now_utc <
// expiration".
func (t *Token) Fresh(now time.Time) bool {
	return t != nil && now.UTC().Before(t.Expiration.UTC())
}

// FetchFunc issues GET {base}/csrf-token?client={clientID} and reports
// the decoded token on success, or the raw status/body so the Manager
// can recognize a 404/422-disabled response. A transport-level error
// (not a status code) is returned as err.
type FetchFunc func(ctx context.Context, clientID string) (status int, body []byte, token *Token, err error)

// Manager holds a single client's CSRF state: its stable client
// identifier, whether CSRF is currently enabled, and the current token.
// All mutation happens from within that client's request path; it is
// not meant to be shared across clients (spec section 5: "single-writer
// per client").
type Manager struct {
	mu       sync.Mutex
	clientID string
	enabled  bool
	token    *Token
	logger   logging.Logger
}

// NewManager creates a Manager with CSRF enabled and a freshly
// generated opaque client identifier, per spec section 3.
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		clientID: uuid.NewString(),
		enabled:  true,
		logger:   logger,
	}
}

// ClientID returns the stable per-manager CSRF client identifier.
func (m *Manager) ClientID() string {
	return m.clientID
}

// Enabled reports whether CSRF is currently engaged for this client. It
// becomes permanently false after the server signals CSRF is
// unavailable (404 or 422-disabled on the token endpoint).
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Invalidate discards the current token, forcing the next EnsureFresh
// call to refetch. Used on the 403 invalid-token recovery path (spec
// section 4.B).
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
}

// EnsureFresh fetches a new token via fetch if CSRF is enabled and the
// current token is unset or expired. It implements the fetch protocol
// from spec section 4.B: 200 stores the token, 404 or
// 422-with-disabled-detail permanently disables CSRF for this client,
// and any other non-2xx status raises a *apierr.StatusError.
func (m *Manager) EnsureFresh(ctx context.Context, now time.Time, method, url string, fetch FetchFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return nil
	}
	if m.token.Fresh(now) {
		return nil
	}

	status, body, token, err := fetch(ctx, m.clientID)
	if err != nil {
		return err
	}

	switch {
	case status >= 200 && status < 300:
		m.token = token
		return nil
	case status == http.StatusNotFound:
		m.enabled = false
		return nil
	case apierr.IsCSRFDisabled(status, body):
		m.enabled = false
		return nil
	default:
		return &apierr.StatusError{
			Method:     method,
			URL:        url,
			StatusCode: status,
			Status:     fmt.Sprintf("%d", status),
			Body:       body,
		}
	}
}

// Headers returns the Prefect-Csrf-Token / Prefect-Csrf-Client pair to
// attach to a mutating request, or ok=false if CSRF is disabled or no
// token has been fetched yet.
func (m *Manager) Headers() (tok string, clientID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled || m.token == nil {
		return "", "", false
	}
	return m.token.Token, m.clientID, true
}
