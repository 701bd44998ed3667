// Package client implements the Request Hook Pipeline (spec section
// 4.D) and its Sync Twin (4.F): the single outbound path that composes
// the header composer, the CSRF manager, and the retry policy engine
// around a resty-backed transport. It generalizes the teacher SDK's
// ExecuteRequest/RefreshCSRFToken pair from a single retry-once SAP
// CSRF dance into the full retry/CSRF/header state machine spec.md
// describes.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prefecthq/control-plane-client/apierr"
	"github.com/prefecthq/control-plane-client/config"
	"github.com/prefecthq/control-plane-client/csrf"
	"github.com/prefecthq/control-plane-client/headers"
	"github.com/prefecthq/control-plane-client/internal/logging"
	"github.com/prefecthq/control-plane-client/retry"
	"github.com/prefecthq/control-plane-client/servertype"
)

// SettingsProvider returns the current configuration snapshot. It is
// invoked once per request (spec section 4.D point 1) rather than once
// at construction, so retry caps and jitter changes made after the
// client was built still take effect; the Policy built from each
// snapshot is then held fixed for the lifetime of that single request.
type SettingsProvider func() (*config.Settings, error)

// Client is the asynchronous-capable entry point: every method accepts
// a context.Context, so the inter-retry sleep and the transport send
// can both be interrupted by caller cancellation, per spec section 5.
type Client struct {
	resty         *resty.Client
	baseURL       string
	csrf          *csrf.Manager
	logger        logging.Logger
	settings      SettingsProvider
	serverType    servertype.Type
	retryBaseUnit time.Duration
}

// Option customizes Client construction.
type Option func(*Client)

// WithLogger overrides the default stderr logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient swaps the underlying *http.Client resty uses, e.g. to
// inject a custom transport in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.resty = resty.NewWithClient(hc) }
}

// WithRetryBaseUnit scales the exponential backoff base (spec section
// 4.A normally uses one second); tests exercising many retries can
// shrink it so the suite doesn't spend real wall-clock time sleeping.
func WithRetryBaseUnit(d time.Duration) Option {
	return func(c *Client) { c.retryBaseUnit = d }
}

// New builds a Client for product/productVersion talking to apiVersion,
// loading its initial header set and server-type classification from
// settings(). baseURL is the control plane's root; all request paths
// are resolved relative to it.
func New(baseURL string, product, productVersion, apiVersion string, settings SettingsProvider, opts ...Option) (*Client, error) {
	if settings == nil {
		return nil, fmt.Errorf("client: settings provider is required")
	}

	c := &Client{
		baseURL:  baseURL,
		logger:   logging.Default(),
		settings: settings,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resty == nil {
		c.resty = resty.New()
	}
	c.resty.SetBaseURL(baseURL)
	c.csrf = csrf.NewManager(c.logger)

	snapshot, err := settings()
	if err != nil {
		return nil, fmt.Errorf("client: loading settings: %w", err)
	}
	custom, err := snapshot.CustomHeaders()
	if err != nil {
		return nil, fmt.Errorf("client: parsing custom headers: %w", err)
	}
	composed := headers.Compose(product, productVersion, apiVersion, custom, c.logger)
	applyDefaultHeaders(c.resty, composed)

	c.serverType = servertype.Determine(snapshot.APIURL, snapshot.CloudAPIURL, snapshot.AllowEphemeralMode)

	return c, nil
}

// applyDefaultHeaders installs the composed header set as defaults on
// every outgoing request. Standard headers go through SetHeader;
// surviving custom headers are written directly into the Header map to
// preserve the caller's exact casing -- Go's http.Header.Set would
// otherwise canonicalize "X-CamelCase" style names.
func applyDefaultHeaders(r *resty.Client, composed map[string]string) {
	standard := map[string]struct{}{
		"Accept":                {},
		"Accept-Encoding":       {},
		"Connection":            {},
		headers.UserAgentHeader: {},
	}
	for name, value := range composed {
		if _, ok := standard[name]; ok {
			r.SetHeader(name, value)
			continue
		}
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header[name] = []string{value}
	}
}

// ServerType returns the classification computed at construction time
// from the settings snapshot, per spec section 4.E.
func (c *Client) ServerType() servertype.Type {
	return c.serverType
}

// CSRFClientID returns the stable per-client CSRF identifier.
func (c *Client) CSRFClientID() string {
	return c.csrf.ClientID()
}

// Close tears down the underlying transport's connection pool. It is
// safe to call multiple times and should be invoked on every exit path
// (spec section 5: "scoped acquisition guarantees release on all exit
// paths").
func (c *Client) Close() error {
	if t, ok := c.resty.GetClient().Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST request with body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put issues a PUT request with body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Patch issues a PATCH request with body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// Do is the Request Hook Pipeline: it resolves a per-request config
// snapshot, ensures a fresh CSRF token on mutating requests, and runs
// the retry loop from spec section 4.A around the transport send,
// recovering once from an invalid-CSRF-token response per section 4.B.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	snapshot, err := c.settings()
	if err != nil {
		return nil, fmt.Errorf("client: loading settings: %w", err)
	}
	extraCodes, err := snapshot.RetryExtraCodeSet()
	if err != nil {
		return nil, fmt.Errorf("client: parsing retry extra codes: %w", err)
	}
	policy := retry.NewPolicy(snapshot.MaxRetries, extraCodes, snapshot.RetryJitterFactor, c.logger)
	policy.BaseUnit = c.retryBaseUnit
	attempt := retry.NewAttempt(policy)

	mutating := csrf.Mutating(method)
	csrfRefreshed := false

	for {
		if mutating && c.csrf.Enabled() {
			if err := c.csrf.EnsureFresh(ctx, time.Now().UTC(), http.MethodGet, c.baseURL+"/csrf-token", c.fetchCSRFToken); err != nil {
				return nil, err
			}
		}

		resp, sendErr := c.send(ctx, method, path, body, mutating)
		if sendErr != nil {
			if !retry.IsRetryableError(sendErr) {
				return nil, sendErr
			}
			if !attempt.CanRetry(false) {
				return nil, sendErr
			}
			delay := policy.Delay(attempt.Number(), nil)
			c.logger.Infof(
				"Encountered retryable exception during request: %v. Another attempt will be made in %gs. This is attempt %d/%d.",
				sendErr, delay.Seconds(), attempt.Number(), attempt.Cap(),
			)
			if waitErr := sleepCtx(ctx, delay); waitErr != nil {
				return nil, waitErr
			}
			attempt.Charge(false)
			continue
		}

		if resp.IsSuccess() {
			return &Response{resp}, nil
		}

		status := resp.StatusCode()
		respBody := resp.Body()

		if mutating && !csrfRefreshed && apierr.IsCSRFInvalid(status, respBody) {
			csrfRefreshed = true
			c.csrf.Invalidate()
			if err := c.csrf.EnsureFresh(ctx, time.Now().UTC(), http.MethodGet, c.baseURL+"/csrf-token", c.fetchCSRFToken); err != nil {
				return nil, err
			}
			continue
		}

		maintenance := retry.IsMaintenance(resp.Header())
		retryable := maintenance || policy.IsRetryableStatus(status)
		if !retryable {
			return nil, newStatusError(method, path, resp)
		}
		if !attempt.CanRetry(maintenance) {
			return nil, newStatusError(method, path, resp)
		}

		var base *time.Duration
		if d, ok := retry.RetryAfter(resp.Header()); ok {
			base = &d
		}
		delay := policy.Delay(attempt.Number(), base)
		c.logger.Infof(
			"Received response with retryable status code %d. Another attempt will be made in %gs. This is attempt %d/%d.",
			status, delay.Seconds(), attempt.Number(), attempt.Cap(),
		)
		if waitErr := sleepCtx(ctx, delay); waitErr != nil {
			return nil, waitErr
		}
		attempt.Charge(maintenance)
	}
}

// send builds and executes a single transport-level request, attaching
// CSRF headers when a fresh token is available for a mutating request.
func (c *Client) send(ctx context.Context, method, path string, body any, mutating bool) (*resty.Response, error) {
	req := c.resty.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if mutating {
		if token, clientID, ok := c.csrf.Headers(); ok {
			if req.Header == nil {
				req.Header = http.Header{}
			}
			req.Header[headers.CSRFTokenHeader] = []string{token}
			req.Header[headers.CSRFClientHeader] = []string{clientID}
		}
	}
	return req.Execute(method, path)
}

// fetchCSRFToken implements csrf.FetchFunc against this client's
// transport: GET {base}/csrf-token?client={clientID}.
func (c *Client) fetchCSRFToken(ctx context.Context, clientID string) (int, []byte, *csrf.Token, error) {
	resp, err := c.resty.R().
		SetContext(ctx).
		SetQueryParam("client", clientID).
		Get("/csrf-token")
	if err != nil {
		return 0, nil, nil, err
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		return resp.StatusCode(), body, nil, nil
	}

	var payload struct {
		Client     string    `json:"client"`
		Token      string    `json:"token"`
		Expiration time.Time `json:"expiration"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return resp.StatusCode(), body, nil, fmt.Errorf("client: decoding csrf token response: %w", err)
	}
	return resp.StatusCode(), body, &csrf.Token{
		ClientID:   payload.Client,
		Token:      payload.Token,
		Expiration: payload.Expiration,
	}, nil
}

func newStatusError(method, path string, resp *resty.Response) error {
	return &apierr.StatusError{
		Method:     method,
		URL:        path,
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       resp.Body(),
	}
}

// sleepCtx blocks for d or until ctx is cancelled, whichever comes
// first, so the inter-retry sleep is an interruptible suspension point
// per spec section 5.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
