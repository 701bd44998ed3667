package client

import (
	"context"
	"sync"

	"github.com/prefecthq/control-plane-client/servertype"
)

// SyncClient is the blocking mirror of Client described in spec section
// 4.F: it shares the same retry, CSRF, and header policy (by wrapping a
// Client instance) but serializes every call on a mutex so exactly one
// request is in flight at a time. Client itself does not serialize
// calls: concurrent Do calls on one Client run concurrently.
type SyncClient struct {
	mu    sync.Mutex
	inner *Client
}

// NewSync builds a SyncClient with the same construction contract as
// New.
func NewSync(baseURL, product, productVersion, apiVersion string, settings SettingsProvider, opts ...Option) (*SyncClient, error) {
	inner, err := New(baseURL, product, productVersion, apiVersion, settings, opts...)
	if err != nil {
		return nil, err
	}
	return &SyncClient{inner: inner}, nil
}

// ServerType returns the classification computed at construction time.
func (s *SyncClient) ServerType() servertype.Type {
	return s.inner.ServerType()
}

// CSRFClientID returns the stable per-client CSRF identifier.
func (s *SyncClient) CSRFClientID() string {
	return s.inner.CSRFClientID()
}

// Close tears down the underlying transport.
func (s *SyncClient) Close() error {
	return s.inner.Close()
}

// Get issues a blocking GET request.
func (s *SyncClient) Get(path string) (*Response, error) {
	return s.do(context.Background(), "GET", path, nil)
}

// Post issues a blocking POST request with body.
func (s *SyncClient) Post(path string, body any) (*Response, error) {
	return s.do(context.Background(), "POST", path, body)
}

// Put issues a blocking PUT request with body.
func (s *SyncClient) Put(path string, body any) (*Response, error) {
	return s.do(context.Background(), "PUT", path, body)
}

// Patch issues a blocking PATCH request with body.
func (s *SyncClient) Patch(path string, body any) (*Response, error) {
	return s.do(context.Background(), "PATCH", path, body)
}

// Delete issues a blocking DELETE request.
func (s *SyncClient) Delete(path string) (*Response, error) {
	return s.do(context.Background(), "DELETE", path, nil)
}

func (s *SyncClient) do(ctx context.Context, method, path string, body any) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Do(ctx, method, path, body)
}
