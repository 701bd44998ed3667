package client_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prefecthq/control-plane-client/apierr"
	"github.com/prefecthq/control-plane-client/client"
	"github.com/prefecthq/control-plane-client/config"
	"github.com/prefecthq/control-plane-client/servertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedResponse struct {
	status  int
	headers map[string]string
	body    []byte
}

type recordedRequest struct {
	method string
	url    string
	header http.Header
}

// scriptedServer serves responses in order regardless of which path is
// requested, mirroring how the original test suite mocks a single
// AsyncClient.send across both the CSRF fetch and the real request.
func scriptedServer(responses []scriptedResponse) (*httptest.Server, func() []recordedRequest) {
	var mu sync.Mutex
	var requests []recordedRequest
	idx := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, recordedRequest{method: r.Method, url: r.URL.String(), header: r.Header.Clone()})

		if idx >= len(responses) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := responses[idx]
		idx++
		for k, v := range resp.headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.status)
		if resp.body != nil {
			_, _ = w.Write(resp.body)
		}
	}))

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedRequest, len(requests))
		copy(out, requests)
		return out
	}
}

func settingsProvider(s *config.Settings) client.SettingsProvider {
	return func() (*config.Settings, error) { return s, nil }
}

func newTestClient(t *testing.T, baseURL string, s *config.Settings, opts ...client.Option) *client.Client {
	t.Helper()
	allOpts := append([]client.Option{client.WithRetryBaseUnit(time.Millisecond)}, opts...)
	c, err := client.New(baseURL, "test-client", "0.0.1", "0.1", settingsProvider(s), allOpts...)
	require.NoError(t, err)
	return c
}

func TestDo_ExponentialBackoffNoRetryAfterHeader(t *testing.T) {
	srv, requests := scriptedServer([]scriptedResponse{
		{status: 429},
		{status: 429},
		{status: 429},
		{status: 200},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{MaxRetries: 5})
	resp, err := c.Get(context.Background(), "/fake/route")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Len(t, requests(), 4)
}

func TestDo_RetryAfterHonoredPerResponse(t *testing.T) {
	srv, requests := scriptedServer([]scriptedResponse{
		{status: 429, headers: map[string]string{"Retry-After": "0.01"}},
		{status: 429, headers: map[string]string{"Retry-After": "0"}},
		{status: 429, headers: map[string]string{"Retry-After": "0.02"}},
		{status: 429, headers: map[string]string{"Retry-After": "0.005"}},
		{status: 200},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{MaxRetries: 5, RetryJitterFactor: 0})
	resp, err := c.Get(context.Background(), "/fake/route")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Len(t, requests(), 5)
}

func TestDo_ExtraCodesRetried(t *testing.T) {
	srv, requests := scriptedServer([]scriptedResponse{
		{status: 409}, {status: 409}, {status: 409}, {status: 200},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{MaxRetries: 5, RetryExtraCodes: "508,409"})
	resp, err := c.Get(context.Background(), "/fake/route")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Len(t, requests(), 4)
}

func TestDo_NonExtraCodeRaisesImmediately(t *testing.T) {
	srv, requests := scriptedServer([]scriptedResponse{
		{status: 508}, {status: 508}, {status: 508}, {status: 200},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{MaxRetries: 5, RetryExtraCodes: "409"})
	_, err := c.Get(context.Background(), "/fake/route")
	require.Error(t, err)
	var statusErr *apierr.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 508, statusErr.StatusCode)
	assert.Len(t, requests(), 1)
}

func TestDo_MaintenanceBypassesCap(t *testing.T) {
	maxRetries := 3
	responses := make([]scriptedResponse, 0, 2*maxRetries+1)
	for i := 0; i < 2*maxRetries; i++ {
		responses = append(responses, scriptedResponse{
			status:  503,
			headers: map[string]string{"Prefect-Maintenance": "true"},
		})
	}
	responses = append(responses, scriptedResponse{status: 200})

	srv, requests := scriptedServer(responses)
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{MaxRetries: maxRetries})
	resp, err := c.Get(context.Background(), "/fake/route")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Len(t, requests(), 2*maxRetries+1)
}

func TestDo_ExhaustsRetriesThenRaisesFinalStatus(t *testing.T) {
	responses := make([]scriptedResponse, 10)
	for i := range responses {
		responses[i] = scriptedResponse{status: 429, headers: map[string]string{"Retry-After": "0"}}
	}
	srv, requests := scriptedServer(responses)
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{MaxRetries: 5})
	_, err := c.Get(context.Background(), "/fake/route")
	require.Error(t, err)
	var statusErr *apierr.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 429, statusErr.StatusCode)
	assert.Len(t, requests(), 6) // 5 retries + 1 initial attempt
}

func TestDo_NonRetryableStatusRaisesImmediatelyWithEnrichedDetail(t *testing.T) {
	srv, requests := scriptedServer([]scriptedResponse{
		{status: 400, body: []byte(`{"extra_info": [{"message": "a test error message"}]}`)},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{MaxRetries: 5})
	_, err := c.Get(context.Background(), "/fake/route")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a test error message")
	assert.Len(t, requests(), 1)
}

func TestDo_CSRFHappyPathOnPost(t *testing.T) {
	expiration := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	srv, requests := scriptedServer([]scriptedResponse{
		{status: 200, body: []byte(fmt.Sprintf(`{"client": "c", "token": "test_token", "expiration": %q}`, expiration))},
		{status: 200},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{MaxRetries: 5})
	resp, err := c.Post(context.Background(), "/fake/route", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())

	reqs := requests()
	require.Len(t, reqs, 2)

	assert.Equal(t, http.MethodGet, reqs[0].method)
	assert.Contains(t, reqs[0].url, "/csrf-token")
	assert.Contains(t, reqs[0].url, "client="+c.CSRFClientID())

	assert.Equal(t, http.MethodPost, reqs[1].method)
	assert.Equal(t, "test_token", reqs[1].header.Get("Prefect-Csrf-Token"))
	assert.Equal(t, c.CSRFClientID(), reqs[1].header.Get("Prefect-Csrf-Client"))
}

func TestDo_CSRFDisabledBy404(t *testing.T) {
	srv, requests := scriptedServer([]scriptedResponse{
		{status: 404},
		{status: 200},
		{status: 200},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{MaxRetries: 5})

	resp, err := c.Post(context.Background(), "/fake/route", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[1].header.Get("Prefect-Csrf-Token"))

	// A second mutating call makes no further CSRF fetch.
	_, err = c.Post(context.Background(), "/fake/route", nil)
	require.NoError(t, err)
	assert.Len(t, requests(), 3)
}

func TestDo_ProtectedHeadersNotOverridden(t *testing.T) {
	srv, requests := scriptedServer([]scriptedResponse{{status: 200}})
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{
		MaxRetries:       5,
		CustomHeadersRaw: map[string]any{"User-Agent": "evil", "X-Safe": "ok"},
	})

	_, err := c.Get(context.Background(), "/fake/route")
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	ua := reqs[0].header.Get("User-Agent")
	assert.Contains(t, ua, "test-client/")
	assert.NotContains(t, ua, "evil")
	assert.Equal(t, "ok", reqs[0].header.Get("X-Safe"))
}

func TestServerType(t *testing.T) {
	srv, _ := scriptedServer(nil)
	defer srv.Close()

	c := newTestClient(t, srv.URL, &config.Settings{APIURL: srv.URL})
	assert.Equal(t, servertype.Server, c.ServerType())
}

func TestSyncClient_SharesSamePolicies(t *testing.T) {
	srv, requests := scriptedServer([]scriptedResponse{
		{status: 429}, {status: 200},
	})
	defer srv.Close()

	c, err := client.NewSync(srv.URL, "test-client", "0.0.1", "0.1", settingsProvider(&config.Settings{MaxRetries: 5}), client.WithRetryBaseUnit(time.Millisecond))
	require.NoError(t, err)

	resp, err := c.Get("/fake/route")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Len(t, requests(), 2)
}
