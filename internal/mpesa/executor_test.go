package mpesa

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// staticTokens hands out canned tokens and counts invalidations.
type staticTokens struct {
	tokens        []string
	calls         int32
	invalidations int32
}

func (s *staticTokens) Token(ctx context.Context) (string, error) {
	n := atomic.AddInt32(&s.calls, 1)
	idx := int(n) - 1
	if idx >= len(s.tokens) {
		idx = len(s.tokens) - 1
	}
	return s.tokens[idx], nil
}

func (s *staticTokens) Invalidate() { atomic.AddInt32(&s.invalidations, 1) }

func newTestExecutor(baseURL string, tokens TokenSource, client *http.Client) (*Executor, *[]time.Duration) {
	e := NewExecutor(baseURL, tokens, client)
	delays := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return e, delays
}

func TestSendRetriesOnceAfterAuthRejection(t *testing.T) {
	var hits int32
	var bearers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearers = append(bearers, r.Header.Get("Authorization"))
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Error(w, `{"errorMessage":"Invalid Access Token"}`, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ResponseCode":"0","CheckoutRequestID":"ws_CO_1"}`))
	}))
	defer srv.Close()

	tokens := &staticTokens{tokens: []string{"stale", "fresh"}}
	e, delays := newTestExecutor(srv.URL, tokens, srv.Client())

	raw, err := e.Send(context.Background(), "/mpesa/stkpush/v1/processrequest", map[string]string{"a": "b"})
	require.NoError(t, err)
	require.Contains(t, string(raw), "ws_CO_1")

	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
	require.Equal(t, int32(1), atomic.LoadInt32(&tokens.invalidations))
	require.Empty(t, *delays, "auth retry must not consume a backoff delay")
	require.Equal(t, []string{"Bearer stale", "Bearer fresh"}, bearers)
}

func TestSendExhaustsAttemptsOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "upstream busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tokens := &staticTokens{tokens: []string{"tok"}}
	e, delays := newTestExecutor(srv.URL, tokens, srv.Client())

	_, err := e.Send(context.Background(), "/x", nil)
	require.Error(t, err)
	var transient *TransientNetworkError
	require.ErrorAs(t, err, &transient)
	require.Equal(t, http.StatusServiceUnavailable, transient.StatusCode)

	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
	// backoff only between attempts, never after the final one
	require.Len(t, *delays, 2)
	for i := 1; i < len(*delays); i++ {
		require.GreaterOrEqual(t, (*delays)[i], (*delays)[i-1])
	}
}

func TestSendTransportFailureClassifiedTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	tokens := &staticTokens{tokens: []string{"tok"}}
	e, delays := newTestExecutor(srv.URL, tokens, &http.Client{Timeout: time.Second})

	_, err := e.Send(context.Background(), "/x", nil)
	require.Error(t, err)
	var transient *TransientNetworkError
	require.ErrorAs(t, err, &transient)
	require.Len(t, *delays, 2)
}

func TestSendBusinessRejectionIsTerminal(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"ResponseCode":"1","ResponseDescription":"insufficient funds"}`))
	}))
	defer srv.Close()

	tokens := &staticTokens{tokens: []string{"tok"}}
	e, delays := newTestExecutor(srv.URL, tokens, srv.Client())

	_, err := e.Send(context.Background(), "/x", nil)
	require.Error(t, err)
	var business *GatewayBusinessError
	require.ErrorAs(t, err, &business)
	require.Equal(t, "1", business.Code)
	require.Equal(t, "insufficient funds", business.Description)

	require.Equal(t, int32(1), atomic.LoadInt32(&hits), "business rejections are definitive, no retry")
	require.Empty(t, *delays)
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	e := NewExecutor("http://example.com", &staticTokens{tokens: []string{"tok"}}, nil)
	e.baseDelay = 4 * time.Second
	e.maxDelay = 10 * time.Second

	require.Equal(t, 4*time.Second, e.backoff(1))
	require.Equal(t, 8*time.Second, e.backoff(2))
	require.Equal(t, 10*time.Second, e.backoff(3))
}
