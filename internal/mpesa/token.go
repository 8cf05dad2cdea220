package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pesaflow/mpesa-backend/internal/config"
	"github.com/pesaflow/mpesa-backend/internal/metrics"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"

	// defaultRefreshSkew keeps us from signing requests with a token that
	// expires mid-flight.
	defaultRefreshSkew = time.Minute
)

// TokenSource yields a usable bearer token and allows the executor to
// force a refresh after an auth rejection.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// TokenManager caches the gateway bearer token and collapses concurrent
// refreshes into a single in-flight credential exchange.
type TokenManager struct {
	httpClient *http.Client
	cfg        config.Mpesa
	skew       time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	sf singleflight.Group
}

func NewTokenManager(cfg config.Mpesa, httpClient *http.Client) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenManager{
		httpClient: httpClient,
		cfg:        cfg,
		skew:       defaultRefreshSkew,
	}
}

// Token returns the cached token while it is still inside its validity
// window, otherwise performs exactly one credential exchange shared by all
// concurrent callers.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.token != "" && time.Now().Before(m.expiresAt) {
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do("token", func() (any, error) {
		// A refresh that finished while we queued behind the flight leader
		// is still fresh; don't fetch again.
		m.mu.Lock()
		if m.token != "" && time.Now().Before(m.expiresAt) {
			tok := m.token
			m.mu.Unlock()
			return tok, nil
		}
		m.mu.Unlock()
		return m.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate forces the next Token call to fetch a fresh credential.
// Called by the executor when the payment endpoint rejects the token.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()
}

func (m *TokenManager) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", &AuthError{Body: err.Error()}
	}
	basic := base64.StdEncoding.EncodeToString([]byte(m.cfg.ConsumerKey + ":" + m.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Body: fmt.Sprintf("token request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("read token response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("decode token response: %v", err)}
	}
	if tr.AccessToken == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: "token response missing access_token"}
	}

	lifetime := time.Hour
	if secs, err := tr.ExpiresIn.Int64(); err == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}
	skew := m.skew
	if lifetime <= skew {
		skew = lifetime / 2
	}

	m.mu.Lock()
	m.token = tr.AccessToken
	m.expiresAt = time.Now().Add(lifetime - skew)
	m.mu.Unlock()

	metrics.TokenRefreshes.Inc()
	return tr.AccessToken, nil
}
