package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultMaxAttempts    = 3
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 10 * time.Second
	defaultAttemptTimeout = 30 * time.Second
)

// Executor performs the HTTP exchange with the gateway under a bounded
// retry policy. Failure classification and the token-invalidation side
// effect are kept separate from the retry loop itself.
type Executor struct {
	httpClient     *http.Client
	baseURL        string
	tokens         TokenSource
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration

	// sleep is swappable in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(baseURL string, tokens TokenSource, httpClient *http.Client) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultAttemptTimeout}
	}
	return &Executor{
		httpClient:     httpClient,
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		tokens:         tokens,
		maxAttempts:    defaultMaxAttempts,
		baseDelay:      defaultBaseDelay,
		maxDelay:       defaultMaxDelay,
		attemptTimeout: defaultAttemptTimeout,
		sleep:          sleepCtx,
	}
}

// Send posts payload to path, retrying transient failures with exponential
// backoff and forcing a token refresh on auth rejections. A 2xx response
// carrying a non-zero ResponseCode is a terminal business rejection.
// After the attempt budget the last observed error is returned unchanged
// in kind.
func (e *Executor) Send(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ValidationError{Field: "payload", Msg: err.Error()}
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		raw, err := e.attempt(ctx, path, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		switch err.(type) {
		case *AuthError:
			// Drop the rejected token and retry immediately with a fresh
			// one; backoff addresses network pressure, not stale creds.
			e.tokens.Invalidate()
		case *TransientNetworkError:
			if attempt < e.maxAttempts {
				if serr := e.sleep(ctx, e.backoff(attempt)); serr != nil {
					return nil, &TransientNetworkError{Err: serr}
				}
			}
		default:
			// ValidationError, GatewayBusinessError: definitive, stop.
			return nil, err
		}
	}
	return nil, lastErr
}

func (e *Executor) attempt(ctx context.Context, path string, body []byte) ([]byte, error) {
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransientNetworkError{StatusCode: resp.StatusCode, Err: err}
	}
	return raw, classify(resp.StatusCode, raw)
}

// classify maps one gateway response to the error taxonomy. nil means the
// exchange succeeded and raw is usable by the caller.
func classify(status int, raw []byte) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden || isExpiredTokenBody(raw) {
		return &AuthError{StatusCode: status, Body: string(raw)}
	}
	if status < 200 || status >= 300 {
		return &TransientNetworkError{StatusCode: status}
	}

	var probe struct {
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.ResponseCode != "" && probe.ResponseCode != "0" {
		return &GatewayBusinessError{Code: probe.ResponseCode, Description: probe.ResponseDescription}
	}
	return nil
}

// isExpiredTokenBody catches the gateway reporting an invalid or expired
// access token inside an otherwise generic error response.
func isExpiredTokenBody(raw []byte) bool {
	var probe struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.ErrorCode == "404.001.03" ||
		strings.Contains(strings.ToLower(probe.ErrorMessage), "invalid access token")
}

func (e *Executor) backoff(attempt int) time.Duration {
	d := e.baseDelay << (attempt - 1)
	if d > e.maxDelay {
		d = e.maxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
