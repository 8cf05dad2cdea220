package mpesa

import "fmt"

// ValidationError rejects bad caller input before any network call.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Msg)
}

// AuthError covers credential acquisition failures and token rejections
// from the payment endpoint. StatusCode/Body carry the upstream response
// for diagnostics; they never contain our credentials.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mpesa auth error: status=%d body=%s", e.StatusCode, e.Body)
}

// TransientNetworkError marks transport failures and retryable HTTP
// statuses. The executor retries these with backoff.
type TransientNetworkError struct {
	StatusCode int // 0 when the transport itself failed
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mpesa transient error: %v", e.Err)
	}
	return fmt.Sprintf("mpesa transient error: status=%d", e.StatusCode)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// GatewayBusinessError is a definitive gateway rejection (2xx with a
// non-zero ResponseCode). Terminal, never retried.
type GatewayBusinessError struct {
	Code        string
	Description string
}

func (e *GatewayBusinessError) Error() string {
	return fmt.Sprintf("mpesa rejected request: code=%s desc=%s", e.Code, e.Description)
}

// CallbackParseError marks a malformed inbound callback body. Logged and
// acknowledged, never fatal, never mutates the ledger.
type CallbackParseError struct {
	Reason string
}

func (e *CallbackParseError) Error() string {
	return "callback parse error: " + e.Reason
}
