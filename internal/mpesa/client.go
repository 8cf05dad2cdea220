package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pesaflow/mpesa-backend/internal/config"
	"github.com/pesaflow/mpesa-backend/internal/metrics"
)

const (
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	// transactionType is fixed: this client only issues pay-bill pushes.
	transactionType = "CustomerPayBillOnline"

	defaultTransactionDesc = "Payment"
)

// sender abstracts the retrying executor so tests can fake the exchange.
type sender interface {
	Send(ctx context.Context, path string, payload any) ([]byte, error)
}

// Client validates, signs and submits STK push requests.
type Client struct {
	cfg  config.Mpesa
	exec sender
	log  *slog.Logger
	now  func() time.Time
}

func NewClient(cfg config.Mpesa, exec sender, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, exec: exec, log: log, now: time.Now}
}

// NewStack wires the token manager, executor and client for one gateway
// configuration.
func NewStack(cfg config.Mpesa, httpClient *http.Client, log *slog.Logger) *Client {
	tm := NewTokenManager(cfg, httpClient)
	return NewClient(cfg, NewExecutor(cfg.BaseURL, tm, httpClient), log)
}

// InitiatePayment validates req, signs the push payload and submits it.
// The returned ack only confirms the gateway accepted the push for async
// processing; payment completion arrives later via callback.
func (c *Client) InitiatePayment(ctx context.Context, req PaymentRequest) (GatewayAck, error) {
	if err := c.validate(&req); err != nil {
		return GatewayAck{}, err
	}
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return GatewayAck{}, err
	}

	ts := Timestamp(c.now())
	payload := stkPushPayload{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          Password(c.cfg.Shortcode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   transactionType,
		Amount:            int64(math.Round(req.Amount)),
		PartyA:            phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.TransactionDesc,
	}

	c.log.Info("initiating stk push",
		"phone", MaskPhone(phone),
		"amount", payload.Amount,
		"reference", req.AccountReference,
	)

	raw, err := c.exec.Send(ctx, stkPushPath, payload)
	if err != nil {
		metrics.STKPushes.WithLabelValues("error").Inc()
		return GatewayAck{}, err
	}

	var ack GatewayAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		metrics.STKPushes.WithLabelValues("error").Inc()
		return GatewayAck{}, &TransientNetworkError{Err: fmt.Errorf("decode stk push response: %w", err)}
	}
	if ack.ResponseCode != "0" {
		metrics.STKPushes.WithLabelValues("rejected").Inc()
		return GatewayAck{}, &GatewayBusinessError{Code: ack.ResponseCode, Description: ack.ResponseDescription}
	}

	metrics.STKPushes.WithLabelValues("accepted").Inc()
	c.log.Info("stk push accepted",
		"phone", MaskPhone(phone),
		"checkout_request_id", ack.CheckoutRequestID,
	)
	return ack, nil
}

func (c *Client) validate(req *PaymentRequest) error {
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return &ValidationError{Field: "phone_number", Msg: "is required"}
	}
	if req.Amount <= 0 {
		return &ValidationError{Field: "amount", Msg: "must be > 0"}
	}
	if strings.TrimSpace(req.AccountReference) == "" {
		return &ValidationError{Field: "account_reference", Msg: "is required"}
	}
	if strings.TrimSpace(req.TransactionDesc) == "" {
		req.TransactionDesc = defaultTransactionDesc
	}
	return nil
}

// NormalizePhone converts accepted local formats to the 254XXXXXXXXX wire
// form: 712345678 and 0712345678 gain the country code, 254712345678
// passes through.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", &ValidationError{Field: "phone_number", Msg: "invalid phone number format"}
		}
	}
	switch {
	case len(p) == 9:
		return "254" + p, nil
	case len(p) == 10 && strings.HasPrefix(p, "0"):
		return "254" + p[1:], nil
	case len(p) == 12 && strings.HasPrefix(p, "254"):
		return p, nil
	}
	return "", &ValidationError{Field: "phone_number", Msg: "invalid phone number format"}
}

// MaskPhone keeps a bounded prefix and suffix visible and redacts the
// middle digits. Raw phone numbers never reach the logs.
func MaskPhone(phone string) string {
	if len(phone) < 7 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:4] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-3:]
}
