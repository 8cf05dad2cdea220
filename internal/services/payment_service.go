package services

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/pesaflow/mpesa-backend/internal/ledger"
	"github.com/pesaflow/mpesa-backend/internal/metrics"
	"github.com/pesaflow/mpesa-backend/internal/models"
	"github.com/pesaflow/mpesa-backend/internal/mpesa"
	repo "github.com/pesaflow/mpesa-backend/internal/repository"
	"github.com/pesaflow/mpesa-backend/internal/worker"
)

// nowFunc is swappable in tests.
var nowFunc = time.Now

// initiator abstracts the gateway client for tests.
type initiator interface {
	InitiatePayment(ctx context.Context, req mpesa.PaymentRequest) (mpesa.GatewayAck, error)
}

// PaymentService drives payment initiation and reconciles gateway
// callbacks into the ledger.
type PaymentService struct {
	client initiator
	ledger *ledger.Ledger
	audit  repo.AuditLogs
	wp     *worker.Pool
	log    *slog.Logger
}

func NewPaymentService(client initiator, l *ledger.Ledger, audit repo.AuditLogs, wp *worker.Pool, log *slog.Logger) *PaymentService {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentService{client: client, ledger: l, audit: audit, wp: wp, log: log}
}

// Initiate submits an STK push and records the attempt in the audit trail.
func (s *PaymentService) Initiate(ctx context.Context, req mpesa.PaymentRequest) (mpesa.GatewayAck, error) {
	ack, err := s.client.InitiatePayment(ctx, req)
	if err != nil {
		s.auditAsync("", "initiate_failed", map[string]any{"error": err.Error()})
		return mpesa.GatewayAck{}, err
	}
	s.auditAsync(ack.CheckoutRequestID, "initiated", map[string]any{
		"merchant_request_id": ack.MerchantRequestID,
	})
	return ack, nil
}

// Reconcile parses one inbound callback body and maps it to a ledger
// record. Malformed bodies fail with CallbackParseError and leave the
// ledger untouched; a callback whose CheckoutRequestID is already in the
// ledger returns the existing record without appending.
func (s *PaymentService) Reconcile(ctx context.Context, body []byte) (models.Transaction, error) {
	outcome, err := mpesa.ParseCallback(body)
	if err != nil {
		metrics.Callbacks.WithLabelValues("invalid").Inc()
		return models.Transaction{}, err
	}

	if existing, ok, err := s.ledger.FindByCheckoutID(ctx, outcome.CheckoutRequestID); err != nil {
		return models.Transaction{}, err
	} else if ok {
		s.log.Warn("duplicate callback delivery",
			"checkout_request_id", outcome.CheckoutRequestID,
			"result_code", outcome.ResultCode,
		)
		return existing, nil
	}

	rec := models.Transaction{CheckoutRequestID: outcome.CheckoutRequestID}
	if outcome.ResultCode == 0 {
		amount, ok := metadataNumber(outcome.Metadata, "Amount")
		if !ok {
			metrics.Callbacks.WithLabelValues("invalid").Inc()
			return models.Transaction{}, &mpesa.CallbackParseError{Reason: "completed callback missing Amount"}
		}
		rec.Amount = amount
		rec.Status = models.TxnCompleted
		if phone, ok := metadataString(outcome.Metadata, "PhoneNumber"); ok {
			rec.PhoneNumber = &phone
		}
		if receipt, ok := metadataString(outcome.Metadata, "MpesaReceiptNumber"); ok {
			rec.MpesaReceipt = &receipt
		}
		metrics.Callbacks.WithLabelValues("completed").Inc()
	} else {
		// The user declined or the push timed out: an operational outcome,
		// not a system fault.
		rec.Status = models.TxnPending
		metrics.Callbacks.WithLabelValues("failed").Inc()
		s.log.Warn("payment not completed",
			"checkout_request_id", outcome.CheckoutRequestID,
			"result_code", outcome.ResultCode,
			"result_desc", outcome.ResultDesc,
		)
	}

	rec, err = s.ledger.Append(ctx, rec)
	if err != nil {
		return models.Transaction{}, err
	}

	s.auditAsync(outcome.CheckoutRequestID, "reconciled", map[string]any{
		"status":      string(rec.Status),
		"result_code": outcome.ResultCode,
	})
	return rec, nil
}

func (s *PaymentService) List(ctx context.Context) ([]models.Transaction, error) {
	return s.ledger.List(ctx)
}

func (s *PaymentService) DailyStats(ctx context.Context) (ledger.Stats, error) {
	return s.ledger.DailyStats(ctx, nowFunc())
}

func (s *PaymentService) Reset(ctx context.Context) error {
	return s.ledger.Reset(ctx)
}

// auditAsync writes the audit entry off the request path; failures are
// logged, never surfaced.
func (s *PaymentService) auditAsync(entityID, action string, details map[string]any) {
	entry := models.AuditLog{
		EntityType: "payment",
		Action:     action,
		Details:    details,
	}
	if entityID != "" {
		id := entityID
		entry.EntityID = &id
	}
	s.wp.Submit(func() {
		if err := s.audit.Create(entry); err != nil {
			s.log.Error("audit write", "action", action, "err", err)
		}
	})
}

func metadataNumber(md map[string]any, name string) (float64, bool) {
	switch v := md[name].(type) {
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// metadataString renders an item as text; the gateway delivers phone
// numbers and receipts as JSON numbers or strings depending on the field.
func metadataString(md map[string]any, name string) (string, bool) {
	switch v := md[name].(type) {
	case string:
		if v != "" {
			return v, true
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}
