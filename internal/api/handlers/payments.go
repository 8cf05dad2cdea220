package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pesaflow/mpesa-backend/internal/api/httpx"
	"github.com/pesaflow/mpesa-backend/internal/api/validate"
	"github.com/pesaflow/mpesa-backend/internal/mpesa"
	"github.com/pesaflow/mpesa-backend/internal/services"
)

const (
	minAmount = 10
	maxAmount = 150000

	maxCallbackBody = 1 << 20
)

type PaymentsHandler struct {
	Svc *services.PaymentService
	Log *slog.Logger
}

func NewPaymentsHandler(svc *services.PaymentService, log *slog.Logger) *PaymentsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentsHandler{Svc: svc, Log: log}
}

// STKPush handles POST /api/v1/payments/stkpush.
func (h *PaymentsHandler) STKPush(w http.ResponseWriter, r *http.Request) {
	var req mpesa.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}

	// Form-level bounds; the gateway client re-validates shape and amount.
	var errs validate.Errs
	if e := validate.Required("phone_number", req.PhoneNumber); e != nil {
		errs = append(errs, *e)
	} else if e := validate.Phone("phone_number", req.PhoneNumber); e != nil {
		errs = append(errs, *e)
	}
	if e := validate.Required("account_reference", req.AccountReference); e != nil {
		errs = append(errs, *e)
	}
	if e := validate.AmountRange("amount", req.Amount, minAmount, maxAmount); e != nil {
		errs = append(errs, *e)
	}
	if len(errs) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", errs.Error(), errs)
		return
	}

	ack, err := h.Svc.Initiate(r.Context(), req)
	if err != nil {
		h.writePaymentError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, ack)
}

// Callback handles the gateway webhook. It acknowledges business-failure
// callbacks with 200 and answers 500 only when the body cannot be parsed
// or the ledger write failed.
func (h *PaymentsHandler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read callback body"})
		return
	}

	rec, err := h.Svc.Reconcile(r.Context(), body)
	if err != nil {
		var parseErr *mpesa.CallbackParseError
		if errors.As(err, &parseErr) {
			h.Log.Error("callback rejected", "err", parseErr.Reason)
		} else {
			h.Log.Error("callback processing", "err", err)
		}
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to process callback"})
		return
	}

	h.Log.Info("callback reconciled", "record_id", rec.ID, "status", string(rec.Status))
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// Transactions handles GET /api/v1/dashboard/transactions.
func (h *PaymentsHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	records, err := h.Svc.List(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "persistence_error", "failed to load transactions", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, records)
}

// Stats handles GET /api/v1/dashboard/stats.
func (h *PaymentsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.DailyStats(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "persistence_error", "failed to load stats", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

// Reset handles POST /api/v1/dashboard/reset.
func (h *PaymentsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Reset(r.Context()); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "persistence_error", "failed to reset ledger", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

// writePaymentError maps the error taxonomy onto HTTP statuses without
// leaking credentials or raw upstream bodies to the caller.
func (h *PaymentsHandler) writePaymentError(w http.ResponseWriter, err error) {
	var (
		validationErr *mpesa.ValidationError
		authErr       *mpesa.AuthError
		businessErr   *mpesa.GatewayBusinessError
		transientErr  *mpesa.TransientNetworkError
	)
	switch {
	case errors.As(err, &validationErr):
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", validationErr.Error(), nil)
	case errors.As(err, &businessErr):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "gateway_rejected", businessErr.Description, nil)
	case errors.As(err, &authErr):
		h.Log.Error("gateway auth failure", "status", authErr.StatusCode)
		httpx.WriteError(w, http.StatusBadGateway, "gateway_auth_failed", "payment gateway authentication failed", nil)
	case errors.As(err, &transientErr):
		h.Log.Error("gateway unreachable", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "gateway_unavailable", "payment gateway is unavailable, try again shortly", nil)
	default:
		h.Log.Error("payment initiation", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
