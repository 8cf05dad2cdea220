package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pesaflow/mpesa-backend/internal/ledger"
	"github.com/pesaflow/mpesa-backend/internal/models"
	"github.com/pesaflow/mpesa-backend/internal/mpesa"
	"github.com/pesaflow/mpesa-backend/internal/services"
	"github.com/pesaflow/mpesa-backend/internal/worker"
)

type memDocs struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemDocs() *memDocs { return &memDocs{m: map[string][]byte{}} }

func (d *memDocs) Get(ctx context.Context, key string) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.m[key]
	return v, ok, nil
}

func (d *memDocs) Put(ctx context.Context, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = value
	return nil
}

func (d *memDocs) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, key)
	return nil
}

type noopAudit struct{}

func (noopAudit) Create(models.AuditLog) error { return nil }

type fakeGateway struct {
	ack mpesa.GatewayAck
	err error
}

func (f *fakeGateway) InitiatePayment(ctx context.Context, req mpesa.PaymentRequest) (mpesa.GatewayAck, error) {
	return f.ack, f.err
}

func newTestHandler(t *testing.T, gw *fakeGateway) *PaymentsHandler {
	t.Helper()
	wp := worker.NewPool(1)
	t.Cleanup(wp.Stop)
	svc := services.NewPaymentService(gw, ledger.New(newMemDocs()), noopAudit{}, wp, nil)
	return NewPaymentsHandler(svc, nil)
}

func TestSTKPushAccepted(t *testing.T) {
	h := newTestHandler(t, &fakeGateway{ack: mpesa.GatewayAck{
		CheckoutRequestID: "ws_CO_1",
		ResponseCode:      "0",
	}})

	body := `{"phone_number":"0712345678","amount":100,"account_reference":"ORDER-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stkpush", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.STKPush(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var ack mpesa.GatewayAck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	require.Equal(t, "ws_CO_1", ack.CheckoutRequestID)
}

func TestSTKPushFormValidation(t *testing.T) {
	h := newTestHandler(t, &fakeGateway{})

	cases := []string{
		`{"amount":100,"account_reference":"ORDER-1"}`,                            // missing phone
		`{"phone_number":"0712345678","amount":5,"account_reference":"ORDER-1"}`,  // below minimum
		`{"phone_number":"0712345678","amount":200000,"account_reference":"O"}`,   // above maximum
		`{"phone_number":"12345","amount":100,"account_reference":"ORDER-1"}`,     // bad phone
		`{"phone_number":"0712345678","amount":100}`,                              // missing reference
		`not json`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stkpush", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.STKPush(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestSTKPushErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&mpesa.GatewayBusinessError{Code: "1", Description: "no funds"}, http.StatusUnprocessableEntity},
		{&mpesa.AuthError{StatusCode: 401, Body: "denied"}, http.StatusBadGateway},
		{&mpesa.TransientNetworkError{StatusCode: 503}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h := newTestHandler(t, &fakeGateway{err: tc.err})
		body := `{"phone_number":"0712345678","amount":100,"account_reference":"ORDER-1"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stkpush", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.STKPush(w, req)
		require.Equal(t, tc.want, w.Code)
		require.NotContains(t, w.Body.String(), "denied", "upstream bodies must not leak to callers")
	}
}

func TestCallbackAcknowledged(t *testing.T) {
	h := newTestHandler(t, &fakeGateway{})

	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Callback(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"received": true}`, w.Body.String())
}

func TestCallbackMalformedAnsweredGracefully(t *testing.T) {
	h := newTestHandler(t, &fakeGateway{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	h.Callback(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "error")
}

func TestDashboardSurfaces(t *testing.T) {
	h := newTestHandler(t, &fakeGateway{})

	cb := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"Amount","Value":500}]}}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", strings.NewReader(cb))
	h.Callback(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	h.Transactions(w, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/transactions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var records []models.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, models.TxnCompleted, records[0].Status)

	w = httptest.NewRecorder()
	h.Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats ledger.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.Count)
	require.Equal(t, float64(500), stats.Revenue)

	w = httptest.NewRecorder()
	h.Reset(w, httptest.NewRequest(http.MethodPost, "/api/v1/dashboard/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.Transactions(w, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/transactions", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Empty(t, records)
}
