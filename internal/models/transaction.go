package models

import "time"

type TransactionStatus string

const (
	TxnCompleted TransactionStatus = "Completed"
	TxnPending   TransactionStatus = "Pending"
)

// Transaction is one reconciled ledger record. Created only by callback
// reconciliation, never updated in place. PhoneNumber and MpesaReceipt are
// absent when the callback metadata did not carry them.
type Transaction struct {
	ID                string            `json:"id"`
	CheckoutRequestID string            `json:"checkout_request_id,omitempty"`
	PhoneNumber       *string           `json:"phone_number,omitempty"`
	MpesaReceipt      *string           `json:"mpesa_receipt,omitempty"`
	Amount            float64           `json:"amount"`
	Status            TransactionStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
}
