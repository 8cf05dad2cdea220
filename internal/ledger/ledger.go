package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesaflow/mpesa-backend/internal/metrics"
	"github.com/pesaflow/mpesa-backend/internal/models"
	repo "github.com/pesaflow/mpesa-backend/internal/repository"
)

// Capacity bounds the persisted collection. Exceeding appends evict the
// oldest records, never the newest.
const Capacity = 40

// ledgerKey is the well-known document key holding the whole collection.
const ledgerKey = "transactions"

// PersistenceError wraps a failed ledger read or write. The persisted
// collection stays consistent: writes replace the document atomically.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Stats struct {
	Count   int     `json:"count"`
	Revenue float64 `json:"revenue"`
}

// Ledger is the durable, newest-first, capacity-bounded transaction store.
// Appends are read-modify-write over the whole document, so a mutex keeps
// a single-writer discipline across concurrent callbacks.
type Ledger struct {
	mu   sync.Mutex
	docs repo.Documents
	now  func() time.Time
}

func New(docs repo.Documents) *Ledger {
	return &Ledger{docs: docs, now: time.Now}
}

// Append assigns an id and timestamp, inserts rec at the head and persists
// the truncated collection.
func (l *Ledger) Append(ctx context.Context, rec models.Transaction) (models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load(ctx)
	if err != nil {
		return models.Transaction{}, err
	}

	now := l.now()
	rec.ID = newID(now)
	rec.CreatedAt = now

	records = append([]models.Transaction{rec}, records...)
	if len(records) > Capacity {
		records = records[:Capacity]
	}

	if err := l.store(ctx, records); err != nil {
		return models.Transaction{}, err
	}
	metrics.LedgerSize.Set(float64(len(records)))
	return rec, nil
}

// List returns the persisted collection, newest-first. No document yet
// means an empty ledger, not an error.
func (l *Ledger) List(ctx context.Context) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

// FindByCheckoutID scans for an existing record reconciled from the same
// push attempt. Used to keep re-delivered callbacks from duplicating
// entries.
func (l *Ledger) FindByCheckoutID(ctx context.Context, checkoutRequestID string) (models.Transaction, bool, error) {
	if checkoutRequestID == "" {
		return models.Transaction{}, false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load(ctx)
	if err != nil {
		return models.Transaction{}, false, err
	}
	for _, rec := range records {
		if rec.CheckoutRequestID == checkoutRequestID {
			return rec, true, nil
		}
	}
	return models.Transaction{}, false, nil
}

// DailyStats counts records from local midnight of ref onward; revenue
// sums amounts of completed records only.
func (l *Ledger) DailyStats(ctx context.Context, ref time.Time) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load(ctx)
	if err != nil {
		return Stats{}, err
	}

	midnight := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	var s Stats
	for _, rec := range records {
		if rec.CreatedAt.Before(midnight) {
			continue
		}
		s.Count++
		if rec.Status == models.TxnCompleted {
			s.Revenue += rec.Amount
		}
	}
	return s, nil
}

// Reset clears the persisted collection. A missing document is not an
// error.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.docs.Delete(ctx, ledgerKey); err != nil {
		return &PersistenceError{Op: "reset", Err: err}
	}
	metrics.LedgerSize.Set(0)
	return nil
}

func (l *Ledger) load(ctx context.Context) ([]models.Transaction, error) {
	value, ok, err := l.docs.Get(ctx, ledgerKey)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	if !ok {
		return []models.Transaction{}, nil
	}
	var records []models.Transaction
	if err := json.Unmarshal(value, &records); err != nil {
		return nil, &PersistenceError{Op: "decode", Err: err}
	}
	return records, nil
}

func (l *Ledger) store(ctx context.Context, records []models.Transaction) error {
	value, err := json.Marshal(records)
	if err != nil {
		return &PersistenceError{Op: "encode", Err: err}
	}
	if err := l.docs.Put(ctx, ledgerKey, value); err != nil {
		return &PersistenceError{Op: "store", Err: err}
	}
	return nil
}

// newID combines a time component with a random component.
func newID(t time.Time) string {
	return fmt.Sprintf("%d-%s", t.UnixMilli(), uuid.NewString()[:8])
}
