package repository

import (
	"context"

	"github.com/pesaflow/mpesa-backend/internal/models"
)

// Documents is a durable key-value document store. The ledger keeps its
// whole collection under one well-known key; Put must replace the value
// atomically so a failed write never leaves a partial document.
type Documents interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type Users interface {
	Create(username, email, passwordHash, role string) (models.User, error)
	GetByEmail(email string) (models.User, error)
}

type AuditLogs interface {
	Create(l models.AuditLog) error
}
