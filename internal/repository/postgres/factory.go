package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/pesaflow/mpesa-backend/internal/repository"
)

type Repositories struct {
	Documents repo.Documents
	Users     repo.Users
	AuditLogs repo.AuditLogs
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Documents: &documentsRepo{pool},
		Users:     &usersRepo{pool},
		AuditLogs: &auditLogsRepo{pool},
	}
}
