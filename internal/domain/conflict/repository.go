package conflict

import (
	"context"

	"reliefsync/internal/domain/payload"
)

// LogStore хранит журнал конфликтов целиком
type LogStore interface {
	LoadConflictLogs(ctx context.Context) ([]Record, error)
	SaveConflictLogs(ctx context.Context, records []Record) error
}

// Applier записывает итоговые данные в локальное хранилище, отдельно для каждого вида сущности
type Applier interface {
	UpdateAssessment(ctx context.Context, a *payload.Assessment) error
	UpdateResponse(ctx context.Context, r *payload.Response) error
	UpdateEntity(ctx context.Context, e *payload.Entity) error
}
