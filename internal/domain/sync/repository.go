package sync

import (
	"context"

	"reliefsync/internal/domain/payload"
)

// Repository интерфейс для работы с серверными копиями сущностей
type Repository interface {
	// Get возвращает сущность, в том числе удаленную, или ErrEntityNotFound
	Get(ctx context.Context, typ payload.Type, uuid string) (*StoredEntity, error)
	// Create сохраняет новую сущность; ErrEntityExists, если uuid уже занят
	Create(ctx context.Context, e *StoredEntity) error
	// UpdateIfVersion перезаписывает сущность, только если ее текущая версия равна expected
	UpdateIfVersion(ctx context.Context, e *StoredEntity, expected int) (bool, error)
	// DeleteIfVersion помечает сущность удаленной, только если ее текущая версия равна expected
	DeleteIfVersion(ctx context.Context, e *StoredEntity, expected int) (bool, error)
}
