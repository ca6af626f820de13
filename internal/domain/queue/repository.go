package queue

import (
	"context"

	"reliefsync/internal/domain/payload"
)

// Repository - постоянное хранилище таблицы очереди синхронизации
type Repository interface {
	// Add сохраняет новый элемент и назначает ему Seq
	Add(ctx context.Context, item *Item) error
	// Save перезаписывает существующий элемент; false, если элемента нет
	Save(ctx context.Context, item *Item) (bool, error)
	// Remove удаляет элемент; false, если элемента нет
	Remove(ctx context.Context, uuid string) (bool, error)
	// Get возвращает элемент или ErrNotFound
	Get(ctx context.Context, uuid string) (*Item, error)
	// List возвращает все элементы в порядке постановки
	List(ctx context.Context) ([]*Item, error)
}

// SnapshotChecker сообщает, завершена ли синхронизация локальной копии сущности
type SnapshotChecker interface {
	IsSynced(ctx context.Context, typ payload.Type, entityUUID string) (bool, error)
}
