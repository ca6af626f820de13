package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"

	"reliefsync/internal/domain/payload"
)

// MaxBatchSize - максимальное число элементов в одном пакете синхронизации
const MaxBatchSize = 100

// Manager - очередь локальных изменений, ожидающих отправки на сервер.
// Ошибки хранилища логируются; методы чтения в этом случае возвращают пустые значения.
type Manager struct {
	repo      Repository
	snapshots SnapshotChecker
	factory   *payload.Factory
	log       *slog.Logger
	now       func() time.Time
}

// Option настраивает Manager
type Option func(*Manager)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager создает менеджер очереди поверх хранилища
func NewManager(repo Repository, snapshots SnapshotChecker, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:      repo,
		snapshots: snapshots,
		factory:   payload.NewFactory(),
		log:       log.With("component", "sync_queue"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddItem ставит изменение в очередь и возвращает uuid элемента.
// Несколько элементов для одной сущности допустимы и отправляются в порядке постановки.
func (m *Manager) AddItem(
	ctx context.Context,
	typ payload.Type,
	action payload.Action,
	entityUUID string,
	data json.RawMessage,
	priority int,
) (string, error) {
	if err := m.validate(typ, action, entityUUID, data); err != nil {
		return "", err
	}

	item := &Item{
		UUID:       uuid.NewString(),
		Type:       typ,
		Action:     action,
		EntityUUID: entityUUID,
		Data:       data,
		Priority:   priority,
		Timestamp:  m.now().UTC(),
	}

	if err := m.repo.Add(ctx, item); err != nil {
		m.log.Error("failed to add queue item", "type", typ, "action", action, "entity_uuid", entityUUID, "error", err)
		return "", fmt.Errorf("add queue item: %w", err)
	}

	m.log.Debug("queue item added", "uuid", item.UUID, "type", typ, "action", action, "priority", priority)
	return item.UUID, nil
}

func (m *Manager) validate(typ payload.Type, action payload.Action, entityUUID string, data json.RawMessage) error {
	if err := typ.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if err := action.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if _, err := uuid.Parse(entityUUID); err != nil {
		return fmt.Errorf("%w: entity uuid: %v", ErrInvalidItem, err)
	}

	// для удаления достаточно идентификатора, полные данные не обязательны
	if action == payload.ActionDelete {
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
			return fmt.Errorf("%w: delete data must be a JSON object", ErrInvalidItem)
		}
		return nil
	}

	p, err := m.factory.Parse(typ, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if p.Meta().UUID != entityUUID {
		return fmt.Errorf("%w: data uuid %s does not match entity uuid %s", ErrInvalidItem, p.Meta().UUID, entityUUID)
	}
	return nil
}

// UpdateItem применяет частичное обновление; false, если элемент не найден
func (m *Manager) UpdateItem(ctx context.Context, id string, patch Patch) bool {
	return m.modify(ctx, id, func(it *Item) { patch.Apply(it) })
}

// RemoveItem удаляет элемент из очереди
func (m *Manager) RemoveItem(ctx context.Context, id string) bool {
	ok, err := m.repo.Remove(ctx, id)
	if err != nil {
		m.log.Error("failed to remove queue item", "uuid", id, "error", err)
		return false
	}
	return ok
}

// GetItem возвращает элемент с вычисленным статусом или nil
func (m *Manager) GetItem(ctx context.Context, id string) *Entry {
	it, err := m.repo.Get(ctx, id)
	if err != nil {
		if !isNotFound(err) {
			m.log.Error("failed to get queue item", "uuid", id, "error", err)
		}
		return nil
	}
	e := Entry{Item: *it, Status: DeriveStatus(it, m.now())}
	return &e
}

// GetItems возвращает элементы с фильтрацией, сортировкой и постраничной выборкой.
// По умолчанию сортирует по приоритету по убыванию.
func (m *Manager) GetItems(ctx context.Context, f Filter) []Entry {
	entries := m.entries(ctx)

	filtered := entries[:0]
	for _, e := range entries {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		filtered = append(filtered, e)
	}

	sortEntries(filtered, f.SortBy, f.Order)
	return paginate(filtered, f.Offset, f.Limit)
}

// GetMetrics считает агрегированное состояние очереди
func (m *Manager) GetMetrics(ctx context.Context) Metrics {
	metrics := emptyMetrics()
	entries := m.entries(ctx)

	attempts := 0
	for _, e := range entries {
		metrics.Total++
		metrics.ByType[e.Type]++
		metrics.ByAction[e.Action]++
		attempts += e.Attempts

		switch e.Status {
		case StatusPending:
			metrics.Pending++
			if metrics.OldestPending == nil || e.Timestamp.Before(*metrics.OldestPending) {
				ts := e.Timestamp
				metrics.OldestPending = &ts
			}
		case StatusRetrying:
			metrics.Retrying++
		case StatusFailed:
			metrics.Failed++
		case StatusMaxRetries:
			metrics.MaxRetries++
		}
	}

	if metrics.Total > 0 {
		metrics.AvgRetryAttempts = float64(attempts) / float64(metrics.Total)
	}
	return metrics
}

// GetPendingItems возвращает элементы, еще не отправлявшиеся на сервер.
// limit <= 0 означает без ограничения.
func (m *Manager) GetPendingItems(ctx context.Context, limit int) []Entry {
	return m.GetItems(ctx, Filter{Status: StatusPending, Limit: limit})
}

// GetReadyForRetry возвращает элементы, у которых истекла задержка перед повтором
// и остались попытки. Такие элементы имеют статус failed.
func (m *Manager) GetReadyForRetry(ctx context.Context) []Entry {
	return m.GetItems(ctx, Filter{Status: StatusFailed})
}

// MarkAsRetrying фиксирует неудачную попытку и планирует следующую на nextRetry
func (m *Manager) MarkAsRetrying(ctx context.Context, id string, nextRetry time.Time, errMsg string) bool {
	now := m.now().UTC()
	return m.modify(ctx, id, func(it *Item) {
		it.Attempts++
		it.LastAttempt = &now
		next := nextRetry.UTC()
		it.NextRetry = &next
		if errMsg != "" {
			it.Error = errMsg
		} else if it.Error == "" {
			it.Error = "dispatch failed"
		}
	})
}

// MarkAsFailed записывает ошибку без увеличения счетчика попыток
func (m *Manager) MarkAsFailed(ctx context.Context, id string, errMsg string) bool {
	now := m.now().UTC()
	return m.modify(ctx, id, func(it *Item) {
		it.LastAttempt = &now
		it.Error = errMsg
	})
}

// ResetFailedItems обнуляет счетчик попыток у элементов в статусе max_retries
func (m *Manager) ResetFailedItems(ctx context.Context) int {
	count := 0
	for _, e := range m.entries(ctx) {
		if e.Status != StatusMaxRetries {
			continue
		}
		it := e.Item
		it.Attempts = 0
		it.LastAttempt = nil
		it.NextRetry = nil
		it.Error = ""
		if m.save(ctx, &it) {
			count++
		}
	}

	if count > 0 {
		m.log.Info("failed queue items reset", "count", count)
	}
	return count
}

// ClearFailedItems удаляет элементы в статусе max_retries
func (m *Manager) ClearFailedItems(ctx context.Context) int {
	count := 0
	for _, e := range m.entries(ctx) {
		if e.Status == StatusMaxRetries && m.RemoveItem(ctx, e.UUID) {
			count++
		}
	}

	if count > 0 {
		m.log.Info("failed queue items cleared", "count", count)
	}
	return count
}

// ClearCompletedItems удаляет элементы, чьи сущности локальное хранилище уже считает синхронизированными
func (m *Manager) ClearCompletedItems(ctx context.Context) int {
	count := 0
	for _, e := range m.entries(ctx) {
		synced, err := m.snapshots.IsSynced(ctx, e.Type, e.EntityUUID)
		if err != nil {
			m.log.Warn("failed to check snapshot sync state", "type", e.Type, "entity_uuid", e.EntityUUID, "error", err)
			continue
		}
		if synced && m.RemoveItem(ctx, e.UUID) {
			count++
		}
	}

	if count > 0 {
		m.log.Info("completed queue items cleared", "count", count)
	}
	return count
}

// PrioritizeItem меняет приоритет одного элемента
func (m *Manager) PrioritizeItem(ctx context.Context, id string, priority int) bool {
	return m.modify(ctx, id, func(it *Item) { it.Priority = priority })
}

// ReprioritizeType меняет приоритет всех элементов указанного вида
func (m *Manager) ReprioritizeType(ctx context.Context, typ payload.Type, priority int) int {
	count := 0
	for _, e := range m.entries(ctx) {
		if e.Type != typ || e.Priority == priority {
			continue
		}
		it := e.Item
		it.Priority = priority
		if m.save(ctx, &it) {
			count++
		}
	}
	return count
}

// NextBatch выбирает элементы для очередной отправки.
//
// Элементы упорядочены по приоритету, но изменения одной сущности всегда идут
// в порядке постановки: позиции, занятые сущностью, заполняются ее элементами по Seq.
// Если самый ранний элемент сущности ждет повтора или исчерпал попытки,
// вся сущность откладывается.
func (m *Manager) NextBatch(ctx context.Context, limit int) []Entry {
	if limit <= 0 || limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	entries := m.entries(ctx)
	slices.SortStableFunc(entries, func(a, b Entry) int { return compareInt64(a.Seq, b.Seq) })

	// по каждой сущности берется только непрерывный отправляемый префикс
	blocked := make(map[string]bool)
	candidates := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if blocked[e.EntityUUID] {
			continue
		}
		if e.Status != StatusPending && e.Status != StatusFailed {
			blocked[e.EntityUUID] = true
			continue
		}
		candidates = append(candidates, e)
	}

	perEntity := make(map[string][]Entry)
	for _, e := range candidates {
		perEntity[e.EntityUUID] = append(perEntity[e.EntityUUID], e)
	}

	sortEntries(candidates, SortByPriority, OrderDesc)

	batch := make([]Entry, len(candidates))
	for i, e := range candidates {
		fifo := perEntity[e.EntityUUID]
		batch[i] = fifo[0]
		perEntity[e.EntityUUID] = fifo[1:]
	}

	if len(batch) > limit {
		batch = batch[:limit]
	}
	return batch
}

func (m *Manager) entries(ctx context.Context) []Entry {
	items, err := m.repo.List(ctx)
	if err != nil {
		m.log.Error("failed to list queue items", "error", err)
		return []Entry{}
	}

	now := m.now()
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, Entry{Item: *it, Status: DeriveStatus(it, now)})
	}
	return entries
}

func (m *Manager) modify(ctx context.Context, id string, fn func(*Item)) bool {
	it, err := m.repo.Get(ctx, id)
	if err != nil {
		if !isNotFound(err) {
			m.log.Error("failed to get queue item", "uuid", id, "error", err)
		}
		return false
	}
	fn(it)
	return m.save(ctx, it)
}

func (m *Manager) save(ctx context.Context, it *Item) bool {
	ok, err := m.repo.Save(ctx, it)
	if err != nil {
		m.log.Error("failed to save queue item", "uuid", it.UUID, "error", err)
		return false
	}
	return ok
}
