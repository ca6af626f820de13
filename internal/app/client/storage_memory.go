package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"reliefsync/internal/domain/conflict"
	"reliefsync/internal/domain/payload"
	"reliefsync/internal/domain/queue"
)

// MemoryStorage - временное in-memory хранилище
type MemoryStorage struct {
	mu        sync.RWMutex
	snapshots map[payload.Type]map[string]*Snapshot
	conflicts []conflict.Record
	state     SyncState
	queue     *memoryQueue
	now       func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	m := &MemoryStorage{
		snapshots: make(map[payload.Type]map[string]*Snapshot),
		queue:     &memoryQueue{items: make(map[string]*queue.Item)},
		now:       time.Now,
	}
	for _, typ := range payload.Types {
		m.snapshots[typ] = make(map[string]*Snapshot)
	}
	return m
}

func (m *MemoryStorage) bucket(typ payload.Type) (map[string]*Snapshot, error) {
	b, ok := m.snapshots[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", payload.ErrUnknownType, string(typ))
	}
	return b, nil
}

func (m *MemoryStorage) GetSnapshot(_ context.Context, typ payload.Type, uuid string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(typ)
	if err != nil {
		return nil, err
	}
	snap, ok := b[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrSnapshotNotFound, typ, uuid)
	}
	return copySnapshot(snap), nil
}

func (m *MemoryStorage) PutSnapshot(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.bucket(snap.Type)
	if err != nil {
		return err
	}
	cp := copySnapshot(snap)
	if cp.Status == "" {
		cp.Status = SnapshotPending
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = m.now()
	}
	b[snap.UUID] = cp
	return nil
}

func (m *MemoryStorage) ListSnapshots(_ context.Context, typ payload.Type) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(typ)
	if err != nil {
		return nil, err
	}
	snapshots := make([]*Snapshot, 0, len(b))
	for _, snap := range b {
		snapshots = append(snapshots, copySnapshot(snap))
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].UpdatedAt.Equal(snapshots[j].UpdatedAt) {
			return snapshots[i].UpdatedAt.After(snapshots[j].UpdatedAt)
		}
		return snapshots[i].UUID < snapshots[j].UUID
	})
	return snapshots, nil
}

func (m *MemoryStorage) MarkSynced(_ context.Context, typ payload.Type, uuid string, mark SyncMark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.bucket(typ)
	if err != nil {
		return err
	}
	snap, ok := b[uuid]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrSnapshotNotFound, typ, uuid)
	}
	mark.apply(snap, m.now())
	return nil
}

func (m *MemoryStorage) IsSynced(ctx context.Context, typ payload.Type, entityUUID string) (bool, error) {
	snap, err := m.GetSnapshot(ctx, typ, entityUUID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return snap.Status == SnapshotSynced, nil
}

func (m *MemoryStorage) UpdateAssessment(ctx context.Context, a *payload.Assessment) error {
	return m.applyResolved(ctx, a)
}

func (m *MemoryStorage) UpdateResponse(ctx context.Context, r *payload.Response) error {
	return m.applyResolved(ctx, r)
}

func (m *MemoryStorage) UpdateEntity(ctx context.Context, e *payload.Entity) error {
	return m.applyResolved(ctx, e)
}

func (m *MemoryStorage) applyResolved(ctx context.Context, p payload.Payload) error {
	existing, err := m.GetSnapshot(ctx, p.Kind(), p.Meta().UUID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		return err
	}
	snap, err := resolvedSnapshot(existing, p, m.now())
	if err != nil {
		return err
	}
	return m.PutSnapshot(ctx, snap)
}

func (m *MemoryStorage) LoadConflictLogs(_ context.Context) ([]conflict.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]conflict.Record(nil), m.conflicts...), nil
}

func (m *MemoryStorage) SaveConflictLogs(_ context.Context, records []conflict.Record) error {
	if len(records) > conflict.HistoryLimit {
		records = records[:conflict.HistoryLimit]
	}
	m.mu.Lock()
	m.conflicts = append([]conflict.Record(nil), records...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) LoadSyncState(_ context.Context) (SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

func (m *MemoryStorage) SaveSyncState(_ context.Context, st SyncState) error {
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Queue() queue.Repository {
	return m.queue
}

func (m *MemoryStorage) Close() error {
	return nil
}

func copySnapshot(s *Snapshot) *Snapshot {
	cp := *s
	cp.Data = append([]byte(nil), s.Data...)
	return &cp
}

type memoryQueue struct {
	mu    sync.Mutex
	seq   int64
	items map[string]*queue.Item
}

func (q *memoryQueue) Add(_ context.Context, item *queue.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[item.UUID]; ok {
		return fmt.Errorf("queue item %s already exists", item.UUID)
	}
	q.seq++
	item.Seq = q.seq
	q.items[item.UUID] = copyItem(item)
	return nil
}

func (q *memoryQueue) Save(_ context.Context, item *queue.Item) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, ok := q.items[item.UUID]
	if !ok {
		return false, nil
	}
	cp := copyItem(item)
	cp.Seq = existing.Seq
	q.items[item.UUID] = cp
	return true, nil
}

func (q *memoryQueue) Remove(_ context.Context, uuid string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[uuid]; !ok {
		return false, nil
	}
	delete(q.items, uuid)
	return true, nil
}

func (q *memoryQueue) Get(_ context.Context, uuid string) (*queue.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrNotFound, uuid)
	}
	return copyItem(item), nil
}

func (q *memoryQueue) List(_ context.Context) ([]*queue.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]*queue.Item, 0, len(q.items))
	for _, item := range q.items {
		items = append(items, copyItem(item))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

func copyItem(it *queue.Item) *queue.Item {
	cp := *it
	cp.Data = append([]byte(nil), it.Data...)
	if it.LastAttempt != nil {
		t := *it.LastAttempt
		cp.LastAttempt = &t
	}
	if it.NextRetry != nil {
		t := *it.NextRetry
		cp.NextRetry = &t
	}
	return &cp
}
