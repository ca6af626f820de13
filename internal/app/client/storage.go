package client

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"reliefsync/internal/domain/conflict"
	"reliefsync/internal/domain/payload"
	"reliefsync/internal/domain/queue"
)

const (
	kvConflictLogs = "conflict_logs"
	kvSyncState    = "sync_state"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotExists   = errors.New("snapshot already exists")
)

// SnapshotStatus - состояние локальной копии относительно сервера
type SnapshotStatus string

const (
	SnapshotPending SnapshotStatus = "pending"
	SnapshotSynced  SnapshotStatus = "synced"
)

// Snapshot - локальная копия сущности
type Snapshot struct {
	Type         payload.Type    `json:"type" yaml:"type"`
	UUID         string          `json:"uuid" yaml:"uuid"`
	Data         json.RawMessage `json:"data" yaml:"-"`
	Version      int             `json:"version" yaml:"version"`
	LastModified time.Time       `json:"lastModified" yaml:"lastModified"`
	Status       SnapshotStatus  `json:"syncStatus" yaml:"syncStatus"`
	ServerID     string          `json:"serverId,omitempty" yaml:"serverId,omitempty"`
	Deleted      bool            `json:"deleted" yaml:"deleted"`
	UpdatedAt    time.Time       `json:"updatedAt" yaml:"updatedAt"`
}

// SyncMark - результат подтверждения изменения сервером
type SyncMark struct {
	// ServerID не меняется, если пустой
	ServerID string
	Version  int
	Status   SnapshotStatus
	// Data заменяет данные снимка; nil оставляет текущие
	Data json.RawMessage
	// Deleted заменяет признак удаления; nil оставляет текущий
	Deleted *bool
}

func (m SyncMark) apply(s *Snapshot, now time.Time) {
	s.Version = m.Version
	s.Status = m.Status
	if m.ServerID != "" {
		s.ServerID = m.ServerID
	}
	if m.Data != nil {
		s.Data = append(json.RawMessage(nil), m.Data...)
		if lm := factory.ReadHeader(m.Data).LastModified; !lm.IsZero() {
			s.LastModified = lm
		}
	}
	if m.Deleted != nil {
		s.Deleted = *m.Deleted
	}
	s.UpdatedAt = now
}

// SyncState - сохраняемая часть состояния синхронизации
type SyncState struct {
	LastSyncAttempt    *time.Time `json:"lastSyncAttempt,omitempty"`
	LastSuccessfulSync *time.Time `json:"lastSuccessfulSync,omitempty"`
}

// SnapshotStore - доступ к локальным копиям сущностей
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, typ payload.Type, uuid string) (*Snapshot, error)
	PutSnapshot(ctx context.Context, s *Snapshot) error
	ListSnapshots(ctx context.Context, typ payload.Type) ([]*Snapshot, error)
	MarkSynced(ctx context.Context, typ payload.Type, uuid string, mark SyncMark) error
}

// StateStore хранит отметки времени синхронизации между запусками
type StateStore interface {
	LoadSyncState(ctx context.Context) (SyncState, error)
	SaveSyncState(ctx context.Context, st SyncState) error
}

// Storage - локальное хранилище клиента
type Storage interface {
	SnapshotStore
	StateStore
	queue.SnapshotChecker
	conflict.LogStore
	conflict.Applier

	// Queue возвращает таблицу очереди синхронизации
	Queue() queue.Repository
	Close() error
}

var factory = payload.NewFactory()

// resolvedSnapshot готовит снимок с данными, выбранными при разрешении конфликта.
// Версия, серверный идентификатор и признак удаления берутся из существующего снимка.
func resolvedSnapshot(existing *Snapshot, p payload.Payload, now time.Time) (*Snapshot, error) {
	data, err := factory.Encode(p)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		Type:         p.Kind(),
		UUID:         p.Meta().UUID,
		Data:         data,
		LastModified: p.Meta().LastModified,
		Status:       SnapshotPending,
		UpdatedAt:    now,
	}
	if existing != nil {
		s.Version = existing.Version
		s.ServerID = existing.ServerID
		s.Deleted = existing.Deleted
		s.Status = existing.Status
	}
	return s, nil
}
