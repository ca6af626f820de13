package client

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reliefsync/internal/domain/conflict"
	"reliefsync/internal/domain/payload"
	"reliefsync/internal/domain/queue"
)

const (
	campUUID  = "0f1e2d3c-4b5a-4978-8695-a4b3c2d1e0f9"
	otherUUID = "5b8f0a3e-6d2c-4d8e-9a51-0c4e2b7f1a10"
)

func campData(uuid, name string, modified time.Time) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"uuid":         uuid,
		"entityType":   "CAMP",
		"name":         name,
		"lastModified": modified.UTC().Format(time.RFC3339Nano),
	})
	return data
}

func storages(t *testing.T) map[string]Storage {
	t.Helper()

	sqlite, err := NewSQLiteStorage(MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": sqlite,
	}
}

func TestStorage_Snapshots(t *testing.T) {
	ctx := context.Background()
	modified := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetSnapshot(ctx, payload.TypeEntity, campUUID)
			assert.True(t, errors.Is(err, ErrSnapshotNotFound))

			snap := &Snapshot{
				Type:         payload.TypeEntity,
				UUID:         campUUID,
				Data:         campData(campUUID, "Bakassi", modified),
				LastModified: modified,
			}
			require.NoError(t, s.PutSnapshot(ctx, snap))

			got, err := s.GetSnapshot(ctx, payload.TypeEntity, campUUID)
			require.NoError(t, err)
			assert.Equal(t, SnapshotPending, got.Status)
			assert.Equal(t, 0, got.Version)
			assert.True(t, modified.Equal(got.LastModified))
			assert.JSONEq(t, string(snap.Data), string(got.Data))

			synced, err := s.IsSynced(ctx, payload.TypeEntity, campUUID)
			require.NoError(t, err)
			assert.False(t, synced)

			require.NoError(t, s.MarkSynced(ctx, payload.TypeEntity, campUUID, SyncMark{ServerID: "srv-1", Version: 1, Status: SnapshotSynced}))
			require.NoError(t, s.MarkSynced(ctx, payload.TypeEntity, campUUID, SyncMark{Version: 2, Status: SnapshotSynced}))

			got, err = s.GetSnapshot(ctx, payload.TypeEntity, campUUID)
			require.NoError(t, err)
			assert.Equal(t, "srv-1", got.ServerID)
			assert.Equal(t, 2, got.Version)

			synced, err = s.IsSynced(ctx, payload.TypeEntity, campUUID)
			require.NoError(t, err)
			assert.True(t, synced)

			err = s.MarkSynced(ctx, payload.TypeEntity, otherUUID, SyncMark{Version: 1})
			assert.True(t, errors.Is(err, ErrSnapshotNotFound))

			list, err := s.ListSnapshots(ctx, payload.TypeEntity)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			list, err = s.ListSnapshots(ctx, payload.TypeAssessment)
			require.NoError(t, err)
			assert.Empty(t, list)

			_, err = s.ListSnapshots(ctx, payload.Type("donor"))
			assert.True(t, errors.Is(err, payload.ErrUnknownType))
		})
	}
}

func TestStorage_MarkSyncedReplacesDataAndDeleted(t *testing.T) {
	ctx := context.Background()
	modified := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			// Arrange
			require.NoError(t, s.PutSnapshot(ctx, &Snapshot{
				Type: payload.TypeEntity, UUID: campUUID, Data: campData(campUUID, "Local", modified),
				LastModified: modified, Version: 1, Deleted: true, Status: SnapshotPending,
			}))
			later := modified.Add(time.Hour)
			restored := false

			// Act
			err := s.MarkSynced(ctx, payload.TypeEntity, campUUID, SyncMark{
				Version: 2, Status: SnapshotSynced,
				Data: campData(campUUID, "Server", later), Deleted: &restored,
			})

			// Assert
			require.NoError(t, err)
			got, err := s.GetSnapshot(ctx, payload.TypeEntity, campUUID)
			require.NoError(t, err)
			assert.False(t, got.Deleted)
			assert.Equal(t, 2, got.Version)
			assert.Contains(t, string(got.Data), `"Server"`)
			assert.True(t, later.Equal(got.LastModified))

			// без Data и Deleted снимок сохраняет текущие значения
			require.NoError(t, s.MarkSynced(ctx, payload.TypeEntity, campUUID, SyncMark{Version: 3, Status: SnapshotSynced}))
			got, err = s.GetSnapshot(ctx, payload.TypeEntity, campUUID)
			require.NoError(t, err)
			assert.False(t, got.Deleted)
			assert.Equal(t, 3, got.Version)
			assert.Contains(t, string(got.Data), `"Server"`)
		})
	}
}

func TestStorage_ApplierKeepsSyncFields(t *testing.T) {
	ctx := context.Background()
	modified := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutSnapshot(ctx, &Snapshot{
				Type: payload.TypeEntity, UUID: campUUID, Data: campData(campUUID, "Old", modified),
				Version: 4, ServerID: "srv-1", Status: SnapshotPending,
			}))

			later := modified.Add(time.Hour)
			err := s.UpdateEntity(ctx, &payload.Entity{
				Header:     payload.Header{UUID: campUUID, Version: 9, LastModified: later},
				EntityType: "CAMP",
				Name:       "New",
			})
			require.NoError(t, err)

			got, err := s.GetSnapshot(ctx, payload.TypeEntity, campUUID)
			require.NoError(t, err)
			assert.Equal(t, 4, got.Version)
			assert.Equal(t, "srv-1", got.ServerID)
			assert.True(t, later.Equal(got.LastModified))
			assert.Contains(t, string(got.Data), `"New"`)
		})
	}
}

func TestStorage_Queue(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			repo := s.Queue()

			first := &queue.Item{
				UUID: "q-1", Type: payload.TypeEntity, Action: payload.ActionCreate, EntityUUID: campUUID,
				Data: campData(campUUID, "A", ts), Priority: 5, Timestamp: ts,
			}
			second := &queue.Item{
				UUID: "q-2", Type: payload.TypeEntity, Action: payload.ActionUpdate, EntityUUID: campUUID,
				Data: campData(campUUID, "B", ts), Priority: 9, Timestamp: ts.Add(time.Second),
			}
			require.NoError(t, repo.Add(ctx, first))
			require.NoError(t, repo.Add(ctx, second))
			assert.Less(t, first.Seq, second.Seq)

			next := ts.Add(time.Minute)
			second.Attempts = 1
			second.Error = "timeout"
			second.NextRetry = &next
			ok, err := repo.Save(ctx, second)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := repo.Get(ctx, "q-2")
			require.NoError(t, err)
			assert.Equal(t, 1, got.Attempts)
			assert.Equal(t, "timeout", got.Error)
			require.NotNil(t, got.NextRetry)
			assert.True(t, next.Equal(*got.NextRetry))
			assert.Nil(t, got.LastAttempt)
			assert.Equal(t, second.Seq, got.Seq)

			items, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, items, 2)
			assert.Equal(t, "q-1", items[0].UUID)
			assert.Equal(t, "q-2", items[1].UUID)

			ok, err = repo.Remove(ctx, "q-1")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = repo.Remove(ctx, "q-1")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = repo.Save(ctx, first)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = repo.Get(ctx, "q-1")
			assert.True(t, errors.Is(err, queue.ErrNotFound))
		})
	}
}

func TestStorage_KeyValue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			records, err := s.LoadConflictLogs(ctx)
			require.NoError(t, err)
			assert.Empty(t, records)

			logs := make([]conflict.Record, conflict.HistoryLimit+5)
			for i := range logs {
				logs[i] = conflict.Record{ConflictID: string(rune('a' + i%26)), CreatedAt: now}
			}
			require.NoError(t, s.SaveConflictLogs(ctx, logs))

			records, err = s.LoadConflictLogs(ctx)
			require.NoError(t, err)
			assert.Len(t, records, conflict.HistoryLimit)

			st, err := s.LoadSyncState(ctx)
			require.NoError(t, err)
			assert.Nil(t, st.LastSyncAttempt)

			require.NoError(t, s.SaveSyncState(ctx, SyncState{LastSyncAttempt: &now, LastSuccessfulSync: &now}))
			st, err = s.LoadSyncState(ctx)
			require.NoError(t, err)
			require.NotNil(t, st.LastSuccessfulSync)
			assert.True(t, now.Equal(*st.LastSuccessfulSync))
		})
	}
}

func TestSQLiteStorage_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reliefsync.db")

	s, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.Queue().Add(ctx, &queue.Item{
		UUID: "q-1", Type: payload.TypeEntity, Action: payload.ActionCreate, EntityUUID: campUUID,
		Data: campData(campUUID, "A", time.Now()), Priority: 5, Timestamp: time.Now(),
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStorage(path)
	require.NoError(t, err)
	defer s.Close()

	items, err := s.Queue().List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
