package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"reliefsync/internal/domain/payload"
)

const (
	campUUID  = "0f1e2d3c-4b5a-4978-8695-a4b3c2d1e0f9"
	otherUUID = "6a7b8c9d-0e1f-4a2b-8c3d-4e5f6a7b8c9d"
)

// MockRepository is a mock implementation of the Repository interface for testing
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context, typ payload.Type, id string) (*StoredEntity, error) {
	args := m.Called(ctx, typ, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StoredEntity), args.Error(1)
}

func (m *MockRepository) Create(ctx context.Context, e *StoredEntity) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockRepository) UpdateIfVersion(ctx context.Context, e *StoredEntity, expected int) (bool, error) {
	args := m.Called(ctx, e, expected)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) DeleteIfVersion(ctx context.Context, e *StoredEntity, expected int) (bool, error) {
	args := m.Called(ctx, e, expected)
	return args.Bool(0), args.Error(1)
}

// memoryRepository ведет себя как таблица с оптимистичной блокировкой
type memoryRepository struct {
	rows map[string]StoredEntity
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{rows: make(map[string]StoredEntity)}
}

func (r *memoryRepository) key(typ payload.Type, id string) string { return string(typ) + "/" + id }

func (r *memoryRepository) Get(_ context.Context, typ payload.Type, id string) (*StoredEntity, error) {
	e, ok := r.rows[r.key(typ, id)]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return &e, nil
}

func (r *memoryRepository) Create(_ context.Context, e *StoredEntity) error {
	if _, ok := r.rows[r.key(e.Type, e.UUID)]; ok {
		return ErrEntityExists
	}
	r.rows[r.key(e.Type, e.UUID)] = *e
	return nil
}

func (r *memoryRepository) UpdateIfVersion(_ context.Context, e *StoredEntity, expected int) (bool, error) {
	cur, ok := r.rows[r.key(e.Type, e.UUID)]
	if !ok || cur.Version != expected {
		return false, nil
	}
	r.rows[r.key(e.Type, e.UUID)] = *e
	return true, nil
}

func (r *memoryRepository) DeleteIfVersion(ctx context.Context, e *StoredEntity, expected int) (bool, error) {
	return r.UpdateIfVersion(ctx, e, expected)
}

func camp(name string, version int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"uuid":%q,"version":%d,"entityType":"CAMP","name":%q}`, campUUID, version, name))
}

func change(action payload.Action, data json.RawMessage, version int, offlineID string) Change {
	return Change{
		Type:          payload.TypeEntity,
		Action:        action,
		Data:          data,
		OfflineID:     offlineID,
		VersionNumber: version,
		EntityUUID:    campUUID,
	}
}

func newTestService(repo Repository) *Service {
	return NewService(repo, slog.Default(), nil)
}

func TestService_ApplyBatchCreateUpdateDelete(t *testing.T) {
	repo := newMemoryRepository()
	s := newTestService(repo)

	resp, err := s.ApplyBatch(context.Background(), BatchRequest{Changes: []Change{
		change(payload.ActionCreate, camp("Dalori", 0), 0, "q1"),
		change(payload.ActionUpdate, camp("Dalori I", 0), 1, "q2"),
		change(payload.ActionDelete, json.RawMessage(`{"uuid":"`+campUUID+`"}`), 2, ""),
	}})

	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	for _, r := range resp.Results {
		assert.Equal(t, StatusSuccess, r.Status, r.Error)
	}
	assert.Equal(t, "q1", resp.Results[0].OfflineID)
	assert.Equal(t, "q2", resp.Results[1].OfflineID)
	assert.Equal(t, "", resp.Results[2].OfflineID)
	assert.Equal(t, []int{1, 2, 3}, []int{resp.Results[0].Version, resp.Results[1].Version, resp.Results[2].Version})
	assert.NotEmpty(t, resp.Results[0].ServerID)
	assert.Equal(t, resp.Results[0].ServerID, resp.Results[1].ServerID)

	stored, err := repo.Get(context.Background(), payload.TypeEntity, campUUID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
	assert.Equal(t, 3, stored.Version)
}

func TestService_ApplyBatchConflictReportsDeletedCopy(t *testing.T) {
	repo := newMemoryRepository()
	s := newTestService(repo)
	ctx := context.Background()

	_, err := s.ApplyBatch(ctx, BatchRequest{Changes: []Change{
		change(payload.ActionCreate, camp("Dalori", 0), 0, "q1"),
		change(payload.ActionDelete, camp("Dalori", 0), 1, "q2"),
	}})
	require.NoError(t, err)

	resp, err := s.ApplyBatch(ctx, BatchRequest{Changes: []Change{
		change(payload.ActionCreate, camp("Dalori again", 0), 0, "q3"),
	}})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	res := resp.Results[0]
	assert.Equal(t, StatusConflict, res.Status)
	require.NotNil(t, res.ConflictData)
	assert.True(t, res.ConflictData.Deleted)
	assert.Equal(t, 2, res.ConflictData.ServerVersion)
}

func TestService_ApplyBatchStampsServerVersion(t *testing.T) {
	repo := newMemoryRepository()
	s := newTestService(repo)

	_, err := s.ApplyBatch(context.Background(), BatchRequest{Changes: []Change{
		change(payload.ActionCreate, camp("Dalori", 0), 0, "q1"),
	}})
	require.NoError(t, err)

	stored, _ := repo.Get(context.Background(), payload.TypeEntity, campUUID)
	var data payload.Entity
	require.NoError(t, json.Unmarshal(stored.Data, &data))
	assert.Equal(t, 1, data.Version)
}

func TestService_ApplyBatchConflicts(t *testing.T) {
	repo := newMemoryRepository()
	s := newTestService(repo)
	ctx := context.Background()

	_, err := s.ApplyBatch(ctx, BatchRequest{Changes: []Change{
		change(payload.ActionCreate, camp("Dalori", 0), 0, "seed"),
		change(payload.ActionUpdate, camp("Dalori II", 1), 1, "seed2"),
	}})
	require.NoError(t, err)

	tests := []struct {
		name   string
		change Change
	}{
		{name: "create of existing entity", change: change(payload.ActionCreate, camp("Other", 0), 0, "c1")},
		{name: "stale update", change: change(payload.ActionUpdate, camp("Stale", 1), 1, "c2")},
		{name: "stale delete", change: change(payload.ActionDelete, json.RawMessage(`{}`), 0, "c3")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.ApplyBatch(ctx, BatchRequest{Changes: []Change{tt.change}})

			require.NoError(t, err)
			res := resp.Results[0]
			assert.Equal(t, StatusConflict, res.Status)
			assert.Equal(t, tt.change.OfflineID, res.OfflineID)
			require.NotNil(t, res.ConflictData)
			assert.Equal(t, 2, res.ConflictData.ServerVersion)
			assert.Contains(t, string(res.ConflictData.Data), "Dalori II")
		})
	}
}

func TestService_ApplyBatchIdempotentReplay(t *testing.T) {
	repo := newMemoryRepository()
	s := newTestService(repo)
	ctx := context.Background()
	req := BatchRequest{Changes: []Change{
		change(payload.ActionCreate, camp("Dalori", 0), 0, "q1"),
		change(payload.ActionUpdate, camp("Dalori I", 0), 1, "q2"),
	}}

	first, err := s.ApplyBatch(ctx, req)
	require.NoError(t, err)

	second, err := s.ApplyBatch(ctx, req)
	require.NoError(t, err)

	// повтор последнего изменения подтверждается, более ранние уже перекрыты и дают конфликт
	assert.Equal(t, StatusConflict, second.Results[0].Status)
	assert.Equal(t, StatusFailed, second.Results[1].Status)

	replay, err := s.ApplyBatch(ctx, BatchRequest{Changes: req.Changes[1:]})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, replay.Results[0].Status)
	assert.Equal(t, first.Results[1].Version, replay.Results[0].Version)

	stored, _ := repo.Get(ctx, payload.TypeEntity, campUUID)
	assert.Equal(t, 2, stored.Version)
}

func TestService_ApplyBatchBlocksAfterFailure(t *testing.T) {
	repo := newMemoryRepository()
	s := newTestService(repo)
	other := json.RawMessage(`{"uuid":"` + otherUUID + `","entityType":"COMMUNITY","name":"Gwoza"}`)

	resp, err := s.ApplyBatch(context.Background(), BatchRequest{Changes: []Change{
		change(payload.ActionUpdate, camp("Missing", 0), 0, "q1"),
		{Type: payload.TypeEntity, Action: payload.ActionCreate, Data: other, OfflineID: "q2", EntityUUID: otherUUID},
		change(payload.ActionUpdate, camp("Missing", 0), 1, "q3"),
	}})

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, resp.Results[0].Status)
	assert.Equal(t, ErrEntityNotFound.Error(), resp.Results[0].Error)
	assert.Equal(t, StatusSuccess, resp.Results[1].Status)
	assert.Equal(t, StatusFailed, resp.Results[2].Status)
	assert.Equal(t, PrecedingFailedMessage, resp.Results[2].Error)
}

func TestService_ApplyBatchValidation(t *testing.T) {
	s := newTestService(newMemoryRepository())

	tooMany := make([]Change, MaxChanges+1)
	for i := range tooMany {
		tooMany[i] = change(payload.ActionCreate, camp("Dalori", 0), 0, "")
	}

	tests := []struct {
		name    string
		changes []Change
	}{
		{name: "empty batch", changes: nil},
		{name: "more than 100 changes", changes: tooMany},
		{name: "unknown type", changes: []Change{{Type: "donor", Action: payload.ActionCreate, Data: camp("x", 0), EntityUUID: campUUID}}},
		{name: "unknown action", changes: []Change{{Type: payload.TypeEntity, Action: "upsert", Data: camp("x", 0), EntityUUID: campUUID}}},
		{name: "bad entity uuid", changes: []Change{{Type: payload.TypeEntity, Action: payload.ActionCreate, Data: camp("x", 0), EntityUUID: "camp-1"}}},
		{name: "negative version", changes: []Change{change(payload.ActionUpdate, camp("x", 0), -1, "")}},
		{name: "null data", changes: []Change{change(payload.ActionDelete, json.RawMessage(`null`), 0, "")}},
		{name: "invalid payload", changes: []Change{change(payload.ActionCreate, json.RawMessage(`{"uuid":"`+campUUID+`"}`), 0, "")}},
		{name: "uuid mismatch", changes: []Change{{Type: payload.TypeEntity, Action: payload.ActionCreate, Data: camp("x", 0), EntityUUID: otherUUID}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.ApplyBatch(context.Background(), BatchRequest{Changes: tt.changes})

			assert.Nil(t, resp)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestService_ApplyBatchRepositoryError(t *testing.T) {
	repo := new(MockRepository)
	s := newTestService(repo)
	repo.On("Get", mock.Anything, payload.TypeEntity, campUUID).Return(nil, errors.New("connection refused"))

	resp, err := s.ApplyBatch(context.Background(), BatchRequest{Changes: []Change{
		change(payload.ActionCreate, camp("Dalori", 0), 0, "q1"),
	}})

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, resp.Results[0].Status)
	assert.Equal(t, "internal error", resp.Results[0].Error)
	repo.AssertExpectations(t)
}

func TestService_ApplyBatchLostRace(t *testing.T) {
	repo := new(MockRepository)
	s := newTestService(repo)
	stored := &StoredEntity{ServerID: "srv-1", Type: payload.TypeEntity, UUID: campUUID, Data: camp("Dalori", 1), Version: 1}
	winner := &StoredEntity{ServerID: "srv-1", Type: payload.TypeEntity, UUID: campUUID, Data: camp("Winner", 2), Version: 2}

	repo.On("Get", mock.Anything, payload.TypeEntity, campUUID).Return(stored, nil).Once()
	repo.On("UpdateIfVersion", mock.Anything, mock.Anything, 1).Return(false, nil)
	repo.On("Get", mock.Anything, payload.TypeEntity, campUUID).Return(winner, nil).Once()

	resp, err := s.ApplyBatch(context.Background(), BatchRequest{Changes: []Change{
		change(payload.ActionUpdate, camp("Mine", 1), 1, "q1"),
	}})

	require.NoError(t, err)
	assert.Equal(t, StatusConflict, resp.Results[0].Status)
	assert.Equal(t, 2, resp.Results[0].ConflictData.ServerVersion)
	repo.AssertExpectations(t)
}
