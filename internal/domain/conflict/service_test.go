package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"reliefsync/internal/domain/payload"
)

const entityUUID = "0f1e2d3c-4b5a-4978-8695-a4b3c2d1e0f9"

// MockLogStore is a mock implementation of the LogStore interface for testing
type MockLogStore struct {
	mock.Mock
}

func (m *MockLogStore) LoadConflictLogs(ctx context.Context) ([]Record, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Record), args.Error(1)
}

func (m *MockLogStore) SaveConflictLogs(ctx context.Context, records []Record) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

// MockApplier is a mock implementation of the Applier interface for testing
type MockApplier struct {
	mock.Mock
}

func (m *MockApplier) UpdateAssessment(ctx context.Context, a *payload.Assessment) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockApplier) UpdateResponse(ctx context.Context, r *payload.Response) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockApplier) UpdateEntity(ctx context.Context, e *payload.Entity) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

type fixture struct {
	resolver *Resolver
	store    *MockLogStore
	applier  *MockApplier
	now      time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:   new(MockLogStore),
		applier: new(MockApplier),
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.On("SaveConflictLogs", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.applier.On("UpdateEntity", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.applier.On("UpdateAssessment", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.applier.On("UpdateResponse", mock.Anything, mock.Anything).Return(nil).Maybe()

	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.resolver = NewResolver(f.store, f.applier, slog.Default(), opts...)
	return f
}

func entityJSON(name string, version int, modified time.Time) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"uuid":%q,"version":%d,"lastModified":%q,"entityType":"CAMP","name":%q,"lga":"Jere"}`,
		entityUUID, version, modified.Format(time.RFC3339), name,
	))
}

func TestResolver_DetectConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versions := [][2]int{{0, 0}, {-1, -1}, {3, 3}, {0, 1}, {-2, 5}, {7, 2}, {0, -1}}
	for _, v := range versions {
		rec := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, json.RawMessage(`{}`), json.RawMessage(`{}`), v[0], v[1])
		if v[0] == v[1] {
			assert.Nil(t, rec, "versions %v", v)
			continue
		}
		require.NotNil(t, rec, "versions %v", v)
		assert.False(t, rec.IsResolved)
		assert.Equal(t, StrategyLastWriteWins, rec.ResolutionStrategy)
		assert.Equal(t, fmt.Sprintf("Version mismatch: local v%d, server v%d", v[0], v[1]), rec.Metadata.ConflictReason)
		assert.NotEmpty(t, rec.ConflictID)
	}

	assert.Len(t, f.resolver.GetConflictHistory("", 0), 4)
}

func TestResolver_LastWriteWins(t *testing.T) {
	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		local      time.Time
		server     time.Time
		wantServer bool
	}{
		{name: "server newer", local: t1, server: t1.Add(time.Minute), wantServer: true},
		{name: "local newer", local: t1.Add(time.Minute), server: t1},
		{name: "equal timestamps favour local", local: t1, server: t1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			local := entityJSON("local", 1, tt.local)
			server := entityJSON("server", 2, tt.server)

			rec := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, local, server, 1, 2)
			res := f.resolver.ResolveConflict(ctx, rec, StrategyLastWriteWins, nil)

			require.True(t, res.Success, res.Error)
			if tt.wantServer {
				assert.JSONEq(t, string(server), string(res.ResolvedData))
				assert.Equal(t, WinnerServer, res.Winner)
			} else {
				assert.JSONEq(t, string(local), string(res.ResolvedData))
				assert.Equal(t, WinnerLocal, res.Winner)
			}
			assert.True(t, rec.IsResolved)
			assert.True(t, rec.Metadata.AutoResolved)
			assert.Equal(t, actorSystem, rec.ResolvedBy)
			require.NotNil(t, rec.ResolvedAt)
			assert.Equal(t, f.now, *rec.ResolvedAt)
			f.applier.AssertCalled(t, "UpdateEntity", mock.Anything, mock.Anything)
		})
	}
}

func TestResolver_ManualRequiresData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	modified := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, entityJSON("a", 1, modified), entityJSON("b", 2, modified), 1, 2)

	res := f.resolver.ResolveConflict(ctx, rec, StrategyManual, nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrManualDataRequired.Error())
	assert.False(t, rec.IsResolved)
	assert.Nil(t, rec.ResolvedData)
	assert.False(t, f.resolver.GetConflict(rec.ConflictID).IsResolved)
	f.applier.AssertNotCalled(t, "UpdateEntity", mock.Anything, mock.Anything)
}

func TestResolver_ManualResolution(t *testing.T) {
	f := newFixture(t, WithActor("field-officer"))
	ctx := context.Background()
	modified := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, entityJSON("a", 1, modified), entityJSON("b", 2, modified), 1, 2)
	manual := entityJSON("agreed", 3, modified)

	res := f.resolver.ResolveConflict(ctx, rec, StrategyManual, manual)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, WinnerManual, res.Winner)
	assert.JSONEq(t, string(manual), string(res.ResolvedData))

	stored := f.resolver.GetConflict(rec.ConflictID)
	require.NotNil(t, stored)
	assert.True(t, stored.IsResolved)
	assert.False(t, stored.Metadata.AutoResolved)
	assert.Equal(t, "field-officer", stored.ResolvedBy)
}

func TestResolver_AlreadyResolvedIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	modified := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, entityJSON("a", 1, modified), entityJSON("b", 2, modified), 1, 2)

	first := f.resolver.ResolveConflict(ctx, rec, StrategyLastWriteWins, nil)
	require.True(t, first.Success)
	resolvedAt := *rec.ResolvedAt

	f.now = f.now.Add(time.Hour)
	second := f.resolver.ResolveConflict(ctx, rec, StrategyManual, entityJSON("c", 3, modified))

	assert.False(t, second.Success)
	assert.Contains(t, second.Error, ErrAlreadyResolved.Error())
	assert.JSONEq(t, string(first.ResolvedData), string(rec.ResolvedData))
	assert.Equal(t, resolvedAt, *rec.ResolvedAt)
}

func TestResolver_UnsupportedStrategy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, json.RawMessage(`{}`), json.RawMessage(`{}`), 1, 2)

	res := f.resolver.ResolveConflict(ctx, rec, Strategy("coin_flip"), nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "coin_flip")
	assert.False(t, rec.IsResolved)
}

func TestResolver_MergeVersion(t *testing.T) {
	modified := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	pairs := [][2]int{{1, 2}, {5, 3}, {0, 1}, {-1, 4}, {10, 0}}

	for _, p := range pairs {
		t.Run(fmt.Sprintf("local %d server %d", p[0], p[1]), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			local := entityJSON("local", 0, modified)
			server := entityJSON("server", 0, modified.Add(time.Minute))

			rec := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, local, server, p[0], p[1])
			res := f.resolver.ResolveConflict(ctx, rec, StrategyMerge, nil)

			require.True(t, res.Success, res.Error)
			assert.Equal(t, WinnerMerged, res.Winner)

			var merged payload.Entity
			require.NoError(t, json.Unmarshal(res.ResolvedData, &merged))
			assert.Equal(t, max(p[0], p[1])+1, merged.Version)
			assert.Equal(t, "local", merged.Name)
			assert.True(t, merged.LastModified.Equal(modified.Add(time.Minute)))
			assert.Contains(t, merged.Fields, "_merge")
		})
	}
}

func TestShallowMerge_LocalWinsOnCollision(t *testing.T) {
	rec := &Record{
		LocalVersion:  1,
		ServerVersion: 2,
		LocalData:     json.RawMessage(`{"name":"local","lga":"Jere"}`),
		ServerData:    json.RawMessage(`{"name":"server","ward":"Gongulong","fields":{"households":40}}`),
	}

	data, err := ShallowMerge(rec, time.Now())
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "local", out["name"])
	assert.Equal(t, "Jere", out["lga"])
	assert.Equal(t, "Gongulong", out["ward"])
	fields := out["fields"].(map[string]any)
	assert.Equal(t, float64(40), fields["households"])
	assert.Contains(t, fields, "_merge")

	_, err = ShallowMerge(&Record{LocalData: json.RawMessage(`[]`), ServerData: json.RawMessage(`{}`)}, time.Now())
	assert.True(t, errors.Is(err, ErrMergeFailed))
}

func TestResolver_MergeFailureFallsBackToLastWriteWins(t *testing.T) {
	modified := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	local := entityJSON("local", 1, modified)
	server := entityJSON("server", 2, modified.Add(time.Minute))
	failing := func(*Record, time.Time) (json.RawMessage, error) {
		return nil, fmt.Errorf("%w: boom", ErrMergeFailed)
	}

	explicit := newFixture(t)
	ctx := context.Background()
	rec := explicit.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, local, server, 1, 2)
	want := explicit.resolver.ResolveConflict(ctx, rec, StrategyLastWriteWins, nil)

	fallback := newFixture(t, WithMergeFunc(failing))
	rec = fallback.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, local, server, 1, 2)
	got := fallback.resolver.ResolveConflict(ctx, rec, StrategyMerge, nil)

	require.True(t, got.Success)
	assert.Equal(t, want.ResolvedData, got.ResolvedData)
	assert.Equal(t, want.Winner, got.Winner)
	assert.Equal(t, StrategyMerge, got.Strategy)
	assert.Contains(t, got.Conflict.Metadata.Extra, "mergeFallback")
}

func TestResolver_InvalidMergeFallsBack(t *testing.T) {
	modified := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	invalid := func(*Record, time.Time) (json.RawMessage, error) {
		return json.RawMessage(`{"uuid":"broken"}`), nil
	}

	f := newFixture(t, WithMergeFunc(invalid))
	ctx := context.Background()
	rec := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, entityJSON("local", 1, modified), entityJSON("server", 2, modified), 1, 2)

	res := f.resolver.ResolveConflict(ctx, rec, StrategyMerge, nil)

	require.True(t, res.Success)
	assert.Equal(t, WinnerLocal, res.Winner)
	assert.Contains(t, rec.Metadata.Extra, "mergeFallback")
}

func TestResolver_ApplyPathPerType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assessment := json.RawMessage(`{"uuid":"` + entityUUID + `","assessmentType":"WASH","affectedEntityUuid":"` + entityUUID + `"}`)
	response := json.RawMessage(`{"uuid":"` + entityUUID + `","responseType":"FOOD","affectedEntityUuid":"` + entityUUID + `"}`)

	res := f.resolver.HandleSyncConflict(ctx, SyncConflict{
		EntityType: payload.TypeAssessment, EntityUUID: entityUUID,
		LocalData: assessment, ServerData: assessment, LocalVersion: 1, ServerVersion: 2,
	}, "")
	require.True(t, res.Success, res.Error)

	res = f.resolver.HandleSyncConflict(ctx, SyncConflict{
		EntityType: payload.TypeResponse, EntityUUID: entityUUID,
		LocalData: response, ServerData: response, LocalVersion: 1, ServerVersion: 2,
	}, "")
	require.True(t, res.Success, res.Error)

	f.applier.AssertNumberOfCalls(t, "UpdateAssessment", 1)
	f.applier.AssertNumberOfCalls(t, "UpdateResponse", 1)
	f.applier.AssertNotCalled(t, "UpdateEntity", mock.Anything, mock.Anything)
}

func TestResolver_ApplyErrorLeavesConflictUnresolved(t *testing.T) {
	store := new(MockLogStore)
	store.On("SaveConflictLogs", mock.Anything, mock.Anything).Return(nil)
	applier := new(MockApplier)
	applier.On("UpdateEntity", mock.Anything, mock.Anything).Return(errors.New("database is locked"))
	r := NewResolver(store, applier, slog.Default())
	ctx := context.Background()
	modified := time.Now()

	rec := r.DetectConflict(ctx, payload.TypeEntity, entityUUID, entityJSON("a", 1, modified), entityJSON("b", 2, modified), 1, 2)
	res := r.ResolveConflict(ctx, rec, StrategyLastWriteWins, nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "database is locked")
	assert.False(t, rec.IsResolved)
}

func TestResolver_HandleSyncConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	modified := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	res := f.resolver.HandleSyncConflict(ctx, SyncConflict{
		EntityType: payload.TypeEntity, EntityUUID: entityUUID,
		LocalData: entityJSON("a", 2, modified), ServerData: entityJSON("b", 2, modified),
		LocalVersion: 2, ServerVersion: 2,
	}, StrategyLastWriteWins)
	assert.True(t, res.Success)
	assert.Equal(t, "no conflict detected", res.Message)
	assert.Empty(t, f.resolver.GetConflictHistory("", 0))

	res = f.resolver.HandleSyncConflict(ctx, SyncConflict{
		EntityType: payload.TypeEntity, EntityUUID: entityUUID,
		LocalData: entityJSON("a", 1, modified), ServerData: entityJSON("b", 2, modified),
		LocalVersion: 1, ServerVersion: 2,
		ServerLastModified: modified.Add(time.Hour),
	}, "")
	require.True(t, res.Success)
	assert.Equal(t, WinnerServer, res.Winner)
	assert.Len(t, f.resolver.GetConflictHistory(entityUUID, 0), 1)
}

func TestResolver_HistoryCappedNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var last *Record
	for i := 0; i < 150; i++ {
		f.now = f.now.Add(time.Second)
		last = f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, json.RawMessage(`{}`), json.RawMessage(`{}`), i, i+1)
		require.LessOrEqual(t, len(f.resolver.GetConflictHistory("", 0)), HistoryLimit)
	}

	history := f.resolver.GetConflictHistory("", 0)
	require.Len(t, history, HistoryLimit)
	assert.Equal(t, last.ConflictID, history[0].ConflictID)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i-1].CreatedAt.After(history[i].CreatedAt))
	}
	assert.Equal(t, 50, history[len(history)-1].LocalVersion)
	assert.Len(t, f.resolver.GetConflictHistory("", 5), 5)
	assert.Empty(t, f.resolver.GetConflictHistory("6a7b8c9d-0e1f-4a2b-8c3d-4e5f6a7b8c9d", 0))
}

func TestResolver_GetConflictStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	modified := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		f.now = f.now.Add(time.Second)
		f.resolver.DetectConflict(ctx, payload.TypeAssessment, entityUUID, json.RawMessage(`{}`), json.RawMessage(`{}`), 0, 1)
	}
	auto := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, entityJSON("a", 1, modified), entityJSON("b", 2, modified), 1, 2)
	f.resolver.ResolveConflict(ctx, auto, "", nil)
	manual := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, entityJSON("a", 1, modified), entityJSON("b", 2, modified), 1, 2)
	f.resolver.ResolveConflict(ctx, manual, StrategyManual, entityJSON("c", 3, modified))

	stats := f.resolver.GetConflictStats()

	assert.Equal(t, 14, stats.Total)
	assert.Equal(t, 12, stats.Unresolved)
	assert.Equal(t, 1, stats.AutoResolved)
	assert.Equal(t, 1, stats.ManuallyResolved)
	assert.Equal(t, 12, stats.ByType[payload.TypeAssessment])
	assert.Equal(t, 2, stats.ByType[payload.TypeEntity])
	require.Len(t, stats.Recent, RecentLimit)
	assert.Equal(t, manual.ConflictID, stats.Recent[0].ConflictID)
}

func TestResolver_ClearOldConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, json.RawMessage(`{}`), json.RawMessage(`{}`), 0, 1)
	f.now = f.now.Add(40 * 24 * time.Hour)
	recent := f.resolver.DetectConflict(ctx, payload.TypeEntity, entityUUID, json.RawMessage(`{}`), json.RawMessage(`{}`), 0, 1)

	assert.Equal(t, 1, f.resolver.ClearOldConflicts(ctx, 0))
	assert.Nil(t, f.resolver.GetConflict(old.ConflictID))
	assert.NotNil(t, f.resolver.GetConflict(recent.ConflictID))
	assert.Equal(t, 0, f.resolver.ClearOldConflicts(ctx, 30))
}

func TestResolver_LoadRestoresHistory(t *testing.T) {
	store := new(MockLogStore)
	saved := []Record{
		{ConflictID: "c2", EntityType: payload.TypeEntity, EntityUUID: entityUUID},
		{ConflictID: "c1", EntityType: payload.TypeEntity, EntityUUID: entityUUID},
	}
	store.On("LoadConflictLogs", mock.Anything).Return(saved, nil).Once()
	store.On("LoadConflictLogs", mock.Anything).Return(nil, errors.New("no such table")).Once()
	r := NewResolver(store, new(MockApplier), slog.Default())

	require.NoError(t, r.Load(context.Background()))
	history := r.GetConflictHistory("", 0)
	require.Len(t, history, 2)
	assert.Equal(t, "c2", history[0].ConflictID)

	assert.Error(t, r.Load(context.Background()))
	assert.Len(t, r.GetConflictHistory("", 0), 2)
	store.AssertExpectations(t)
}

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies {
		got, err := ParseStrategy(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStrategy("newest")
	assert.True(t, errors.Is(err, ErrUnsupportedStrategy))
}
