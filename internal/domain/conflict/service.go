package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"reliefsync/internal/domain/payload"
	"reliefsync/internal/utils/ring"
)

const (
	actorSystem = "system"
	actorUser   = "user"
)

// Resolver обнаруживает и разрешает конфликты версий, ведет журнал последних конфликтов.
type Resolver struct {
	store   LogStore
	applier Applier
	factory *payload.Factory
	log     *slog.Logger

	merge MergeFunc
	now   func() time.Time
	actor string

	mu      sync.Mutex
	history *ring.Buffer[Record]
}

// Option настраивает Resolver
type Option func(*Resolver)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithMergeFunc подменяет алгоритм объединения версий
func WithMergeFunc(fn MergeFunc) Option {
	return func(r *Resolver) { r.merge = fn }
}

// WithActor задает, кем помечаются конфликты, разрешенные вручную
func WithActor(actor string) Option {
	return func(r *Resolver) { r.actor = actor }
}

// NewResolver создает сервис разрешения конфликтов
func NewResolver(store LogStore, applier Applier, log *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		applier: applier,
		factory: payload.NewFactory(),
		log:     log.With("component", "conflict_resolver"),
		merge:   ShallowMerge,
		now:     time.Now,
		actor:   actorUser,
		history: ring.New[Record](HistoryLimit),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load восстанавливает журнал из хранилища
func (r *Resolver) Load(ctx context.Context) error {
	records, err := r.store.LoadConflictLogs(ctx)
	if err != nil {
		r.log.Error("failed to load conflict logs", "error", err)
		return fmt.Errorf("load conflict logs: %w", err)
	}

	r.mu.Lock()
	r.history.Reset(records)
	r.mu.Unlock()
	return nil
}

// DetectConflict возвращает nil, если версии совпадают. Иначе создает запись
// конфликта со стратегией last_write_wins и добавляет ее в журнал.
func (r *Resolver) DetectConflict(
	ctx context.Context,
	entityType payload.Type,
	entityUUID string,
	localData, serverData json.RawMessage,
	localVersion, serverVersion int,
) *Record {
	if localVersion == serverVersion {
		return nil
	}

	rec := &Record{
		ConflictID:         uuid.NewString(),
		EntityType:         entityType,
		EntityUUID:         entityUUID,
		LocalVersion:       localVersion,
		ServerVersion:      serverVersion,
		LocalData:          localData,
		ServerData:         serverData,
		ResolutionStrategy: StrategyLastWriteWins,
		CreatedAt:          r.now().UTC(),
		Metadata: Metadata{
			LocalLastModified:  r.factory.ReadHeader(localData).LastModified,
			ServerLastModified: r.factory.ReadHeader(serverData).LastModified,
			ConflictReason:     fmt.Sprintf("Version mismatch: local v%d, server v%d", localVersion, serverVersion),
		},
	}

	r.log.Warn("version conflict detected",
		"conflict_id", rec.ConflictID,
		"entity_type", entityType,
		"entity_uuid", entityUUID,
		"local_version", localVersion,
		"server_version", serverVersion,
	)

	r.record(ctx, rec)
	return rec
}

// ResolveConflict разрешает конфликт указанной стратегией.
// Пустая стратегия означает стратегию самого конфликта.
// При успехе итоговые данные записываются в локальное хранилище, а запись в журнале
// помечается разрешенной; при неудаче конфликт остается нетронутым.
func (r *Resolver) ResolveConflict(ctx context.Context, rec *Record, strategy Strategy, manualData json.RawMessage) Result {
	if rec == nil {
		return failure(strategy, ErrNotFound)
	}
	if rec.IsResolved {
		return failure(strategy, fmt.Errorf("%w: %s", ErrAlreadyResolved, rec.ConflictID))
	}
	if strategy == "" {
		strategy = rec.ResolutionStrategy
	}
	if strategy == "" {
		strategy = StrategyLastWriteWins
	}

	var (
		data   json.RawMessage
		winner Winner
		extra  map[string]any
	)

	switch strategy {
	case StrategyLastWriteWins:
		data, winner = lastWriteWins(rec)
	case StrategyManual:
		if isEmpty(manualData) {
			return failure(strategy, ErrManualDataRequired)
		}
		data, winner = manualData, WinnerManual
	case StrategyMerge:
		merged, err := r.mergeValidated(rec)
		if err != nil {
			r.log.Warn("merge failed, falling back to last_write_wins", "conflict_id", rec.ConflictID, "error", err)
			data, winner = lastWriteWins(rec)
			extra = map[string]any{"mergeFallback": err.Error()}
		} else {
			data, winner = merged, WinnerMerged
		}
	default:
		return failure(strategy, fmt.Errorf("%w: %s", ErrUnsupportedStrategy, strategy))
	}

	if err := r.apply(ctx, rec.EntityType, data); err != nil {
		r.log.Error("failed to apply resolved data",
			"conflict_id", rec.ConflictID,
			"entity_type", rec.EntityType,
			"error", err,
		)
		return failure(strategy, err)
	}

	resolvedAt := r.now().UTC()
	rec.ResolutionStrategy = strategy
	rec.ResolvedData = data
	rec.IsResolved = true
	rec.ResolvedAt = &resolvedAt
	rec.Metadata.AutoResolved = strategy != StrategyManual
	rec.ResolvedBy = actorSystem
	if strategy == StrategyManual {
		rec.ResolvedBy = r.actor
	}
	for k, v := range extra {
		if rec.Metadata.Extra == nil {
			rec.Metadata.Extra = map[string]any{}
		}
		rec.Metadata.Extra[k] = v
	}

	r.record(ctx, rec)

	r.log.Info("conflict resolved",
		"conflict_id", rec.ConflictID,
		"strategy", strategy,
		"winner", winner,
	)

	resolved := rec.clone()
	return Result{
		Success:      true,
		Conflict:     &resolved,
		ResolvedData: data,
		Strategy:     strategy,
		Winner:       winner,
	}
}

// HandleSyncConflict обнаруживает и сразу разрешает конфликт, о котором сообщил сервер.
// Совпадающие версии считаются успехом без конфликта.
func (r *Resolver) HandleSyncConflict(ctx context.Context, c SyncConflict, strategy Strategy) Result {
	if strategy == "" {
		strategy = StrategyLastWriteWins
	}

	rec := r.DetectConflict(ctx, c.EntityType, c.EntityUUID, c.LocalData, c.ServerData, c.LocalVersion, c.ServerVersion)
	if rec == nil {
		return Result{Success: true, Strategy: strategy, Winner: WinnerLocal, Message: "no conflict detected"}
	}
	if !c.ServerLastModified.IsZero() {
		rec.Metadata.ServerLastModified = c.ServerLastModified
	}

	return r.ResolveConflict(ctx, rec, strategy, nil)
}

// GetConflict ищет конфликт в журнале
func (r *Resolver) GetConflict(id string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.history.Items() {
		if rec.ConflictID == id {
			cp := rec.clone()
			return &cp
		}
	}
	return nil
}

// GetConflictHistory возвращает журнал от новых к старым.
// Пустой entityUUID - все сущности, limit <= 0 - без ограничения.
func (r *Resolver) GetConflictHistory(entityUUID string, limit int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, r.history.Len())
	for _, rec := range r.history.Items() {
		if entityUUID != "" && rec.EntityUUID != entityUUID {
			continue
		}
		out = append(out, rec.clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// GetConflictStats считает сводку по журналу
func (r *Resolver) GetConflictStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		ByType: map[payload.Type]int{},
		Recent: []Record{},
	}
	for _, rec := range r.history.Items() {
		stats.Total++
		stats.ByType[rec.EntityType]++
		switch {
		case !rec.IsResolved:
			stats.Unresolved++
		case rec.Metadata.AutoResolved:
			stats.AutoResolved++
		default:
			stats.ManuallyResolved++
		}
		if len(stats.Recent) < RecentLimit {
			stats.Recent = append(stats.Recent, rec.clone())
		}
	}
	return stats
}

// ClearOldConflicts удаляет записи старше olderThanDays дней (по умолчанию 30)
func (r *Resolver) ClearOldConflicts(ctx context.Context, olderThanDays int) int {
	if olderThanDays <= 0 {
		olderThanDays = DefaultRetentionDays
	}
	cutoff := r.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	r.mu.Lock()
	removed := r.history.RemoveFunc(func(rec Record) bool { return rec.CreatedAt.Before(cutoff) })
	snapshot := r.history.Items()
	r.mu.Unlock()

	if removed > 0 {
		r.persist(ctx, snapshot)
		r.log.Info("old conflicts cleared", "count", removed, "older_than_days", olderThanDays)
	}
	return removed
}

func (r *Resolver) mergeValidated(rec *Record) (json.RawMessage, error) {
	merged, err := r.merge(rec, r.now())
	if err != nil {
		return nil, err
	}
	if err := r.factory.Validate(rec.EntityType, merged); err != nil {
		return nil, fmt.Errorf("%w: merged data is invalid: %v", ErrMergeFailed, err)
	}
	return merged, nil
}

func (r *Resolver) apply(ctx context.Context, typ payload.Type, data json.RawMessage) error {
	p, err := r.factory.Parse(typ, data)
	if err != nil {
		return err
	}

	switch v := p.(type) {
	case *payload.Assessment:
		return r.applier.UpdateAssessment(ctx, v)
	case *payload.Response:
		return r.applier.UpdateResponse(ctx, v)
	case *payload.Entity:
		return r.applier.UpdateEntity(ctx, v)
	default:
		return fmt.Errorf("%w: %s", payload.ErrUnknownType, typ)
	}
}

// record добавляет запись в журнал или обновляет существующую и сохраняет журнал
func (r *Resolver) record(ctx context.Context, rec *Record) {
	cp := rec.clone()

	r.mu.Lock()
	updated := r.history.Update(
		func(existing Record) bool { return existing.ConflictID == cp.ConflictID },
		func(Record) Record { return cp },
	)
	if !updated {
		r.history.Push(cp)
	}
	snapshot := r.history.Items()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
}

func (r *Resolver) persist(ctx context.Context, records []Record) {
	if err := r.store.SaveConflictLogs(ctx, records); err != nil {
		r.log.Error("failed to save conflict logs", "error", err)
	}
}

// lastWriteWins выбирает версию с более поздним lastModified, при равенстве - локальную
func lastWriteWins(rec *Record) (json.RawMessage, Winner) {
	if rec.Metadata.ServerLastModified.After(rec.Metadata.LocalLastModified) {
		return rec.ServerData, WinnerServer
	}
	return rec.LocalData, WinnerLocal
}

func failure(strategy Strategy, err error) Result {
	return Result{Success: false, Strategy: strategy, Error: err.Error()}
}

func isEmpty(data json.RawMessage) bool {
	s := string(data)
	return len(data) == 0 || s == "null"
}
