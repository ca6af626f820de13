package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"reliefsync/internal/domain/conflict"
	"reliefsync/internal/domain/payload"
	"reliefsync/internal/domain/queue"
	"reliefsync/internal/domain/sync"
)

// Outcome - итог обработки одного элемента очереди
type Outcome struct {
	QueueUUID  string          `json:"queueUuid" yaml:"queueUuid"`
	Type       payload.Type    `json:"type" yaml:"type"`
	Action     payload.Action  `json:"action" yaml:"action"`
	EntityUUID string          `json:"entityUuid" yaml:"entityUuid"`
	ServerID   string          `json:"serverId,omitempty" yaml:"serverId,omitempty"`
	Version    int             `json:"version,omitempty" yaml:"version,omitempty"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
	ConflictID string          `json:"conflictId,omitempty" yaml:"conflictId,omitempty"`
	Winner     conflict.Winner `json:"winner,omitempty" yaml:"winner,omitempty"`
}

// BatchResult - итог одного прохода синхронизации
type BatchResult struct {
	Successful []Outcome `json:"successful" yaml:"successful"`
	Failed     []Outcome `json:"failed" yaml:"failed"`
	Conflicts  []Outcome `json:"conflicts" yaml:"conflicts"`
	// Deferred - изменения, не примененные из-за неудачи предыдущего изменения той же сущности
	Deferred []Outcome `json:"deferred,omitempty" yaml:"deferred,omitempty"`
}

func newBatchResult() *BatchResult {
	return &BatchResult{Successful: []Outcome{}, Failed: []Outcome{}, Conflicts: []Outcome{}}
}

// Syncer выполняет один проход синхронизации
type Syncer interface {
	SyncPending(ctx context.Context) (*BatchResult, error)
}

// EngineConfig - параметры отправки очереди
type EngineConfig struct {
	BatchSize      int
	Strategy       conflict.Strategy
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Engine отправляет очередь на сервер и разбирает результаты
type Engine struct {
	queue     *queue.Manager
	resolver  *conflict.Resolver
	remote    Remote
	snapshots SnapshotStore
	log       *slog.Logger
	cfg       EngineConfig
	now       func() time.Time
}

func NewEngine(
	q *queue.Manager,
	resolver *conflict.Resolver,
	remote Remote,
	snapshots SnapshotStore,
	log *slog.Logger,
	cfg EngineConfig,
) *Engine {
	if cfg.BatchSize <= 0 || cfg.BatchSize > queue.MaxBatchSize {
		cfg.BatchSize = queue.MaxBatchSize
	}
	if cfg.Strategy == "" {
		cfg.Strategy = conflict.StrategyLastWriteWins
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}

	return &Engine{
		queue:     q,
		resolver:  resolver,
		remote:    remote,
		snapshots: snapshots,
		log:       log.With("component", "sync_engine"),
		cfg:       cfg,
		now:       time.Now,
	}
}

// SyncPending отправляет очередной пакет.
// Ошибка транспорта считается неудачей всего пакета: каждый отправленный элемент
// планируется на повтор, а ошибка возвращается вызывающему.
func (e *Engine) SyncPending(ctx context.Context) (*BatchResult, error) {
	result := newBatchResult()

	batch := e.queue.NextBatch(ctx, e.cfg.BatchSize)
	if len(batch) == 0 {
		e.log.Debug("nothing to sync")
		return result, nil
	}

	changes := e.buildChanges(ctx, batch)

	e.log.Info("dispatching batch", "changes", len(changes))
	resp, err := e.remote.ApplyBatch(ctx, sync.BatchRequest{Changes: changes})
	if err == nil && len(resp.Results) != len(batch) {
		err = fmt.Errorf("got %d results for %d changes", len(resp.Results), len(batch))
	}
	if err != nil {
		for _, entry := range batch {
			e.retry(ctx, entry, err.Error())
			result.Failed = append(result.Failed, outcome(entry, err.Error()))
		}
		return result, fmt.Errorf("dispatch batch: %w", err)
	}

	for i, entry := range batch {
		res := resp.Results[i]
		if res.OfflineID != entry.UUID {
			e.log.Warn("result does not match change", "offline_id", res.OfflineID, "queue_uuid", entry.UUID)
		}

		switch res.Status {
		case sync.StatusSuccess:
			e.succeed(ctx, entry, res, result)
		case sync.StatusConflict:
			e.conflicted(ctx, entry, changes[i], res, result)
		default:
			if res.Error == sync.PrecedingFailedMessage {
				result.Deferred = append(result.Deferred, outcome(entry, res.Error))
				continue
			}
			msg := res.Error
			if msg == "" {
				msg = "server rejected change"
			}
			e.retry(ctx, entry, msg)
			result.Failed = append(result.Failed, outcome(entry, msg))
		}
	}

	e.log.Info("batch processed",
		"successful", len(result.Successful),
		"failed", len(result.Failed),
		"conflicts", len(result.Conflicts),
		"deferred", len(result.Deferred),
	)
	return result, nil
}

// buildChanges нумерует версии: первое изменение сущности опирается на версию
// локального снимка, каждое следующее - на результат предыдущего.
func (e *Engine) buildChanges(ctx context.Context, batch []queue.Entry) []sync.Change {
	versions := make(map[string]int)
	changes := make([]sync.Change, 0, len(batch))

	for _, entry := range batch {
		key := entityKey(entry.Type, entry.EntityUUID)
		version, ok := versions[key]
		if !ok {
			version = e.baseVersion(ctx, entry)
		}
		versions[key] = version + 1

		changes = append(changes, sync.Change{
			Type:          entry.Type,
			Action:        entry.Action,
			Data:          entry.Data,
			OfflineID:     entry.UUID,
			VersionNumber: version,
			EntityUUID:    entry.EntityUUID,
		})
	}
	return changes
}

func (e *Engine) baseVersion(ctx context.Context, entry queue.Entry) int {
	snap, err := e.snapshots.GetSnapshot(ctx, entry.Type, entry.EntityUUID)
	if err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			e.log.Warn("failed to read snapshot version", "type", entry.Type, "entity_uuid", entry.EntityUUID, "error", err)
		}
		return 0
	}
	return snap.Version
}

func (e *Engine) succeed(ctx context.Context, entry queue.Entry, res sync.ChangeResult, result *BatchResult) {
	e.queue.RemoveItem(ctx, entry.UUID)
	e.settle(ctx, entry, SyncMark{
		ServerID: res.ServerID,
		Version:  res.Version,
		Data:     entry.Data,
		Deleted:  deletedFlag(entry.Action == payload.ActionDelete),
	})

	o := outcome(entry, "")
	o.ServerID = res.ServerID
	o.Version = res.Version
	result.Successful = append(result.Successful, o)
}

func (e *Engine) conflicted(ctx context.Context, entry queue.Entry, ch sync.Change, res sync.ChangeResult, result *BatchResult) {
	if res.ConflictData == nil {
		msg := "conflict reported without server data"
		e.retry(ctx, entry, msg)
		result.Failed = append(result.Failed, outcome(entry, msg))
		return
	}

	cd := res.ConflictData
	resolved := e.resolver.HandleSyncConflict(ctx, conflict.SyncConflict{
		EntityType:         entry.Type,
		EntityUUID:         entry.EntityUUID,
		LocalData:          entry.Data,
		ServerData:         cd.Data,
		LocalVersion:       ch.VersionNumber,
		ServerVersion:      cd.ServerVersion,
		ServerLastModified: cd.LastModified,
	}, e.cfg.Strategy)

	o := outcome(entry, resolved.Error)
	o.ServerID = res.ServerID
	o.Version = cd.ServerVersion
	o.Winner = resolved.Winner
	if resolved.Conflict != nil {
		o.ConflictID = resolved.Conflict.ConflictID
	}
	result.Conflicts = append(result.Conflicts, o)

	if !resolved.Success {
		e.retry(ctx, entry, "conflict unresolved: "+resolved.Error)
		return
	}

	switch resolved.Winner {
	case conflict.WinnerServer:
		// снимок принимает серверную копию целиком, включая признак удаления
		e.queue.RemoveItem(ctx, entry.UUID)
		e.settle(ctx, entry, SyncMark{
			ServerID: res.ServerID,
			Version:  cd.ServerVersion,
			Data:     cd.Data,
			Deleted:  deletedFlag(cd.Deleted),
		})
	default:
		e.rebase(ctx, entry, resolved, res.ServerID, cd.ServerVersion)
	}
}

// rebase переносит локальное изменение поверх серверной версии, оно уйдет следующим проходом
func (e *Engine) rebase(ctx context.Context, entry queue.Entry, resolved conflict.Result, serverID string, serverVersion int) {
	patch := queue.Patch{}
	data := entry.Data
	if len(resolved.ResolvedData) > 0 {
		patch.Data = resolved.ResolvedData
		data = resolved.ResolvedData
	}
	if entry.Action == payload.ActionCreate {
		update := payload.ActionUpdate
		patch.Action = &update
	}
	if !e.queue.UpdateItem(ctx, entry.UUID, patch) {
		e.log.Warn("failed to rebase queue item", "queue_uuid", entry.UUID)
	}

	mark := SyncMark{
		ServerID: serverID,
		Version:  serverVersion,
		Status:   SnapshotPending,
		Data:     data,
		Deleted:  deletedFlag(entry.Action == payload.ActionDelete),
	}
	// резолвер записал в снимок данные этого элемента, а более поздние правки еще в очереди
	if last, ok := e.latestPending(ctx, entry); ok {
		mark.Data = last.Data
		mark.Deleted = deletedFlag(last.Action == payload.ActionDelete)
	}
	if err := e.snapshots.MarkSynced(ctx, entry.Type, entry.EntityUUID, mark); err != nil {
		e.log.Warn("failed to update snapshot version", "entity_uuid", entry.EntityUUID, "error", err)
	}
}

// settle записывает подтвержденную сервером версию и данные. Снимок считается
// синхронизированным, только если в очереди не осталось других изменений этой сущности,
// иначе в нем остается самая поздняя из них.
func (e *Engine) settle(ctx context.Context, entry queue.Entry, mark SyncMark) {
	mark.Status = SnapshotSynced
	if last, ok := e.latestPending(ctx, entry); ok {
		mark.Status = SnapshotPending
		mark.Data = last.Data
		mark.Deleted = deletedFlag(last.Action == payload.ActionDelete)
	}

	if err := e.snapshots.MarkSynced(ctx, entry.Type, entry.EntityUUID, mark); err != nil {
		e.log.Warn("failed to mark snapshot synced", "entity_uuid", entry.EntityUUID, "error", err)
	}
}

// latestPending возвращает последнее поставленное в очередь изменение той же сущности,
// не считая самого entry
func (e *Engine) latestPending(ctx context.Context, entry queue.Entry) (queue.Entry, bool) {
	var (
		last  queue.Entry
		found bool
	)
	for _, other := range e.queue.GetItems(ctx, queue.Filter{Type: entry.Type}) {
		if other.EntityUUID != entry.EntityUUID || other.UUID == entry.UUID {
			continue
		}
		if !found || other.Seq > last.Seq {
			last, found = other, true
		}
	}
	return last, found
}

func (e *Engine) retry(ctx context.Context, entry queue.Entry, msg string) {
	delay := queue.Backoff(entry.Attempts+1, e.cfg.RetryBaseDelay, e.cfg.RetryMaxDelay)
	if !e.queue.MarkAsRetrying(ctx, entry.UUID, e.now().Add(delay), msg) {
		e.log.Warn("failed to schedule retry", "queue_uuid", entry.UUID)
	}
}

func outcome(entry queue.Entry, errMsg string) Outcome {
	return Outcome{
		QueueUUID:  entry.UUID,
		Type:       entry.Type,
		Action:     entry.Action,
		EntityUUID: entry.EntityUUID,
		Error:      errMsg,
	}
}

func deletedFlag(v bool) *bool { return &v }

func entityKey(typ payload.Type, uuid string) string {
	return string(typ) + "/" + uuid
}
