package client

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"reliefsync/internal/app/client/config"
	"reliefsync/internal/domain/conflict"
	"reliefsync/internal/domain/payload"
	"reliefsync/internal/domain/queue"
)

// Options позволяет подменить зависимости клиента
type Options struct {
	// Offline отключает обращения к серверу
	Offline      bool
	Storage      Storage
	Remote       Remote
	Connectivity Connectivity
}

type App struct {
	config   *config.Config
	log      *slog.Logger
	storage  Storage
	remote   Remote
	queue    *queue.Manager
	resolver *conflict.Resolver
	engine   *Engine
	store    *SyncStore
	conn     Connectivity
	monitor  *ConnectivityMonitor
	now      func() time.Time
	wg       gosync.WaitGroup
}

func New(cfg *config.Config, log *slog.Logger, opts Options) (*App, error) {
	strategy, err := conflict.ParseStrategy(cfg.ConflictStrategy)
	if err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}

	// Инициализируем локальное хранилище (используем SQLite)
	storage := opts.Storage
	if storage == nil {
		if err := cfg.EnsureDirs(); err != nil {
			return nil, err
		}
		sqliteStorage, err := NewSQLiteStorage(cfg.DataPath)
		if err != nil {
			log.Warn("Не удалось инициализировать SQLite, используем память", "error", err)
			storage = NewMemoryStorage()
		} else {
			storage = sqliteStorage
		}
	}

	remote := opts.Remote
	if remote == nil {
		remote = NewHTTPClient(cfg, log)
	}

	app := &App{
		config:  cfg,
		log:     log,
		storage: storage,
		remote:  remote,
		now:     time.Now,
	}

	switch {
	case opts.Connectivity != nil:
		app.conn = opts.Connectivity
	case opts.Offline:
		app.conn = NewStaticConnectivity(Offline())
	default:
		app.monitor = NewConnectivityMonitor(remote, time.Duration(cfg.ProbeInterval)*time.Second, log)
		app.conn = app.monitor
	}

	app.queue = queue.NewManager(storage.Queue(), storage, log)
	app.resolver = conflict.NewResolver(storage, storage, log)
	if err := app.resolver.Load(context.Background()); err != nil {
		log.Warn("Журнал конфликтов не загружен", "error", err)
	}

	app.engine = NewEngine(app.queue, app.resolver, remote, storage, log, EngineConfig{
		BatchSize:      cfg.BatchSize,
		Strategy:       strategy,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	app.store = NewSyncStore(app.engine, app.queue, app.conn, storage, log, StoreConfig{
		AutoSync:     cfg.AutoSync,
		SyncInterval: time.Duration(cfg.SyncInterval) * time.Second,
		SettleDelay:  cfg.SettleDelay(),
	})

	return app, nil
}

func (a *App) Queue() *queue.Manager { return a.queue }

func (a *App) Resolver() *conflict.Resolver { return a.resolver }

func (a *App) Store() *SyncStore { return a.store }

func (a *App) Config() *config.Config { return a.config }

func (a *App) Connectivity() ConnectivityStatus { return a.conn.Current() }

// Save записывает локальную копию сущности и ставит изменение в очередь.
// Время изменения проставляется текущим.
func (a *App) Save(ctx context.Context, typ payload.Type, action payload.Action, data []byte, priority int) (string, error) {
	if action != payload.ActionCreate && action != payload.ActionUpdate {
		return "", fmt.Errorf("%w: %s", payload.ErrUnknownAction, action)
	}

	p, err := factory.Parse(typ, data)
	if err != nil {
		return "", err
	}
	meta := p.Meta()
	meta.LastModified = a.now().UTC()

	existing, err := a.storage.GetSnapshot(ctx, typ, meta.UUID)
	switch {
	case err != nil && !errors.Is(err, ErrSnapshotNotFound):
		return "", err
	case action == payload.ActionCreate && err == nil && !existing.Deleted:
		return "", fmt.Errorf("%w: %s %s", ErrSnapshotExists, typ, meta.UUID)
	case action == payload.ActionUpdate && (err != nil || existing.Deleted):
		return "", fmt.Errorf("%w: %s %s", ErrSnapshotNotFound, typ, meta.UUID)
	}

	encoded, err := factory.Encode(p)
	if err != nil {
		return "", err
	}

	snap := &Snapshot{
		Type:         typ,
		UUID:         meta.UUID,
		Data:         encoded,
		LastModified: meta.LastModified,
		Status:       SnapshotPending,
		UpdatedAt:    a.now(),
	}
	if existing != nil {
		snap.Version = existing.Version
		snap.ServerID = existing.ServerID
	}
	if err := a.storage.PutSnapshot(ctx, snap); err != nil {
		return "", err
	}

	id, err := a.queue.AddItem(ctx, typ, action, meta.UUID, encoded, priority)
	if err != nil {
		return "", err
	}
	a.log.Info("Изменение поставлено в очередь", "type", typ, "action", action, "uuid", meta.UUID, "queue_uuid", id)
	return id, nil
}

// Delete помечает локальную копию удаленной и ставит удаление в очередь
func (a *App) Delete(ctx context.Context, typ payload.Type, uuid string, priority int) (string, error) {
	snap, err := a.storage.GetSnapshot(ctx, typ, uuid)
	if err != nil {
		return "", err
	}
	if snap.Deleted {
		return "", fmt.Errorf("%w: %s %s", ErrSnapshotNotFound, typ, uuid)
	}

	// время удаления участвует в разрешении конфликтов, как и у правки
	p, err := factory.Parse(typ, snap.Data)
	if err != nil {
		return "", err
	}
	p.Meta().LastModified = a.now().UTC()
	encoded, err := factory.Encode(p)
	if err != nil {
		return "", err
	}

	snap.Data = encoded
	snap.LastModified = p.Meta().LastModified
	snap.Deleted = true
	snap.Status = SnapshotPending
	snap.UpdatedAt = a.now()
	if err := a.storage.PutSnapshot(ctx, snap); err != nil {
		return "", err
	}

	id, err := a.queue.AddItem(ctx, typ, payload.ActionDelete, uuid, encoded, priority)
	if err != nil {
		return "", err
	}
	a.log.Info("Удаление поставлено в очередь", "type", typ, "uuid", uuid, "queue_uuid", id)
	return id, nil
}

// Get возвращает локальную копию сущности
func (a *App) Get(ctx context.Context, typ payload.Type, uuid string) (*Snapshot, error) {
	return a.storage.GetSnapshot(ctx, typ, uuid)
}

// List возвращает локальные копии сущностей указанного вида
func (a *App) List(ctx context.Context, typ payload.Type) ([]*Snapshot, error) {
	return a.storage.ListSnapshots(ctx, typ)
}

// CheckConnection проверяет соединение с сервером
func (a *App) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return a.remote.HealthCheck(ctx)
}

// SyncOnce определяет состояние сети и выполняет один проход синхронизации
func (a *App) SyncOnce(ctx context.Context) *BatchResult {
	if a.monitor != nil {
		a.monitor.Probe(ctx)
	}

	a.store.Initialize(ctx)
	defer a.store.Cleanup()

	return a.store.TriggerManualSync(ctx)
}

// Status определяет состояние сети и возвращает копию состояния координатора
func (a *App) Status(ctx context.Context) State {
	if a.monitor != nil {
		a.monitor.Probe(ctx)
	}

	a.store.Initialize(ctx)
	defer a.store.Cleanup()

	return a.store.Snapshot()
}

// Watch следит за сетью и синхронизирует очередь до отмены контекста
func (a *App) Watch(ctx context.Context) error {
	a.store.Initialize(ctx)
	defer a.store.Cleanup()

	if a.monitor != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.monitor.Run(ctx)
		}()
	}

	if interval := time.Duration(a.config.SyncInterval) * time.Second; interval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.store.RunPeriodic(ctx, interval)
		}()
	}

	a.log.Info("Клиент запущен",
		"server", a.config.ServerAddress,
		"env", a.config.Env,
		"auto_sync", a.store.Snapshot().AutoSync,
	)

	<-ctx.Done()
	a.wg.Wait()
	a.log.Info("Клиент завершил работу")
	return nil
}

func (a *App) Close() error {
	return a.storage.Close()
}
