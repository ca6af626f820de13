package client

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"reliefsync/internal/domain/queue"
	"reliefsync/internal/utils/ring"
)

// ErrorLimit - сколько последних ошибок хранит координатор
const ErrorLimit = 50

// QueueViewLimit - сколько элементов очереди попадает в состояние координатора
const QueueViewLimit = 100

// ErrorType - категория ошибки синхронизации
type ErrorType string

const (
	ErrorNetwork    ErrorType = "network"
	ErrorConflict   ErrorType = "conflict"
	ErrorValidation ErrorType = "validation"
	ErrorServer     ErrorType = "server"
	ErrorUnknown    ErrorType = "unknown"
)

// SyncError - запись журнала ошибок, видимая пользователю
type SyncError struct {
	ID        string    `json:"id" yaml:"id"`
	Message   string    `json:"message" yaml:"message"`
	Type      ErrorType `json:"type" yaml:"type"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Dismissed bool      `json:"dismissed" yaml:"dismissed"`
}

// SyncStatus - состояние сети и синхронизации
type SyncStatus struct {
	IsOnline           bool       `json:"isOnline" yaml:"isOnline"`
	ConnectionType     string     `json:"connectionType" yaml:"connectionType"`
	EffectiveType      string     `json:"effectiveType,omitempty" yaml:"effectiveType,omitempty"`
	IsSyncing          bool       `json:"isSyncing" yaml:"isSyncing"`
	SyncInProgress     bool       `json:"syncInProgress" yaml:"syncInProgress"`
	LastSyncAttempt    *time.Time `json:"lastSyncAttempt,omitempty" yaml:"lastSyncAttempt,omitempty"`
	LastSuccessfulSync *time.Time `json:"lastSuccessfulSync,omitempty" yaml:"lastSuccessfulSync,omitempty"`
	SyncProgress       int        `json:"syncProgress" yaml:"syncProgress"`
	SyncMessage        string     `json:"syncMessage,omitempty" yaml:"syncMessage,omitempty"`
}

// State - копия состояния координатора для наблюдателей
type State struct {
	Status       SyncStatus    `json:"status" yaml:"status"`
	AutoSync     bool          `json:"autoSync" yaml:"autoSync"`
	SyncInterval time.Duration `json:"syncInterval" yaml:"syncInterval"`
	Queue        []queue.Entry `json:"queue" yaml:"queue"`
	Metrics      queue.Metrics `json:"metrics" yaml:"metrics"`
	Errors       []SyncError   `json:"errors" yaml:"errors"`
}

// StoreConfig - параметры координатора
type StoreConfig struct {
	AutoSync     bool
	SyncInterval time.Duration
	SettleDelay  time.Duration
}

// SyncStore - единственный координатор синхронизации: решает, когда запускать проход,
// и хранит состояние синхронизации, очереди и ошибок.
type SyncStore struct {
	syncer Syncer
	queue  *queue.Manager
	conn   Connectivity
	state  StateStore
	log    *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)

	settleDelay time.Duration

	mu           gosync.Mutex
	status       SyncStatus
	autoSync     bool
	syncInterval time.Duration
	queueView    []queue.Entry
	metrics      queue.Metrics
	errors       *ring.Buffer[SyncError]
	unsubscribe  func()
}

func NewSyncStore(syncer Syncer, q *queue.Manager, conn Connectivity, state StateStore, log *slog.Logger, cfg StoreConfig) *SyncStore {
	return &SyncStore{
		syncer:       syncer,
		queue:        q,
		conn:         conn,
		state:        state,
		log:          log.With("component", "sync_store"),
		now:          time.Now,
		sleep:        sleepContext,
		settleDelay:  cfg.SettleDelay,
		status:       SyncStatus{ConnectionType: ConnectionNone},
		autoSync:     cfg.AutoSync,
		syncInterval: cfg.SyncInterval,
		queueView:    []queue.Entry{},
		errors:       ring.New[SyncError](ErrorLimit),
	}
}

// Initialize восстанавливает отметки времени, подписывается на изменения сети
// и один раз читает очередь. Текущее состояние сети принимается без запуска синхронизации.
func (s *SyncStore) Initialize(ctx context.Context) {
	if st, err := s.state.LoadSyncState(ctx); err != nil {
		s.log.Warn("failed to load sync state", "error", err)
	} else {
		s.mu.Lock()
		s.status.LastSyncAttempt = st.LastSyncAttempt
		s.status.LastSuccessfulSync = st.LastSuccessfulSync
		s.mu.Unlock()
	}

	unsubscribe := s.conn.Subscribe(func(st ConnectivityStatus) {
		s.SetConnectivity(ctx, st)
	})

	current := s.conn.Current()
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = unsubscribe
	s.applyConnectivity(current)
	s.mu.Unlock()

	s.RefreshQueue(ctx)
}

// Cleanup отписывается от изменений сети
func (s *SyncStore) Cleanup() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// TriggerManualSync выполняет один проход синхронизации.
// Возвращает nil без сети, при уже идущей синхронизации и при любой ошибке прохода.
func (s *SyncStore) TriggerManualSync(ctx context.Context) (result *BatchResult) {
	s.mu.Lock()
	if !s.status.IsOnline {
		s.mu.Unlock()
		s.AddError("Cannot sync while offline", ErrorNetwork)
		return nil
	}
	if s.status.SyncInProgress {
		s.mu.Unlock()
		s.log.Info("sync already in progress, trigger ignored")
		return nil
	}
	started := s.now()
	s.status.SyncInProgress = true
	s.status.IsSyncing = true
	s.status.LastSyncAttempt = &started
	s.status.SyncProgress = 10
	s.status.SyncMessage = "Preparing sync..."
	s.mu.Unlock()

	defer s.release(ctx)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sync panicked", "panic", r)
			s.AddError(fmt.Sprintf("Sync failed: %v", r), ErrorUnknown)
			result = nil
		}
	}()

	s.persistState(ctx)
	s.setProgress(50, "Uploading changes...")

	res, err := s.syncer.SyncPending(ctx)
	if err != nil {
		s.log.Error("sync failed", "error", err)
		s.AddError(fmt.Sprintf("Sync failed: %v", err), classifyError(err))
		s.RefreshQueue(ctx)
		return nil
	}

	s.setProgress(90, "Processing results...")
	if n := len(res.Failed); n > 0 {
		s.AddError(fmt.Sprintf("%d item(s) failed to sync", n), ErrorServer)
	}
	if n := len(res.Conflicts); n > 0 {
		s.AddError(fmt.Sprintf("%d conflict(s) detected and auto-resolved", n), ErrorConflict)
	}

	finished := s.now()
	s.mu.Lock()
	s.status.LastSuccessfulSync = &finished
	s.status.SyncProgress = 100
	s.status.SyncMessage = "Sync completed"
	s.mu.Unlock()

	s.persistState(ctx)
	s.RefreshQueue(ctx)

	s.log.Info("sync completed",
		"successful", len(res.Successful),
		"failed", len(res.Failed),
		"conflicts", len(res.Conflicts),
	)
	return res
}

// release сбрасывает флаги синхронизации после паузы для интерфейса
func (s *SyncStore) release(ctx context.Context) {
	if s.settleDelay > 0 {
		s.sleep(ctx, s.settleDelay)
	}

	s.mu.Lock()
	s.status.SyncInProgress = false
	s.status.IsSyncing = false
	s.status.SyncProgress = 0
	s.mu.Unlock()
}

// SetConnectivity обновляет состояние сети. Переход в онлайн при включенной
// автосинхронизации запускает проход, если другой не выполняется.
func (s *SyncStore) SetConnectivity(ctx context.Context, st ConnectivityStatus) {
	s.mu.Lock()
	wasOnline := s.status.IsOnline
	s.applyConnectivity(st)
	trigger := !wasOnline && st.IsOnline && s.autoSync && !s.status.SyncInProgress
	s.mu.Unlock()

	if trigger {
		s.log.Info("back online, starting sync")
		s.TriggerManualSync(ctx)
	}
}

func (s *SyncStore) applyConnectivity(st ConnectivityStatus) {
	s.status.IsOnline = st.IsOnline
	s.status.ConnectionType = st.ConnectionType
	s.status.EffectiveType = st.EffectiveType
}

// RetryFailedItems возвращает исчерпавшие попытки элементы в очередь
func (s *SyncStore) RetryFailedItems(ctx context.Context) int {
	n := s.queue.ResetFailedItems(ctx)
	if n == 0 {
		return 0
	}

	s.RefreshQueue(ctx)

	s.mu.Lock()
	trigger := s.status.IsOnline && s.autoSync
	s.mu.Unlock()
	if trigger {
		s.TriggerManualSync(ctx)
	}
	return n
}

// ClearFailedItems удаляет исчерпавшие попытки элементы
func (s *SyncStore) ClearFailedItems(ctx context.Context) int {
	n := s.queue.ClearFailedItems(ctx)
	s.RefreshQueue(ctx)
	return n
}

// RefreshQueue перечитывает очередь и метрики
func (s *SyncStore) RefreshQueue(ctx context.Context) {
	items := s.queue.GetItems(ctx, queue.Filter{
		SortBy: queue.SortByPriority,
		Order:  queue.OrderDesc,
		Limit:  QueueViewLimit,
	})
	metrics := s.queue.GetMetrics(ctx)

	s.mu.Lock()
	s.queueView = items
	s.metrics = metrics
	s.mu.Unlock()
}

// AddError добавляет ошибку в начало журнала
func (s *SyncStore) AddError(message string, typ ErrorType) SyncError {
	e := SyncError{
		ID:        uuid.NewString(),
		Message:   message,
		Type:      typ,
		Timestamp: s.now(),
	}

	s.mu.Lock()
	s.errors.Push(e)
	s.mu.Unlock()
	return e
}

// DismissError помечает ошибку скрытой, не удаляя ее
func (s *SyncStore) DismissError(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.errors.Update(
		func(e SyncError) bool { return e.ID == id },
		func(e SyncError) SyncError { e.Dismissed = true; return e },
	)
}

func (s *SyncStore) ClearErrors() {
	s.mu.Lock()
	s.errors.Clear()
	s.mu.Unlock()
}

func (s *SyncStore) SetAutoSync(enabled bool) {
	s.mu.Lock()
	s.autoSync = enabled
	s.mu.Unlock()
}

// Snapshot возвращает копию текущего состояния
func (s *SyncStore) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Status:       s.status,
		AutoSync:     s.autoSync,
		SyncInterval: s.syncInterval,
		Queue:        append([]queue.Entry(nil), s.queueView...),
		Metrics:      s.metrics,
		Errors:       s.errors.Items(),
	}
}

// RunPeriodic запускает синхронизацию с заданным интервалом до отмены контекста.
// Проходы без сети пропускаются.
func (s *SyncStore) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			online := s.status.IsOnline
			s.mu.Unlock()
			if online {
				s.TriggerManualSync(ctx)
			}
		}
	}
}

func (s *SyncStore) setProgress(progress int, message string) {
	s.mu.Lock()
	s.status.SyncProgress = progress
	s.status.SyncMessage = message
	s.mu.Unlock()
}

func (s *SyncStore) persistState(ctx context.Context) {
	s.mu.Lock()
	st := SyncState{
		LastSyncAttempt:    s.status.LastSyncAttempt,
		LastSuccessfulSync: s.status.LastSuccessfulSync,
	}
	s.mu.Unlock()

	if err := s.state.SaveSyncState(ctx, st); err != nil {
		s.log.Warn("failed to persist sync state", "error", err)
	}
}

// classifyError относит ошибку прохода к категории журнала
func classifyError(err error) ErrorType {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		if statusErr.Code == 400 || statusErr.Code == 422 {
			return ErrorValidation
		}
		if statusErr.Code >= 500 {
			return ErrorServer
		}
		return ErrorUnknown
	case errors.Is(err, ErrUnreachable), errors.Is(err, context.DeadlineExceeded):
		return ErrorNetwork
	default:
		return ErrorUnknown
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
