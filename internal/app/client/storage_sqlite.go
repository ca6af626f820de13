package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"reliefsync/internal/domain/conflict"
	"reliefsync/internal/domain/payload"
	"reliefsync/internal/domain/queue"
)

// MemoryDSN открывает базу в памяти процесса
const MemoryDSN = ":memory:"

var snapshotTables = map[payload.Type]string{
	payload.TypeAssessment: "assessments",
	payload.TypeResponse:   "responses",
	payload.TypeEntity:     "entities",
}

type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	dsn := path
	if path != MemoryDSN {
		dsn = path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}
	// SQLite допускает одного писателя; для :memory: у каждого соединения своя база
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db, now: time.Now}

	// Создаем таблицы
	if err := storage.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка инициализации таблиц: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) initTables() error {
	for _, table := range snapshotTables {
		_, err := s.db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				uuid TEXT PRIMARY KEY,
				data TEXT NOT NULL,
				version INTEGER NOT NULL DEFAULT 0,
				last_modified TEXT NOT NULL,
				sync_status TEXT NOT NULL DEFAULT 'pending',
				server_id TEXT NOT NULL DEFAULT '',
				deleted BOOLEAN NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_%[1]s_sync_status ON %[1]s(sync_status);
		`, table))
		if err != nil {
			return err
		}
	}

	// Очередь синхронизации и служебные значения
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_uuid TEXT NOT NULL,
			data TEXT NOT NULL,
			priority INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt TEXT,
			next_retry TEXT,
			error TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(type, entity_uuid);

		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)

	return err
}

func (s *SQLiteStorage) table(typ payload.Type) (string, error) {
	table, ok := snapshotTables[typ]
	if !ok {
		return "", fmt.Errorf("%w: %q", payload.ErrUnknownType, string(typ))
	}
	return table, nil
}

func (s *SQLiteStorage) GetSnapshot(ctx context.Context, typ payload.Type, uuid string) (*Snapshot, error) {
	table, err := s.table(typ)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, data, version, last_modified, sync_status, server_id, deleted, updated_at
		FROM `+table+` WHERE uuid = ?`, uuid)

	snap, err := scanSnapshot(row, typ)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrSnapshotNotFound, typ, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения снимка: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStorage) PutSnapshot(ctx context.Context, snap *Snapshot) error {
	table, err := s.table(snap.Type)
	if err != nil {
		return err
	}

	status := snap.Status
	if status == "" {
		status = SnapshotPending
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (uuid, data, version, last_modified, sync_status, server_id, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			data = excluded.data,
			version = excluded.version,
			last_modified = excluded.last_modified,
			sync_status = excluded.sync_status,
			server_id = excluded.server_id,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`, snap.UUID, string(snap.Data), snap.Version, formatTime(snap.LastModified), string(status),
		snap.ServerID, snap.Deleted, formatTime(updatedAt))
	if err != nil {
		return fmt.Errorf("ошибка сохранения снимка: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListSnapshots(ctx context.Context, typ payload.Type) ([]*Snapshot, error) {
	table, err := s.table(typ)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, data, version, last_modified, sync_status, server_id, deleted, updated_at
		FROM `+table+` ORDER BY updated_at DESC, uuid`)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows, typ)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования снимка: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func (s *SQLiteStorage) MarkSynced(ctx context.Context, typ payload.Type, uuid string, mark SyncMark) error {
	snap, err := s.GetSnapshot(ctx, typ, uuid)
	if err != nil {
		return err
	}

	mark.apply(snap, s.now())
	if err := s.PutSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("ошибка обновления снимка: %w", err)
	}
	return nil
}

// IsSynced сообщает, подтвердил ли сервер последнее состояние сущности
func (s *SQLiteStorage) IsSynced(ctx context.Context, typ payload.Type, entityUUID string) (bool, error) {
	snap, err := s.GetSnapshot(ctx, typ, entityUUID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return snap.Status == SnapshotSynced, nil
}

func (s *SQLiteStorage) UpdateAssessment(ctx context.Context, a *payload.Assessment) error {
	return s.applyResolved(ctx, a)
}

func (s *SQLiteStorage) UpdateResponse(ctx context.Context, r *payload.Response) error {
	return s.applyResolved(ctx, r)
}

func (s *SQLiteStorage) UpdateEntity(ctx context.Context, e *payload.Entity) error {
	return s.applyResolved(ctx, e)
}

func (s *SQLiteStorage) applyResolved(ctx context.Context, p payload.Payload) error {
	existing, err := s.GetSnapshot(ctx, p.Kind(), p.Meta().UUID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		return err
	}
	snap, err := resolvedSnapshot(existing, p, s.now())
	if err != nil {
		return err
	}
	return s.PutSnapshot(ctx, snap)
}

func (s *SQLiteStorage) LoadConflictLogs(ctx context.Context) ([]conflict.Record, error) {
	var records []conflict.Record
	if err := s.getJSON(ctx, kvConflictLogs, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *SQLiteStorage) SaveConflictLogs(ctx context.Context, records []conflict.Record) error {
	if len(records) > conflict.HistoryLimit {
		records = records[:conflict.HistoryLimit]
	}
	return s.putJSON(ctx, kvConflictLogs, records)
}

func (s *SQLiteStorage) LoadSyncState(ctx context.Context) (SyncState, error) {
	var st SyncState
	err := s.getJSON(ctx, kvSyncState, &st)
	return st, err
}

func (s *SQLiteStorage) SaveSyncState(ctx context.Context, st SyncState) error {
	return s.putJSON(ctx, kvSyncState, st)
}

func (s *SQLiteStorage) getJSON(ctx context.Context, key string, dst any) error {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка чтения %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), dst); err != nil {
		return fmt.Errorf("ошибка парсинга %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("ошибка записи %s: %w", key, err)
	}
	return nil
}

// Queue возвращает репозиторий очереди поверх той же базы
func (s *SQLiteStorage) Queue() queue.Repository {
	return &sqliteQueue{db: s.db}
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteQueue struct {
	db *sql.DB
}

const queueColumns = `seq, uuid, type, action, entity_uuid, data, priority, attempts, last_attempt, next_retry, error, timestamp`

func (q *sqliteQueue) Add(ctx context.Context, item *queue.Item) error {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO sync_queue (uuid, type, action, entity_uuid, data, priority, attempts, last_attempt, next_retry, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.UUID, string(item.Type), string(item.Action), item.EntityUUID, string(item.Data), item.Priority,
		item.Attempts, formatTimePtr(item.LastAttempt), formatTimePtr(item.NextRetry), item.Error, formatTime(item.Timestamp))
	if err != nil {
		return fmt.Errorf("ошибка добавления в очередь: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("ошибка получения seq: %w", err)
	}
	item.Seq = seq
	return nil
}

func (q *sqliteQueue) Save(ctx context.Context, item *queue.Item) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET action = ?, data = ?, priority = ?, attempts = ?, last_attempt = ?, next_retry = ?, error = ?
		WHERE uuid = ?
	`, string(item.Action), string(item.Data), item.Priority, item.Attempts,
		formatTimePtr(item.LastAttempt), formatTimePtr(item.NextRetry), item.Error, item.UUID)
	if err != nil {
		return false, fmt.Errorf("ошибка обновления элемента очереди: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (q *sqliteQueue) Remove(ctx context.Context, uuid string) (bool, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE uuid = ?", uuid)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления элемента очереди: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (q *sqliteQueue) Get(ctx context.Context, uuid string) (*queue.Item, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM sync_queue WHERE uuid = ?", uuid)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", queue.ErrNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения элемента очереди: %w", err)
	}
	return item, nil
}

func (q *sqliteQueue) List(ctx context.Context) ([]*queue.Item, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+queueColumns+" FROM sync_queue ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	defer rows.Close()

	var items []*queue.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования элемента очереди: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner, typ payload.Type) (*Snapshot, error) {
	var (
		snap                    Snapshot
		data, status            string
		lastModified, updatedAt string
	)
	if err := row.Scan(&snap.UUID, &data, &snap.Version, &lastModified, &status,
		&snap.ServerID, &snap.Deleted, &updatedAt); err != nil {
		return nil, err
	}

	snap.Type = typ
	snap.Data = json.RawMessage(data)
	snap.Status = SnapshotStatus(status)
	snap.LastModified = parseTime(lastModified)
	snap.UpdatedAt = parseTime(updatedAt)
	return &snap, nil
}

func scanItem(row scanner) (*queue.Item, error) {
	var (
		item                   queue.Item
		typ, action, data, ts  string
		lastAttempt, nextRetry sql.NullString
	)
	if err := row.Scan(&item.Seq, &item.UUID, &typ, &action, &item.EntityUUID, &data,
		&item.Priority, &item.Attempts, &lastAttempt, &nextRetry, &item.Error, &ts); err != nil {
		return nil, err
	}

	item.Type = payload.Type(typ)
	item.Action = payload.Action(action)
	item.Data = json.RawMessage(data)
	item.Timestamp = parseTime(ts)
	item.LastAttempt = parseTimePtr(lastAttempt)
	item.NextRetry = parseTimePtr(nextRetry)
	return &item, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
