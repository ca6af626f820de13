package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/exp/slog"

	"reliefsync/internal/domain/payload"
	"reliefsync/internal/domain/sync"
)

const uniqueViolation = "23505"

// EntityRepository хранит авторитетные копии синхронизируемых сущностей
type EntityRepository struct {
	storage *Storage
	log     *slog.Logger
}

// NewEntityRepository создает новый репозиторий сущностей
func NewEntityRepository(storage *Storage, log *slog.Logger) *EntityRepository {
	return &EntityRepository{
		storage: storage,
		log:     log.With("component", "entity_repository"),
	}
}

func (r *EntityRepository) Get(ctx context.Context, typ payload.Type, uuid string) (*sync.StoredEntity, error) {
	query := `
		SELECT server_id, entity_type, uuid, data, version, checksum, deleted, last_modified, updated_at
		FROM sync_entities
		WHERE entity_type = $1 AND uuid = $2
	`

	var e sync.StoredEntity
	err := r.storage.Pool().QueryRow(ctx, query, string(typ), uuid).Scan(
		&e.ServerID,
		&e.Type,
		&e.UUID,
		&e.Data,
		&e.Version,
		&e.Checksum,
		&e.Deleted,
		&e.LastModified,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sync.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	return &e, nil
}

func (r *EntityRepository) Create(ctx context.Context, e *sync.StoredEntity) error {
	query := `
		INSERT INTO sync_entities (server_id, entity_type, uuid, data, version, checksum, deleted, last_modified, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.storage.Pool().Exec(ctx, query,
		e.ServerID,
		string(e.Type),
		e.UUID,
		e.Data,
		e.Version,
		e.Checksum,
		e.Deleted,
		e.LastModified,
		e.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sync.ErrEntityExists
		}
		return fmt.Errorf("failed to create entity: %w", err)
	}

	r.log.Debug("entity created", "type", e.Type, "uuid", e.UUID, "version", e.Version)
	return nil
}

func (r *EntityRepository) UpdateIfVersion(ctx context.Context, e *sync.StoredEntity, expected int) (bool, error) {
	query := `
		UPDATE sync_entities
		SET data = $1, version = $2, checksum = $3, last_modified = $4, updated_at = $5
		WHERE entity_type = $6 AND uuid = $7 AND version = $8 AND NOT deleted
	`

	return r.execVersioned(ctx, "update", query,
		e.Data, e.Version, e.Checksum, e.LastModified, e.UpdatedAt,
		string(e.Type), e.UUID, expected,
	)
}

func (r *EntityRepository) DeleteIfVersion(ctx context.Context, e *sync.StoredEntity, expected int) (bool, error) {
	query := `
		UPDATE sync_entities
		SET deleted = TRUE, version = $1, checksum = $2, updated_at = $3
		WHERE entity_type = $4 AND uuid = $5 AND version = $6 AND NOT deleted
	`

	return r.execVersioned(ctx, "delete", query,
		e.Version, e.Checksum, e.UpdatedAt,
		string(e.Type), e.UUID, expected,
	)
}

func (r *EntityRepository) execVersioned(ctx context.Context, op, query string, args ...any) (bool, error) {
	tag, err := r.storage.Pool().Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s entity: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}
