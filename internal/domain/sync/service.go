package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"reliefsync/internal/domain/payload"
)

// Servicer интерфейс сервиса синхронизации
type Servicer interface {
	// ApplyBatch применяет пакет изменений по порядку и возвращает результат по каждому
	ApplyBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error)
}

// Service реализация сервиса синхронизации
type Service struct {
	repo    Repository
	factory *payload.Factory
	log     *slog.Logger
	config  *ServiceConfig
	now     func() time.Time
}

// NewService создает новый сервис синхронизации
func NewService(repo Repository, log *slog.Logger, config *ServiceConfig) *Service {
	if config == nil {
		config = &ServiceConfig{MaxBatchSize: MaxChanges}
	}
	if config.MaxBatchSize <= 0 || config.MaxBatchSize > MaxChanges {
		config.MaxBatchSize = MaxChanges
	}

	return &Service{
		repo:    repo,
		factory: payload.NewFactory(),
		log:     log.With("component", "sync_service"),
		config:  config,
		now:     time.Now,
	}
}

// ApplyBatch применяет изменения в порядке их следования в пакете.
// Если хотя бы одно изменение не проходит проверку, пакет отклоняется целиком с ErrValidation.
// После неудачи изменения остальные изменения той же сущности в пакете не применяются.
func (s *Service) ApplyBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	if err := s.validate(req); err != nil {
		s.log.Warn("batch rejected", "changes", len(req.Changes), "error", err)
		return nil, err
	}

	results := make([]ChangeResult, 0, len(req.Changes))
	failed := make(map[string]bool)

	for _, ch := range req.Changes {
		key := string(ch.Type) + "/" + ch.EntityUUID
		if failed[key] {
			results = append(results, ChangeResult{
				OfflineID: ch.OfflineID,
				Status:    StatusFailed,
				Error:     PrecedingFailedMessage,
			})
			continue
		}

		res := s.apply(ctx, ch)
		if res.Status != StatusSuccess {
			failed[key] = true
		}
		results = append(results, res)
	}

	s.log.Info("batch applied", "changes", len(req.Changes), "failed_entities", len(failed))
	return &BatchResponse{Results: results}, nil
}

func (s *Service) validate(req BatchRequest) error {
	if len(req.Changes) == 0 {
		return fmt.Errorf("%w: changes must not be empty", ErrValidation)
	}
	if len(req.Changes) > s.config.MaxBatchSize {
		return fmt.Errorf("%w: %d changes exceed the limit of %d", ErrValidation, len(req.Changes), s.config.MaxBatchSize)
	}

	for i, ch := range req.Changes {
		if err := s.validateChange(ch); err != nil {
			return fmt.Errorf("%w: changes[%d]: %v", ErrValidation, i, err)
		}
	}
	return nil
}

func (s *Service) validateChange(ch Change) error {
	if err := ch.Type.Validate(); err != nil {
		return err
	}
	if err := ch.Action.Validate(); err != nil {
		return err
	}
	if _, err := uuid.Parse(ch.EntityUUID); err != nil {
		return fmt.Errorf("entityUuid: %v", err)
	}
	if ch.VersionNumber < 0 {
		return errors.New("versionNumber must not be negative")
	}

	if ch.Action == payload.ActionDelete {
		var obj map[string]any
		if err := json.Unmarshal(ch.Data, &obj); err != nil || obj == nil {
			return errors.New("data must be a JSON object")
		}
		return nil
	}

	p, err := s.factory.Parse(ch.Type, ch.Data)
	if err != nil {
		return err
	}
	if p.Meta().UUID != ch.EntityUUID {
		return fmt.Errorf("data uuid %s does not match entityUuid %s", p.Meta().UUID, ch.EntityUUID)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, ch Change) ChangeResult {
	checksum, err := payload.Checksum(ch.Data)
	if err != nil {
		return failedResult(ch, err.Error())
	}

	stored, err := s.repo.Get(ctx, ch.Type, ch.EntityUUID)
	if err != nil && !errors.Is(err, ErrEntityNotFound) {
		return s.internalError(ch, "get entity", err)
	}
	if errors.Is(err, ErrEntityNotFound) {
		stored = nil
	}

	if stored != nil && isReplay(ch, stored, checksum) {
		s.log.Debug("change already applied", "entity_uuid", ch.EntityUUID, "version", stored.Version)
		return successResult(ch, stored)
	}

	switch ch.Action {
	case payload.ActionCreate:
		return s.create(ctx, ch, stored, checksum)
	case payload.ActionUpdate:
		return s.update(ctx, ch, stored, checksum)
	default:
		return s.delete(ctx, ch, stored, checksum)
	}
}

func (s *Service) create(ctx context.Context, ch Change, stored *StoredEntity, checksum string) ChangeResult {
	if stored != nil {
		return conflictResult(ch, stored)
	}

	e, err := s.build(ch, ch.VersionNumber+1, checksum)
	if err != nil {
		return failedResult(ch, err.Error())
	}
	e.ServerID = uuid.NewString()

	if err := s.repo.Create(ctx, e); err != nil {
		if errors.Is(err, ErrEntityExists) {
			return s.reload(ctx, ch)
		}
		return s.internalError(ch, "create entity", err)
	}
	return successResult(ch, e)
}

func (s *Service) update(ctx context.Context, ch Change, stored *StoredEntity, checksum string) ChangeResult {
	if stored == nil {
		return failedResult(ch, ErrEntityNotFound.Error())
	}
	if stored.Deleted {
		return failedResult(ch, "entity has been deleted")
	}
	if stored.Version != ch.VersionNumber {
		return conflictResult(ch, stored)
	}

	e, err := s.build(ch, stored.Version+1, checksum)
	if err != nil {
		return failedResult(ch, err.Error())
	}
	e.ServerID = stored.ServerID

	ok, err := s.repo.UpdateIfVersion(ctx, e, stored.Version)
	if err != nil {
		return s.internalError(ch, "update entity", err)
	}
	if !ok {
		return s.reload(ctx, ch)
	}
	return successResult(ch, e)
}

func (s *Service) delete(ctx context.Context, ch Change, stored *StoredEntity, checksum string) ChangeResult {
	if stored == nil {
		return failedResult(ch, ErrEntityNotFound.Error())
	}
	if stored.Deleted {
		return failedResult(ch, "entity has been deleted")
	}
	if stored.Version != ch.VersionNumber {
		return conflictResult(ch, stored)
	}

	e := *stored
	e.Version = stored.Version + 1
	e.Checksum = checksum
	e.Deleted = true
	e.UpdatedAt = s.now().UTC()

	ok, err := s.repo.DeleteIfVersion(ctx, &e, stored.Version)
	if err != nil {
		return s.internalError(ch, "delete entity", err)
	}
	if !ok {
		return s.reload(ctx, ch)
	}
	return successResult(ch, &e)
}

// reload перечитывает сущность после проигранной гонки за версию
func (s *Service) reload(ctx context.Context, ch Change) ChangeResult {
	stored, err := s.repo.Get(ctx, ch.Type, ch.EntityUUID)
	if err != nil {
		return s.internalError(ch, "reload entity", err)
	}
	return conflictResult(ch, stored)
}

// build готовит серверную копию: версия в данных приводится к серверной
func (s *Service) build(ch Change, version int, checksum string) (*StoredEntity, error) {
	var obj map[string]any
	if err := json.Unmarshal(ch.Data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", payload.ErrInvalidData, err)
	}
	obj["version"] = version

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}

	now := s.now().UTC()
	lastModified := s.factory.ReadHeader(ch.Data).LastModified
	if lastModified.IsZero() {
		lastModified = now
	}

	return &StoredEntity{
		Type:         ch.Type,
		UUID:         ch.EntityUUID,
		Data:         data,
		Version:      version,
		Checksum:     checksum,
		LastModified: lastModified,
		UpdatedAt:    now,
	}, nil
}

func (s *Service) internalError(ch Change, op string, err error) ChangeResult {
	s.log.Error("failed to apply change",
		"op", op,
		"type", ch.Type,
		"entity_uuid", ch.EntityUUID,
		"error", err,
	)
	return failedResult(ch, "internal error")
}

// isReplay сообщает, что это же изменение уже было применено: клиент не получил ответ и отправил его повторно
func isReplay(ch Change, stored *StoredEntity, checksum string) bool {
	if stored.Version != ch.VersionNumber+1 || stored.Checksum != checksum {
		return false
	}
	return stored.Deleted == (ch.Action == payload.ActionDelete)
}

func successResult(ch Change, e *StoredEntity) ChangeResult {
	return ChangeResult{
		OfflineID: ch.OfflineID,
		ServerID:  e.ServerID,
		Status:    StatusSuccess,
		Version:   e.Version,
	}
}

func conflictResult(ch Change, e *StoredEntity) ChangeResult {
	return ChangeResult{
		OfflineID: ch.OfflineID,
		ServerID:  e.ServerID,
		Status:    StatusConflict,
		Version:   e.Version,
		Error:     fmt.Sprintf("version mismatch: expected %d, server has %d", ch.VersionNumber, e.Version),
		ConflictData: &ConflictData{
			ServerVersion: e.Version,
			Data:          e.Data,
			LastModified:  e.LastModified,
			Deleted:       e.Deleted,
		},
	}
}

func failedResult(ch Change, msg string) ChangeResult {
	return ChangeResult{
		OfflineID: ch.OfflineID,
		Status:    StatusFailed,
		Error:     msg,
	}
}
