package sync

import (
	"encoding/json"
	"time"

	"reliefsync/internal/domain/payload"
)

// MaxChanges - максимальное число изменений в одном пакете
const MaxChanges = 100

// PrecedingFailedMessage - ошибка изменения, пропущенного из-за неудачи предыдущего изменения той же сущности
const PrecedingFailedMessage = "preceding change failed"

// Status - итог применения одного изменения
type Status string

const (
	StatusSuccess  Status = "success"
	StatusConflict Status = "conflict"
	StatusFailed   Status = "failed"
)

// Change - одно локальное изменение, отправленное клиентом
type Change struct {
	Type          payload.Type    `json:"type"`
	Action        payload.Action  `json:"action"`
	Data          json.RawMessage `json:"data"`
	OfflineID     string          `json:"offlineId,omitempty"`
	VersionNumber int             `json:"versionNumber" minimum:"0"`
	EntityUUID    string          `json:"entityUuid" format:"uuid"`
}

// ConflictData - серверная версия сущности при конфликте
type ConflictData struct {
	ServerVersion int             `json:"serverVersion"`
	Data          json.RawMessage `json:"data,omitempty"`
	LastModified  time.Time       `json:"lastModified"`
	// Deleted - серверная копия помечена удаленной
	Deleted bool `json:"deleted,omitempty"`
}

// ChangeResult - результат применения изменения. Порядок результатов совпадает с порядком изменений.
type ChangeResult struct {
	OfflineID    string        `json:"offlineId"`
	ServerID     string        `json:"serverId,omitempty"`
	Status       Status        `json:"status" enum:"success,conflict,failed"`
	Version      int           `json:"version,omitempty"`
	Error        string        `json:"error,omitempty"`
	ConflictData *ConflictData `json:"conflictData,omitempty"`
}

// BatchRequest - пакет изменений
type BatchRequest struct {
	Changes []Change `json:"changes" maxItems:"100"`
}

// BatchResponse - результаты по каждому изменению пакета
type BatchResponse struct {
	Results []ChangeResult `json:"results"`
}

// StoredEntity - авторитетная серверная копия сущности
type StoredEntity struct {
	ServerID     string
	Type         payload.Type
	UUID         string
	Data         json.RawMessage
	Version      int
	Checksum     string
	Deleted      bool
	LastModified time.Time
	UpdatedAt    time.Time
}

// ServiceConfig конфигурация сервиса синхронизации
type ServiceConfig struct {
	MaxBatchSize int `json:"max_batch_size"`
}
