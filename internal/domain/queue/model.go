package queue

import (
	"encoding/json"
	"time"

	"reliefsync/internal/domain/payload"
)

// MaxRetries - число неудачных попыток, после которого элемент больше не отправляется
const MaxRetries = 3

// DefaultPriority - приоритет элемента, если вызывающий не указал свой
const DefaultPriority = 5

// Item - локальная мутация, ожидающая применения на сервере
type Item struct {
	UUID        string          `json:"uuid"`
	Type        payload.Type    `json:"type"`
	Action      payload.Action  `json:"action"`
	EntityUUID  string          `json:"entityUuid"`
	Data        json.RawMessage `json:"data"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	LastAttempt *time.Time      `json:"lastAttempt,omitempty"`
	NextRetry   *time.Time      `json:"nextRetry,omitempty"`
	Error       string          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	// Seq - порядковый номер постановки в очередь, назначается хранилищем
	Seq int64 `json:"seq"`
}

// Entry - элемент очереди с вычисленным статусом
type Entry struct {
	Item
	Status Status `json:"status"`
}

// Patch - частичное обновление элемента. nil-поля не изменяются.
type Patch struct {
	Action      *payload.Action
	Data        json.RawMessage
	Priority    *int
	Attempts    *int
	LastAttempt *time.Time
	NextRetry   *time.Time
	Error       *string
	// ClearRetryState обнуляет lastAttempt, nextRetry и error до применения остальных полей
	ClearRetryState bool
}

// Apply применяет изменения к элементу
func (p Patch) Apply(it *Item) {
	if p.ClearRetryState {
		it.LastAttempt = nil
		it.NextRetry = nil
		it.Error = ""
	}
	if p.Action != nil {
		it.Action = *p.Action
	}
	if p.Data != nil {
		it.Data = p.Data
	}
	if p.Priority != nil {
		it.Priority = *p.Priority
	}
	if p.Attempts != nil {
		it.Attempts = *p.Attempts
	}
	if p.LastAttempt != nil {
		t := *p.LastAttempt
		it.LastAttempt = &t
	}
	if p.NextRetry != nil {
		t := *p.NextRetry
		it.NextRetry = &t
	}
	if p.Error != nil {
		it.Error = *p.Error
	}
}

// SortField - поле сортировки списка элементов
type SortField string

const (
	SortByPriority  SortField = "priority"
	SortByTimestamp SortField = "timestamp"
	SortByAttempts  SortField = "attempts"
)

// SortOrder - направление сортировки
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Filter - параметры выборки элементов очереди
type Filter struct {
	Type   payload.Type
	Status Status
	SortBy SortField
	Order  SortOrder
	Offset int
	Limit  int
}

// Metrics - агрегированное состояние очереди
type Metrics struct {
	Total            int                    `json:"total"`
	Pending          int                    `json:"pending"`
	Retrying         int                    `json:"retrying"`
	Failed           int                    `json:"failed"`
	MaxRetries       int                    `json:"maxRetries"`
	AvgRetryAttempts float64                `json:"avgRetryAttempts"`
	OldestPending    *time.Time             `json:"oldestPending,omitempty"`
	ByType           map[payload.Type]int   `json:"byType"`
	ByAction         map[payload.Action]int `json:"byAction"`
}

func emptyMetrics() Metrics {
	return Metrics{
		ByType:   map[payload.Type]int{},
		ByAction: map[payload.Action]int{},
	}
}
