package conflict

import (
	"encoding/json"
	"fmt"
	"time"

	"reliefsync/internal/domain/payload"
)

// HistoryLimit - сколько последних конфликтов хранится в журнале
const HistoryLimit = 100

// RecentLimit - сколько последних конфликтов попадает в статистику
const RecentLimit = 10

// DefaultRetentionDays - срок хранения записей журнала по умолчанию
const DefaultRetentionDays = 30

// Strategy - способ разрешения конфликта
type Strategy string

const (
	StrategyLastWriteWins Strategy = "last_write_wins"
	StrategyManual        Strategy = "manual"
	StrategyMerge         Strategy = "merge"
)

// Strategies - все поддерживаемые стратегии
var Strategies = []Strategy{StrategyLastWriteWins, StrategyManual, StrategyMerge}

// ParseStrategy разбирает название стратегии
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedStrategy, s)
}

// Winner - чья версия стала итоговой
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerServer Winner = "server"
	WinnerMerged Winner = "merged"
	WinnerManual Winner = "manual"
)

// Metadata - сведения о причинах и ходе разрешения конфликта
type Metadata struct {
	LocalLastModified  time.Time      `json:"localLastModified"`
	ServerLastModified time.Time      `json:"serverLastModified"`
	ConflictReason     string         `json:"conflictReason"`
	AutoResolved       bool           `json:"autoResolved"`
	Extra              map[string]any `json:"extra,omitempty"`
}

// Record - расхождение локальной и серверной версий одной сущности
type Record struct {
	ConflictID         string          `json:"conflictId"`
	EntityType         payload.Type    `json:"entityType"`
	EntityUUID         string          `json:"entityUuid"`
	LocalVersion       int             `json:"localVersion"`
	ServerVersion      int             `json:"serverVersion"`
	LocalData          json.RawMessage `json:"localData"`
	ServerData         json.RawMessage `json:"serverData"`
	ResolutionStrategy Strategy        `json:"resolutionStrategy"`
	ResolvedData       json.RawMessage `json:"resolvedData,omitempty"`
	IsResolved         bool            `json:"isResolved"`
	CreatedAt          time.Time       `json:"createdAt"`
	ResolvedAt         *time.Time      `json:"resolvedAt,omitempty"`
	ResolvedBy         string          `json:"resolvedBy,omitempty"`
	Metadata           Metadata        `json:"metadata"`
}

func (r Record) clone() Record {
	cp := r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		cp.ResolvedAt = &t
	}
	if r.Metadata.Extra != nil {
		cp.Metadata.Extra = make(map[string]any, len(r.Metadata.Extra))
		for k, v := range r.Metadata.Extra {
			cp.Metadata.Extra[k] = v
		}
	}
	return cp
}

// Result - итог попытки разрешения конфликта
type Result struct {
	Success      bool            `json:"success"`
	Conflict     *Record         `json:"conflict,omitempty"`
	ResolvedData json.RawMessage `json:"resolvedData,omitempty"`
	Strategy     Strategy        `json:"strategy,omitempty"`
	Winner       Winner          `json:"winner,omitempty"`
	Message      string          `json:"message,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Stats - сводка по журналу конфликтов
type Stats struct {
	Total            int                  `json:"total"`
	Unresolved       int                  `json:"unresolved"`
	AutoResolved     int                  `json:"autoResolved"`
	ManuallyResolved int                  `json:"manuallyResolved"`
	ByType           map[payload.Type]int `json:"byType"`
	Recent           []Record             `json:"recent"`
}

// SyncConflict - конфликт, о котором сообщил сервер при применении изменения
type SyncConflict struct {
	EntityType    payload.Type
	EntityUUID    string
	LocalData     json.RawMessage
	ServerData    json.RawMessage
	LocalVersion  int
	ServerVersion int
	// ServerLastModified переопределяет время из заголовка серверных данных
	ServerLastModified time.Time
}
