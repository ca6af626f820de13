package conflict

import (
	"encoding/json"
	"fmt"
	"time"
)

// MergeFunc объединяет локальную и серверную версии.
// Ошибка означает, что объединение невозможно и нужно откатиться к last_write_wins.
type MergeFunc func(rec *Record, now time.Time) (json.RawMessage, error)

// ShallowMerge накладывает локальные поля поверх серверных.
// Итоговый lastModified - максимальный из двух, version - на единицу больше максимальной.
// Сведения об объединении сохраняются в fields._merge.
//
// Объединение поверхностное: вложенные значения (items, fields) целиком берутся
// из локальной версии, если она их содержит.
func ShallowMerge(rec *Record, now time.Time) (json.RawMessage, error) {
	var server, local map[string]any
	if err := json.Unmarshal(rec.ServerData, &server); err != nil || server == nil {
		return nil, fmt.Errorf("%w: server data is not an object", ErrMergeFailed)
	}
	if err := json.Unmarshal(rec.LocalData, &local); err != nil || local == nil {
		return nil, fmt.Errorf("%w: local data is not an object", ErrMergeFailed)
	}

	merged := make(map[string]any, len(server)+len(local))
	for k, v := range server {
		merged[k] = v
	}
	for k, v := range local {
		merged[k] = v
	}

	lastModified := rec.Metadata.LocalLastModified
	if rec.Metadata.ServerLastModified.After(lastModified) {
		lastModified = rec.Metadata.ServerLastModified
	}
	merged["lastModified"] = lastModified.UTC().Format(time.RFC3339Nano)
	merged["version"] = max(rec.LocalVersion, rec.ServerVersion) + 1

	fields := map[string]any{}
	if raw, ok := merged["fields"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: fields is not an object", ErrMergeFailed)
		}
		for k, v := range m {
			fields[k] = v
		}
	}
	fields["_merge"] = map[string]any{
		"strategy":      "shallow",
		"localVersion":  rec.LocalVersion,
		"serverVersion": rec.ServerVersion,
		"mergedAt":      now.UTC().Format(time.RFC3339Nano),
	}
	merged["fields"] = fields

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMergeFailed, err)
	}
	return data, nil
}
