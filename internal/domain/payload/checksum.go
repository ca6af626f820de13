package payload

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Checksum вычисляет blake2b-256 от канонического JSON (ключи отсортированы).
// Одинаковые по содержимому данные дают одинаковую сумму независимо от форматирования.
func Checksum(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
