package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Factory - фабрика для создания и разбора данных сущностей по их виду
type Factory struct{}

// NewFactory создает новую фабрику
func NewFactory() *Factory {
	return &Factory{}
}

// Create создает пустую структуру данных для указанного вида
func (f *Factory) Create(typ Type) (Payload, error) {
	switch typ {
	case TypeAssessment:
		return &Assessment{}, nil
	case TypeResponse:
		return &Response{}, nil
	case TypeEntity:
		return &Entity{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(typ))
	}
}

// Parse разбирает JSON в структуру указанного вида и валидирует ее
func (f *Factory) Parse(typ Type, data []byte) (Payload, error) {
	p, err := f.Create(typ)
	if err != nil {
		return nil, err
	}

	if !isObject(data) {
		return nil, fmt.Errorf("%w: %s payload must be a JSON object", ErrInvalidData, typ)
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s payload: %v", ErrInvalidData, typ, err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// Validate проверяет, что JSON является корректными данными указанного вида
func (f *Factory) Validate(typ Type, data []byte) error {
	_, err := f.Parse(typ, data)
	return err
}

// Encode сериализует данные сущности
func (f *Factory) Encode(p Payload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// ReadHeader извлекает общие поля без валидации.
// Для нечитаемого JSON возвращается пустой заголовок.
func (f *Factory) ReadHeader(data []byte) Header {
	var h Header
	_ = json.Unmarshal(data, &h)
	return h
}

func isObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
