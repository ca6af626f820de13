package payload

import (
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

// Type - вид сущности, который изменяется локально и синхронизируется с сервером
type Type string

const (
	TypeAssessment Type = "assessment"
	TypeResponse   Type = "response"
	TypeEntity     Type = "entity"
)

// Types перечисляет все поддерживаемые виды сущностей
var Types = []Type{TypeAssessment, TypeResponse, TypeEntity}

func (Type) Schema(_ huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type: "string",
		Enum: []any{
			string(TypeAssessment),
			string(TypeResponse),
			string(TypeEntity),
		},
		Description: "Вид синхронизируемой сущности",
		Examples:    []any{TypeAssessment},
	}
}

// Validate проверяет, что тип входит в перечисление
func (t Type) Validate() error {
	switch t {
	case TypeAssessment, TypeResponse, TypeEntity:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownType, string(t))
}

func (t Type) String() string {
	return string(t)
}

// DisplayName возвращает человекочитаемое название типа.
func (t Type) DisplayName() string {
	switch t {
	case TypeAssessment:
		return "Оценка"
	case TypeResponse:
		return "Реагирование"
	case TypeEntity:
		return "Объект"
	default:
		return "Неизвестный тип"
	}
}

// Action - вид локальной мутации
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Actions перечисляет все поддерживаемые мутации
var Actions = []Action{ActionCreate, ActionUpdate, ActionDelete}

func (Action) Schema(_ huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type: "string",
		Enum: []any{
			string(ActionCreate),
			string(ActionUpdate),
			string(ActionDelete),
		},
		Description: "Вид изменения",
		Examples:    []any{ActionUpdate},
	}
}

// Validate проверяет, что действие входит в перечисление
func (a Action) Validate() error {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, string(a))
}

func (a Action) String() string {
	return string(a)
}
