package payload

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Header - общие поля любой синхронизируемой сущности
type Header struct {
	UUID         string    `json:"uuid"`
	Version      int       `json:"version"`
	LastModified time.Time `json:"lastModified"`
}

func (h *Header) validate() error {
	if _, err := uuid.Parse(h.UUID); err != nil {
		return fmt.Errorf("%w: uuid: %v", ErrInvalidData, err)
	}
	if h.Version < 0 {
		return fmt.Errorf("%w: version must not be negative", ErrInvalidData)
	}
	return nil
}

// Payload - данные сущности конкретного вида
type Payload interface {
	Kind() Type
	Meta() *Header
	Validate() error
}

// Category - направление оценки или реагирования
type Category string

const (
	CategoryHealth     Category = "HEALTH"
	CategoryWASH       Category = "WASH"
	CategoryShelter    Category = "SHELTER"
	CategoryFood       Category = "FOOD"
	CategorySecurity   Category = "SECURITY"
	CategoryPopulation Category = "POPULATION"
)

func (c Category) validate() error {
	switch c {
	case CategoryHealth, CategoryWASH, CategoryShelter, CategoryFood, CategorySecurity, CategoryPopulation:
		return nil
	}
	return fmt.Errorf("%w: unknown category %q", ErrInvalidData, string(c))
}

// Assessment - оценка потребностей пострадавшего объекта
type Assessment struct {
	Header
	AssessmentType     Category       `json:"assessmentType"`
	AffectedEntityUUID string         `json:"affectedEntityUuid"`
	Date               time.Time      `json:"date"`
	Status             string         `json:"status,omitempty"` // DRAFT, SUBMITTED, VERIFIED
	Summary            string         `json:"summary,omitempty"`
	Fields             map[string]any `json:"fields,omitempty"`
}

func (a *Assessment) Kind() Type    { return TypeAssessment }
func (a *Assessment) Meta() *Header { return &a.Header }

func (a *Assessment) Validate() error {
	if err := a.Header.validate(); err != nil {
		return err
	}
	if err := a.AssessmentType.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(a.AffectedEntityUUID) == "" {
		return fmt.Errorf("%w: affectedEntityUuid is required", ErrInvalidData)
	}
	switch a.Status {
	case "", "DRAFT", "SUBMITTED", "VERIFIED":
	default:
		return fmt.Errorf("%w: unknown assessment status %q", ErrInvalidData, a.Status)
	}
	return nil
}

// ResponseItem - позиция поставки в рамках реагирования
type ResponseItem struct {
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	Quantity float64 `json:"quantity"`
}

// Response - запланированное или выполненное реагирование на оценку
type Response struct {
	Header
	ResponseType       Category       `json:"responseType"`
	AssessmentUUID     string         `json:"assessmentUuid,omitempty"`
	AffectedEntityUUID string         `json:"affectedEntityUuid"`
	PlannedDate        time.Time      `json:"plannedDate"`
	Status             string         `json:"status,omitempty"` // PLANNED, IN_PROGRESS, DELIVERED
	Items              []ResponseItem `json:"items,omitempty"`
	Fields             map[string]any `json:"fields,omitempty"`
}

func (r *Response) Kind() Type    { return TypeResponse }
func (r *Response) Meta() *Header { return &r.Header }

func (r *Response) Validate() error {
	if err := r.Header.validate(); err != nil {
		return err
	}
	if err := r.ResponseType.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.AffectedEntityUUID) == "" {
		return fmt.Errorf("%w: affectedEntityUuid is required", ErrInvalidData)
	}
	switch r.Status {
	case "", "PLANNED", "IN_PROGRESS", "DELIVERED":
	default:
		return fmt.Errorf("%w: unknown response status %q", ErrInvalidData, r.Status)
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: items[%d].name is required", ErrInvalidData, i)
		}
		if item.Quantity < 0 {
			return fmt.Errorf("%w: items[%d].quantity must not be negative", ErrInvalidData, i)
		}
	}
	return nil
}

// Entity - пострадавший объект: лагерь или населенный пункт
type Entity struct {
	Header
	EntityType string         `json:"entityType"` // CAMP, COMMUNITY
	Name       string         `json:"name"`
	LGA        string         `json:"lga,omitempty"`
	Ward       string         `json:"ward,omitempty"`
	Latitude   *float64       `json:"latitude,omitempty"`
	Longitude  *float64       `json:"longitude,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

func (e *Entity) Kind() Type    { return TypeEntity }
func (e *Entity) Meta() *Header { return &e.Header }

func (e *Entity) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	switch e.EntityType {
	case "CAMP", "COMMUNITY":
	default:
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidData, e.EntityType)
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidData)
	}
	if e.Latitude != nil && (*e.Latitude < -90 || *e.Latitude > 90) {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidData)
	}
	if e.Longitude != nil && (*e.Longitude < -180 || *e.Longitude > 180) {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidData)
	}
	return nil
}
