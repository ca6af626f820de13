package payload

import "errors"

var (
	ErrUnknownType   = errors.New("unknown entity type")
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidData   = errors.New("invalid payload data")
)
