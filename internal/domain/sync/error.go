package sync

import "errors"

var (
	ErrValidation     = errors.New("batch validation failed")
	ErrEntityNotFound = errors.New("entity not found")
	ErrEntityExists   = errors.New("entity already exists")
)
