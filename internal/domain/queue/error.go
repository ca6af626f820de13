package queue

import "errors"

var (
	ErrNotFound    = errors.New("queue item not found")
	ErrInvalidItem = errors.New("invalid queue item")
)
