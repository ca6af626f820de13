package sync

import (
	"reliefsync/internal/domain/sync"
)

type batchInput struct {
	Body sync.BatchRequest
}

type batchOutput struct {
	Body sync.BatchResponse
}
