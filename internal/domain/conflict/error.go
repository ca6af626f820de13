package conflict

import "errors"

var (
	ErrNotFound            = errors.New("conflict not found")
	ErrAlreadyResolved     = errors.New("conflict already resolved")
	ErrManualDataRequired  = errors.New("manual resolution requires resolved data")
	ErrUnsupportedStrategy = errors.New("unsupported resolution strategy")
	ErrMergeFailed         = errors.New("merge failed")
)
