package imports

import (
	"errors"
	"fmt"
)

var (
	ErrMissingName        = errors.New("import name is required")
	ErrMissingProduct     = errors.New("product is required")
	ErrInvalidGranularity = errors.New("granularity is not supported")
	ErrInvalidDatapoints  = errors.New("datapoints must be positive")
	ErrDuplicateName      = errors.New("import name already exists")
	ErrNotFound           = errors.New("import not found")
)

// StorageError reports a failed persistence operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
