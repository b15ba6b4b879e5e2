package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIPAddress = errors.New("invalid IP address")
	ErrInvalidRule      = errors.New("invalid rule")
	ErrInvalidTTL       = errors.New("invalid rule timespan")
	ErrDuplicateActive  = errors.New("an active rule already exists for this IP")
	ErrRuleNotFound     = errors.New("rule not found")
)

// StorageError wraps a persistence failure (unavailable store, timeout) so
// the firewall can distinguish it from domain errors and fail open. A broken
// audit path must not turn into a denial of service against legitimate users.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err stems from the persistence layer.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
