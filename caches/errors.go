package caches

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of storage failed for reason : %s ", ve.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (ve ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	ErrValidation = errors.New("invalid storage configuration")

	// ErrQuotaExceeded is returned when a write would grow a bounded storage past its limit.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrRejected is returned when an admission-controlled storage drops a write.
	ErrRejected = errors.New("storage rejected item")
)
