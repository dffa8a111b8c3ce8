// Package common defines sentinel errors shared by the field agent layers.
// Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal   = errors.New("internal error")
	ErrInvalidState = errors.New("invalid state")

	// Local staging area is unavailable, full or returned a corrupt payload.
	ErrStaging = errors.New("staging error")

	// A single network upload attempt failed. Retryable.
	ErrUpload = errors.New("upload error")

	// Submit attempted while offline.
	ErrOffline = errors.New("offline")

	// Reconciliation errors.
	ErrMapping           = errors.New("reconciliation mapping error")
	ErrUpsert            = errors.New("reconciliation upsert error")
	ErrUploadsIncomplete = errors.New("uploads incomplete")
	ErrJobUpdate         = errors.New("job status update error")
)

// Wrap annotates err with an operation name while keeping kind matchable via
// errors.Is. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// MappingError describes a checklist entry whose human readable name could
// not be resolved to a remote identifier.
type MappingError struct {
	Location  string
	Attribute string
	Field     string // "location", "attribute" or "status"
	Name      string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("unresolved %s %q for %s/%s", e.Field, e.Name, e.Location, e.Attribute)
}

func (e *MappingError) Unwrap() error {
	return ErrMapping
}
