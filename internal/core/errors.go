package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrDuplicateDate = errors.New("duplicate date")
	ErrNotFound      = errors.New("record not found")
	ErrTransport     = errors.New("transport failure")

	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCustomers = errors.New("invalid customer count")
	ErrInvalidDate      = errors.New("invalid date")
)

// ValidationError rejects a record before it reaches a store.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DuplicateDateError reports a second record for a village and day.
type DuplicateDateError struct {
	Village VillageRef
	Date    DayKey
	// ExistingID is the id of the record already holding the day, if any.
	ExistingID string
}

func (e *DuplicateDateError) Error() string {
	return fmt.Sprintf("duplicate date: village %q already has a record for %s", e.Village.String(), e.Date)
}

func (e *DuplicateDateError) Is(target error) bool {
	return target == ErrDuplicateDate
}

// NotFoundError reports an update or removal of an unknown id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record not found: %q", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TransportError wraps a collaborator I/O failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport wraps err as a TransportError unless it is nil or already one of
// the domain errors.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateDate) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
