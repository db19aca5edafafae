package identity

import (
	"errors"
	"fmt"
)

// Logical operation names carried by OpError.
const (
	OpInsert           = "identity.Insert"
	OpFindByToken      = "identity.FindByToken"
	OpTouch            = "identity.Touch"
	OpDelete           = "identity.Delete"
	OpDeleteByID       = "identity.DeleteByID"
	OpDeleteByUser     = "identity.DeleteByUser"
	OpDeleteIfIdle     = "identity.DeleteIfIdle"
	OpDeleteIdleBefore = "identity.DeleteIdleBefore"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is always one of the sentinels in kinds.go; Err is the driver cause, if any.
// Neither carries token values.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConnection reports whether err represents ErrConnection.
func IsConnection(err error) bool { return errors.Is(err, ErrConnection) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

func notFound(op string) error {
	return OpError{Op: op, Kind: ErrNotFound}
}

func invalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Err: errors.New(msg)}
}

// classify maps a raw driver error onto a kind. isUnique is the dialect's
// duplicate-key detector. Values the server refuses to store (too long, out
// of range, bad encoding) are invalid input; everything else is treated as a
// connection failure.
func classify(op string, err error, isUnique func(error) bool) error {
	if err == nil {
		return nil
	}
	var already OpError
	if errors.As(err, &already) {
		return err
	}
	if isUnique != nil && isUnique(err) {
		return OpError{Op: op, Kind: ErrConflict, Err: err}
	}
	if isDataError(err) {
		return OpError{Op: op, Kind: ErrInvalidInput, Err: err}
	}
	return OpError{Op: op, Kind: ErrConnection, Err: err}
}


func isDataError(err error) bool {
	return mysqlIsDataError(err) || pgIsDataError(err) || sqliteIsDataError(err)
}
