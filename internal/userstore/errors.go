package userstore

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching against the typed errors below.
var (
	ErrCorrupt = errors.New("user store corrupt")
	ErrIO      = errors.New("user store i/o")

	errIDSpaceExhausted = errors.New("id space exhausted")
)

// CorruptError reports that the backing file exists but does not hold a
// JSON array of user records, or that its ids leave no room for another.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt user store %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

// IOError reports a read or write failure other than the backing file
// being absent.
type IOError struct {
	Op   string // "read" or "write"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s user store %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }
