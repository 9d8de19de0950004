package core

import (
	"errors"
	"fmt"
)

// ErrInvariant marks internal-consistency failures. Hitting one means the
// upstream resolution graph is broken, not that user input was bad.
var ErrInvariant = errors.New("inconsistent resolution state")

// MissingReferenceError is returned when a resolved package record carries no
// reference to compute its identity from.
type MissingReferenceError struct {
	Pattern string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("package for pattern %q has no resolved reference", e.Pattern)
}

func (e *MissingReferenceError) Unwrap() error {
	return ErrInvariant
}

// MissingRemoteError is returned when a resolved package record carries no
// remote descriptor at all.
type MissingRemoteError struct {
	Pattern string
}

func (e *MissingRemoteError) Error() string {
	return fmt.Sprintf("package for pattern %q has no remote descriptor", e.Pattern)
}

func (e *MissingRemoteError) Unwrap() error {
	return ErrInvariant
}
