package query

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedQuery matches every parameter parsing failure.
	ErrMalformedQuery     = errors.New("malformed query")
	ErrArityMismatch      = errors.New("parallel parameter lists differ in length")
	ErrInvalidDirection   = errors.New("invalid order direction")
	ErrInvalidAggregation = errors.New("invalid aggregation")
)

// Family names a directive family in query errors.
type Family string

const (
	FamilyColumn Family = "column"
	FamilyFilter Family = "filter"
	FamilyOrder  Family = "order"
	FamilyGroup  Family = "group"
	FamilyOffset Family = "offset"
	FamilyLimit  Family = "limit"
	FamilyIndex  Family = "index"
)

// Error reports which directive family failed to parse and why. It matches
// ErrMalformedQuery as well as the wrapped cause.
type Error struct {
	Family Family
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrMalformedQuery, e.Family, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrMalformedQuery
}

func malformed(family Family, format string, args ...any) error {
	return &Error{Family: family, Err: fmt.Errorf(format, args...)}
}
