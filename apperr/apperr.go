// Package apperr defines the rejection kinds shared by every state-changing
// operation. Domain packages wrap one of these sentinels so callers can branch
// with errors.Is regardless of which aggregate rejected the call.
package apperr

import "errors"

var (
	// ErrValidation marks malformed input: counts out of range, amount
	// mismatches, field length limits.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized marks a caller that does not hold the role the action
	// requires on the targeted record.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrState marks an operation that is invalid for the current status.
	ErrState = errors.New("invalid state")
	// ErrLimit marks a bounded counter or collection that is already full.
	ErrLimit = errors.New("limit reached")
	// ErrDuplicate marks a second write of something allowed only once.
	ErrDuplicate = errors.New("duplicate")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
)

// Kind is the stable, loggable name of a rejection kind.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindState        Kind = "state"
	KindLimit        Kind = "limit"
	KindDuplicate    Kind = "duplicate"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrUnauthorized, KindUnauthorized},
	{ErrState, KindState},
	{ErrLimit, KindLimit},
	{ErrDuplicate, KindDuplicate},
	{ErrNotFound, KindNotFound},
}

// KindOf classifies err. Errors that wrap none of the sentinels are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
