package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the core wraps exactly one of these.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrPermission  = errors.New("permission denied")
	ErrConcurrency = errors.New("concurrent modification, retry")
)

var (
	ErrInsufficientStock        = fmt.Errorf("%w: insufficient stock", ErrConflict)
	ErrNegativeStock            = fmt.Errorf("%w: quantity would drop below zero", ErrConflict)
	ErrSlipFinished             = fmt.Errorf("%w: withdrawal slip already finished", ErrConflict)
	ErrReturnExceedsOutstanding = fmt.Errorf("%w: return amount exceeds outstanding", ErrConflict)
	ErrIllegalTransition        = fmt.Errorf("%w: illegal status transition", ErrConflict)
	ErrDuplicateItemName        = fmt.Errorf("%w: item name already exists", ErrConflict)
	ErrDuplicateRequest         = fmt.Errorf("%w: duplicate request", ErrConflict)
)

// Kind identifies which of the five error kinds an error belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindPermission
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPermission:
		return "permission"
	case KindConcurrency:
		return "concurrency"
	default:
		return "internal"
	}
}

// KindOf classifies err. Nil and unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConcurrency):
		return KindConcurrency
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrPermission):
		return KindPermission
	default:
		return KindUnknown
	}
}

// Invalid builds a validation error with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Missing builds a not-found error naming the entity and id.
func Missing(entity string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
}
