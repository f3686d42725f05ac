package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrCrossStoreConflict   = errors.New("cart contains items from another store")
	ErrOrderAlreadyAssigned = errors.New("order already assigned")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrInventoryExists      = errors.New("inventory record already exists")
	ErrDuplicateRequest     = errors.New("duplicate request")
	ErrOrderNotEligible     = errors.New("order not eligible for dispatch")
	ErrRiderUnavailable     = errors.New("rider not available")
	ErrDeliveryNotActive    = errors.New("delivery not active")
	ErrCartEmpty            = errors.New("cart is empty")
	ErrProductUnavailable   = errors.New("product unavailable")

	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("assignment belongs to another rider")

	ErrNoRidersAvailable = errors.New("no riders available")
)

// ValidationError reports malformed input. It is returned before any transaction opens.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindForbidden
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

var conflictErrors = []error{
	ErrInsufficientStock,
	ErrCrossStoreConflict,
	ErrOrderAlreadyAssigned,
	ErrInvalidTransition,
	ErrInventoryExists,
	ErrDuplicateRequest,
	ErrOrderNotEligible,
	ErrRiderUnavailable,
	ErrDeliveryNotActive,
	ErrCartEmpty,
	ErrProductUnavailable,
}

// KindOf classifies err for the transport adapters. Anything unrecognised is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrUnauthorized):
		return KindForbidden
	case errors.Is(err, ErrNoRidersAvailable):
		return KindUnavailable
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return KindConflict
		}
	}
	return KindInternal
}
