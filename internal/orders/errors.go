package orders

import (
	"errors"
	"fmt"
)

const (
	EntityCustomer = "customer"
	EntityProduct  = "product"
	EntityOrder    = "order"
)

var ErrAlreadyCancelled = errors.New("order already cancelled")

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInsufficientStock
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// KindOf classifies err; anything unrecognised is KindInternal.
func KindOf(err error) Kind {
	var (
		nf *NotFoundError
		is *InsufficientStockError
		ve *ValidationError
		it *InvalidTransitionError
	)
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &nf):
		return KindNotFound
	case errors.As(err, &is):
		return KindInsufficientStock
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &it), errors.Is(err, ErrAlreadyCancelled):
		return KindConflict
	default:
		return KindInternal
	}
}
