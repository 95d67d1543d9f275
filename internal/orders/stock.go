package orders

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

type Availability string

const (
	OutOfStock Availability = "OUT_OF_STOCK"
	LowStock   Availability = "LOW_STOCK"
	Available  Availability = "AVAILABLE"
)

// LowStockThreshold is the highest stock still reported as LOW_STOCK.
const LowStockThreshold = 3

func Classify(stock int) Availability {
	switch {
	case stock <= 0:
		return OutOfStock
	case stock <= LowStockThreshold:
		return LowStock
	default:
		return Available
	}
}

// Bounds mirror the column types so both stores reject the same inputs.
const (
	MaxQuantity = 1_000_000
	MaxStock    = math.MaxInt32
)

// MaxOrderTotal is the largest value a NUMERIC(14,2) total can hold.
var MaxOrderTotal = decimal.RequireFromString("999999999999.99")

// CheckQuantity rejects quantities below one or above MaxQuantity.
func CheckQuantity(field string, qty int) error {
	switch {
	case qty < 1:
		return &ValidationError{Field: field, Reason: "must be at least 1"}
	case qty > MaxQuantity:
		return &ValidationError{Field: field, Reason: "must be at most " + strconv.Itoa(MaxQuantity)}
	}
	return nil
}

// CheckIncrement rejects a restock that would push stock past MaxStock.
func CheckIncrement(stock, qty int) error {
	if err := CheckQuantity("quantity", qty); err != nil {
		return err
	}
	if stock > MaxStock-qty {
		return &ValidationError{Field: "quantity", Reason: "stock would exceed " + strconv.Itoa(MaxStock)}
	}
	return nil
}

// CheckOrderTotal rejects totals the order table cannot store.
func CheckOrderTotal(total decimal.Decimal) error {
	if total.GreaterThan(MaxOrderTotal) {
		return &ValidationError{Field: "total", Reason: "exceeds " + MaxOrderTotal.StringFixed(2)}
	}
	return nil
}

// CheckDecrement reports whether qty units can be taken from stock without
// going negative. Stores apply it at the point of mutation, never against an
// earlier read.
func CheckDecrement(productID string, stock, qty int) error {
	if err := CheckQuantity("quantity", qty); err != nil {
		return err
	}
	if stock < qty {
		return &InsufficientStockError{ProductID: productID, Available: stock, Requested: qty}
	}
	return nil
}
