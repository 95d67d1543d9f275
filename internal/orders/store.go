package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store runs fn as one all-or-nothing unit: every write made through tx
// commits together, or none do when fn returns an error.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the persistence surface the order workflow needs. Stock is only ever
// changed through DecrementStock and IncrementStock.
type Tx interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	CreateCustomer(ctx context.Context, c *Customer) error

	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	SearchProducts(ctx context.Context, name string) ([]Product, error)
	CreateProduct(ctx context.Context, p *Product) error
	SetProductPrice(ctx context.Context, id string, price decimal.Decimal) error

	// DecrementStock subtracts qty only if the stock at apply time covers it
	// and returns the product as of that write, so its price and name come
	// from the same read as the decrement. Otherwise it returns an
	// *InsufficientStockError carrying the stock observed at that moment.
	DecrementStock(ctx context.Context, productID string, qty int) (*Product, error)
	IncrementStock(ctx context.Context, productID string, qty int) (int, error)

	// CreateOrder persists the order together with all of its lines.
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	// LockOrder is GetOrder plus a write lock held until the unit ends.
	LockOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	SetOrderStatus(ctx context.Context, id string, s Status) error
	SumOrderTotals(ctx context.Context, customerID string, s Status) (decimal.Decimal, error)
}
