package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Address      string    `json:"address,omitempty"`
	City         string    `json:"city,omitempty"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (c Customer) FullName() string { return c.FirstName + " " + c.LastName }

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (p Product) Availability() Availability { return Classify(p.Stock) }

type Order struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	Status     Status          `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Lines      []OrderLine     `json:"lines"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// OrderLine carries the product's price and name as they were when the order
// was placed; later catalog changes do not touch it.
type OrderLine struct {
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// LineInput is one requested (product, quantity) pair.
type LineInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// addLine snapshots p's current price into a new line and folds the subtotal
// into the order total.
func (o *Order) addLine(p *Product, qty int) {
	sub := p.Price.Mul(decimal.NewFromInt(int64(qty)))
	o.Lines = append(o.Lines, OrderLine{
		OrderID:     o.ID,
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    qty,
		UnitPrice:   p.Price,
		Subtotal:    sub,
	})
	o.Total = o.Total.Add(sub)
}

// LinesTotal recomputes the sum of line subtotals.
func (o *Order) LinesTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, ln := range o.Lines {
		sum = sum.Add(ln.Subtotal)
	}
	return sum
}

func (o Order) clone() Order {
	o.Lines = append([]OrderLine(nil), o.Lines...)
	return o
}

// OrderFilter narrows ListOrders; zero fields match everything.
type OrderFilter struct {
	CustomerID string
	Status     Status
}

type NewProduct struct {
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

type NewCustomer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
}
