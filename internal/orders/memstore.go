package orders

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemStore is an in-process Store. Units run one at a time under a mutex and
// every mutation records an undo step, so a failed unit leaves no trace.
type MemStore struct {
	mu        sync.Mutex
	customers map[string]Customer
	products  map[string]Product
	orders    map[string]Order
	now       func() time.Time
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		customers: map[string]Customer{},
		products:  map[string]Product{},
		orders:    map[string]Order{},
		now:       time.Now,
	}
}

func (s *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memTx struct {
	s    *MemStore
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetCustomer(_ context.Context, id string) (*Customer, error) {
	c, ok := t.s.customers[id]
	if !ok {
		return nil, &NotFoundError{Entity: EntityCustomer, ID: id}
	}
	return &c, nil
}

func (t *memTx) CreateCustomer(_ context.Context, c *Customer) error {
	for _, other := range t.s.customers {
		if strings.EqualFold(other.Email, c.Email) {
			return &ValidationError{Field: "email", Reason: "already registered"}
		}
	}
	t.s.customers[c.ID] = *c
	t.undo = append(t.undo, func() { delete(t.s.customers, c.ID) })
	return nil
}

func (t *memTx) GetProduct(_ context.Context, id string) (*Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, &NotFoundError{Entity: EntityProduct, ID: id}
	}
	return &p, nil
}

func (t *memTx) ListProducts(_ context.Context) ([]Product, error) {
	return t.sortedProducts(func(Product) bool { return true }), nil
}

func (t *memTx) SearchProducts(_ context.Context, name string) ([]Product, error) {
	needle := strings.ToLower(name)
	return t.sortedProducts(func(p Product) bool {
		return strings.Contains(strings.ToLower(p.Name), needle)
	}), nil
}

func (t *memTx) sortedProducts(keep func(Product) bool) []Product {
	var out []Product
	for _, p := range t.s.products {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *memTx) CreateProduct(_ context.Context, p *Product) error {
	t.s.products[p.ID] = *p
	t.undo = append(t.undo, func() { delete(t.s.products, p.ID) })
	return nil
}

// putProduct replaces a product and records the previous version for undo.
func (t *memTx) putProduct(p Product) {
	prev := t.s.products[p.ID]
	p.UpdatedAt = t.s.now().UTC()
	t.s.products[p.ID] = p
	t.undo = append(t.undo, func() { t.s.products[prev.ID] = prev })
}

func (t *memTx) SetProductPrice(_ context.Context, id string, price decimal.Decimal) error {
	p, ok := t.s.products[id]
	if !ok {
		return &NotFoundError{Entity: EntityProduct, ID: id}
	}
	p.Price = price
	t.putProduct(p)
	return nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, qty int) (*Product, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return nil, &NotFoundError{Entity: EntityProduct, ID: productID}
	}
	if err := CheckDecrement(productID, p.Stock, qty); err != nil {
		return nil, err
	}
	p.Stock -= qty
	t.putProduct(p)
	return &p, nil
}

func (t *memTx) IncrementStock(_ context.Context, productID string, qty int) (int, error) {
	if err := CheckQuantity("quantity", qty); err != nil {
		return 0, err
	}
	p, ok := t.s.products[productID]
	if !ok {
		return 0, &NotFoundError{Entity: EntityProduct, ID: productID}
	}
	if err := CheckIncrement(p.Stock, qty); err != nil {
		return 0, err
	}
	p.Stock += qty
	t.putProduct(p)
	return p.Stock, nil
}

func (t *memTx) CreateOrder(_ context.Context, o *Order) error {
	if _, ok := t.s.customers[o.CustomerID]; !ok {
		return &NotFoundError{Entity: EntityCustomer, ID: o.CustomerID}
	}
	stored := o.clone()
	stored.UpdatedAt = stored.CreatedAt
	t.s.orders[o.ID] = stored
	t.undo = append(t.undo, func() { delete(t.s.orders, o.ID) })
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (*Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, &NotFoundError{Entity: EntityOrder, ID: id}
	}
	o = o.clone()
	return &o, nil
}

// LockOrder needs no extra locking: the unit already holds the store mutex.
func (t *memTx) LockOrder(ctx context.Context, id string) (*Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memTx) ListOrders(_ context.Context, f OrderFilter) ([]Order, error) {
	var out []Order
	for _, o := range t.s.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) SetOrderStatus(_ context.Context, id string, s Status) error {
	o, ok := t.s.orders[id]
	if !ok {
		return &NotFoundError{Entity: EntityOrder, ID: id}
	}
	prev := o
	o.Status = s
	o.UpdatedAt = t.s.now().UTC()
	t.s.orders[id] = o
	t.undo = append(t.undo, func() { t.s.orders[id] = prev })
	return nil
}

func (t *memTx) SumOrderTotals(_ context.Context, customerID string, s Status) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, o := range t.s.orders {
		if o.CustomerID == customerID && o.Status == s {
			sum = sum.Add(o.Total)
		}
	}
	return sum, nil
}
