package orders

import (
	"context"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StatusCache is an optional read-through cache of order status.
type StatusCache interface {
	SetStatus(ctx context.Context, orderID string, s Status) error
}

type Service struct {
	store  Store
	events Events
	cache  StatusCache
	log    *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

func WithEvents(e Events) Option           { return func(s *Service) { s.events = e } }
func WithStatusCache(c StatusCache) Option { return func(s *Service) { s.cache = c } }
func WithLogger(l *zap.Logger) Option      { return func(s *Service) { s.log = l } }
func WithTracer(t trace.Tracer) Option     { return func(s *Service) { s.tracer = t } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}
func WithIDs(next func() string) Option { return func(s *Service) { s.newID = next } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		log:    zap.NewNop(),
		tracer: otel.Tracer("github.com/ariefcatur/go-sales-orders/internal/orders"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func (s *Service) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, KindOf(err).String())
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "order must contain at least one line"}
	}
	for i, ln := range lines {
		if strings.TrimSpace(ln.ProductID) == "" {
			return &ValidationError{Field: "lines[" + strconv.Itoa(i) + "].product_id", Reason: "required"}
		}
		if err := CheckQuantity("lines["+strconv.Itoa(i)+"].quantity", ln.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// ProcessOrder places an order for customerID. Lines are applied in the
// given order, each as a conditional stock decrement priced at the product's
// stored price as read by that same decrement. Any failure rolls back every
// decrement made so far and no order is written.
func (s *Service) ProcessOrder(ctx context.Context, customerID string, lines []LineInput) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.ProcessOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer.id", customerID),
		attribute.Int("order.lines", len(lines)),
	)

	if err := validateLines(lines); err != nil {
		s.reject(span, customerID, err)
		return nil, err
	}

	now := s.now().UTC()
	order := &Order{
		ID:         s.newID(),
		CustomerID: customerID,
		Status:     StatusPending,
		Total:      decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.GetCustomer(ctx, customerID); err != nil {
			return err
		}
		for _, in := range lines {
			p, err := tx.DecrementStock(ctx, in.ProductID, in.Quantity)
			if err != nil {
				return err
			}
			order.addLine(p, in.Quantity)
		}
		if err := CheckOrderTotal(order.Total); err != nil {
			return err
		}
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		s.reject(span, customerID, err)
		return nil, err
	}

	ordersPlaced.Inc()
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.total", order.Total.String()))
	s.log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("customer_id", customerID),
		zap.Int("lines", len(order.Lines)),
		zap.String("total", order.Total.StringFixed(2)),
	)
	s.afterCommit(ctx, order, func() {
		if s.events != nil {
			s.events.OrderPlaced(ctx, order)
		}
	})
	return order, nil
}

func (s *Service) reject(span trace.Span, customerID string, err error) {
	kind := KindOf(err)
	ordersRejected.WithLabelValues(kind.String()).Inc()
	s.fail(span, err)
	if kind == KindInternal {
		s.log.Error("order processing failed", zap.String("customer_id", customerID), zap.Error(err))
		return
	}
	s.log.Info("order rejected", zap.String("customer_id", customerID), zap.String("kind", kind.String()), zap.Error(err))
}

// afterCommit runs best-effort side effects for a change that is already
// durable.
func (s *Service) afterCommit(ctx context.Context, o *Order, publish func()) {
	if s.cache != nil {
		if err := s.cache.SetStatus(ctx, o.ID, o.Status); err != nil {
			s.log.Warn("cache order status failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	publish()
}

// CancelOrder restores every line's quantity to its product and marks the
// order CANCELLED, all in one unit. Cancelling twice is rejected so stock is
// never credited twice.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	_, err := s.cancel(ctx, orderID)
	return err
}

func (s *Service) cancel(ctx context.Context, orderID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	var cancelled *Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		if !CanTransition(o.Status, StatusCancelled) {
			return &InvalidTransitionError{From: o.Status, To: StatusCancelled}
		}
		for _, ln := range o.Lines {
			if _, err := tx.IncrementStock(ctx, ln.ProductID, ln.Quantity); err != nil {
				return err
			}
		}
		if err := tx.SetOrderStatus(ctx, o.ID, StatusCancelled); err != nil {
			return err
		}
		o.Status = StatusCancelled
		o.UpdatedAt = s.now().UTC()
		cancelled = o
		return nil
	})
	if err != nil {
		s.fail(span, err)
		s.logFailure("cancel order failed", orderID, err)
		return nil, err
	}

	ordersCancelled.Inc()
	s.log.Info("order cancelled, stock restored", zap.String("order_id", orderID), zap.Int("lines", len(cancelled.Lines)))
	s.afterCommit(ctx, cancelled, func() {
		if s.events != nil {
			s.events.OrderCancelled(ctx, cancelled)
		}
	})
	return cancelled, nil
}

func (s *Service) logFailure(msg, orderID string, err error) {
	if KindOf(err) == KindInternal {
		s.log.Error(msg, zap.String("order_id", orderID), zap.Error(err))
		return
	}
	s.log.Info(msg, zap.String("order_id", orderID), zap.Error(err))
}

// UpdateStatus moves an order along PENDING → COMPLETED | CANCELLED.
// Moving to CANCELLED goes through the compensation path.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown status " + string(to)}
	}
	if to == StatusCancelled {
		return s.cancel(ctx, orderID)
	}

	ctx, span := s.tracer.Start(ctx, "orders.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(to)))

	var (
		updated *Order
		from    Status
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, to) {
			return &InvalidTransitionError{From: o.Status, To: to}
		}
		if err := tx.SetOrderStatus(ctx, o.ID, to); err != nil {
			return err
		}
		from = o.Status
		o.Status = to
		o.UpdatedAt = s.now().UTC()
		updated = o
		return nil
	})
	if err != nil {
		s.fail(span, err)
		s.logFailure("update order status failed", orderID, err)
		return nil, err
	}

	s.log.Info("order status changed", zap.String("order_id", orderID),
		zap.String("from", string(from)), zap.String("to", string(to)))
	s.afterCommit(ctx, updated, func() {
		if s.events != nil {
			s.events.OrderStatusChanged(ctx, updated, from)
		}
	})
	return updated, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o *Order
	err := s.store.InTx(ctx, func(tx Tx) (err error) {
		o, err = tx.GetOrder(ctx, id)
		return err
	})
	return o, err
}

func (s *Service) listOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	var out []Order
	err := s.store.InTx(ctx, func(tx Tx) (err error) {
		out, err = tx.ListOrders(ctx, f)
		return err
	})
	return out, err
}

func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	return s.listOrders(ctx, OrderFilter{})
}

func (s *Service) ListOrdersByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	return s.listOrders(ctx, OrderFilter{CustomerID: customerID})
}

func (s *Service) ListOrdersByStatus(ctx context.Context, status Status) ([]Order, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}
	return s.listOrders(ctx, OrderFilter{Status: status})
}

// TotalSpendByCustomer sums the totals of the customer's COMPLETED orders.
func (s *Service) TotalSpendByCustomer(ctx context.Context, customerID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.GetCustomer(ctx, customerID); err != nil {
			return err
		}
		var err error
		sum, err = tx.SumOrderTotals(ctx, customerID, StatusCompleted)
		return err
	})
	return sum, err
}

// ---- inventory ----

// Restock adds qty units to a product.
func (s *Service) Restock(ctx context.Context, productID string, qty int) (*Product, error) {
	if err := CheckQuantity("quantity", qty); err != nil {
		return nil, err
	}
	var p *Product
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.IncrementStock(ctx, productID, qty); err != nil {
			return err
		}
		var err error
		p, err = tx.GetProduct(ctx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	unitsRestocked.Add(float64(qty))
	s.log.Info("product restocked", zap.String("product_id", productID), zap.Int("qty", qty), zap.Int("stock", p.Stock))
	return p, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	var p *Product
	err := s.store.InTx(ctx, func(tx Tx) (err error) {
		p, err = tx.GetProduct(ctx, id)
		return err
	})
	return p, err
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	err := s.store.InTx(ctx, func(tx Tx) (err error) {
		out, err = tx.ListProducts(ctx)
		return err
	})
	return out, err
}

// ListAvailableProducts returns products with stock left.
func (s *Service) ListAvailableProducts(ctx context.Context) ([]Product, error) {
	all, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.Availability() != OutOfStock {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) SearchProducts(ctx context.Context, name string) ([]Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.ListProducts(ctx)
	}
	var out []Product
	err := s.store.InTx(ctx, func(tx Tx) (err error) {
		out, err = tx.SearchProducts(ctx, name)
		return err
	})
	return out, err
}

func checkPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, in NewProduct) (*Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "required"}
	}
	if err := checkPrice(in.Price); err != nil {
		return nil, err
	}
	if in.Stock < 0 || in.Stock > MaxStock {
		return nil, &ValidationError{Field: "stock", Reason: "must be between 0 and " + strconv.Itoa(MaxStock)}
	}
	now := s.now().UTC()
	p := &Product{
		ID:          s.newID(),
		Name:        strings.TrimSpace(in.Name),
		Category:    in.Category,
		Description: in.Description,
		Price:       in.Price.Round(2),
		Stock:       in.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InTx(ctx, func(tx Tx) error { return tx.CreateProduct(ctx, p) }); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProductPrice changes the catalog price. Existing order lines keep the
// price they were placed with.
func (s *Service) UpdateProductPrice(ctx context.Context, id string, price decimal.Decimal) (*Product, error) {
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	var p *Product
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.SetProductPrice(ctx, id, price.Round(2)); err != nil {
			return err
		}
		var err error
		p, err = tx.GetProduct(ctx, id)
		return err
	})
	return p, err
}

// ---- customers ----

func (s *Service) CreateCustomer(ctx context.Context, in NewCustomer) (*Customer, error) {
	switch {
	case strings.TrimSpace(in.FirstName) == "":
		return nil, &ValidationError{Field: "first_name", Reason: "required"}
	case strings.TrimSpace(in.LastName) == "":
		return nil, &ValidationError{Field: "last_name", Reason: "required"}
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil {
		return nil, &ValidationError{Field: "email", Reason: "not a valid address"}
	}
	c := &Customer{
		ID:           s.newID(),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        strings.ToLower(addr.Address),
		Phone:        in.Phone,
		Address:      in.Address,
		City:         in.City,
		Active:       true,
		RegisteredAt: s.now().UTC(),
	}
	if err := s.store.InTx(ctx, func(tx Tx) error { return tx.CreateCustomer(ctx, c) }); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var c *Customer
	err := s.store.InTx(ctx, func(tx Tx) (err error) {
		c, err = tx.GetCustomer(ctx, id)
		return err
	})
	return c, err
}

// IsDomainError reports whether err is one of the typed order errors rather
// than an infrastructure failure.
func IsDomainError(err error) bool {
	return err != nil && KindOf(err) != KindInternal
}
