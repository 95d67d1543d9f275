package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// TxBeginner is satisfied by *pgxpool.Pool (and pgxmock pools in tests).
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Repo is the Postgres-backed Store.
type Repo struct{ DB TxBeginner }

var _ Store = (*Repo)(nil)

func (r *Repo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct{ tx pgx.Tx }

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	uniqueViolation   = "23505"
	numericOutOfRange = "22003"
)

func notFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

// ---- customers ----

const customerCols = `id, first_name, last_name, email, phone, address, city, active, registered_at`

func (t *pgTx) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	err := t.tx.QueryRow(ctx, `SELECT `+customerCols+` FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Address, &c.City, &c.Active, &c.RegisteredAt)
	if err != nil {
		return nil, notFound(err, EntityCustomer, id)
	}
	return &c, nil
}

func (t *pgTx) CreateCustomer(ctx context.Context, c *Customer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO customers(`+customerCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.Address, c.City, c.Active, c.RegisteredAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &ValidationError{Field: "email", Reason: "already registered"}
	}
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

// ---- products ----

const productCols = `id, name, category, description, price::text, stock, created_at, updated_at`

func scanProduct(row rowScanner) (Product, error) {
	var (
		p     Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Description, &price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	d, err := parseDecimal("price", price)
	if err != nil {
		return p, err
	}
	p.Price = d
	return p, nil
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err, EntityProduct, id)
	}
	return &p, nil
}

func (t *pgTx) queryProducts(ctx context.Context, sql string, args ...any) ([]Product, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) ListProducts(ctx context.Context) ([]Product, error) {
	return t.queryProducts(ctx, `SELECT `+productCols+` FROM products ORDER BY name, id`)
}

func (t *pgTx) SearchProducts(ctx context.Context, name string) ([]Product, error) {
	return t.queryProducts(ctx, `SELECT `+productCols+` FROM products
		WHERE name ILIKE '%' || $1 || '%' ORDER BY name, id`, name)
}

func (t *pgTx) CreateProduct(ctx context.Context, p *Product) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO products(id, name, category, description, price, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8)`,
		p.ID, p.Name, p.Category, p.Description, p.Price.String(), p.Stock, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (t *pgTx) SetProductPrice(ctx context.Context, id string, price decimal.Decimal) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET price=$2::numeric, updated_at=now() WHERE id=$1`, id, price.String())
	if err != nil {
		return fmt.Errorf("update price %s: %w", id, err)
	}
	if ct.RowsAffected() != 1 {
		return &NotFoundError{Entity: EntityProduct, ID: id}
	}
	return nil
}

// ---- stock ----

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) (*Product, error) {
	if err := CheckQuantity("quantity", qty); err != nil {
		return nil, err
	}
	p, err := scanProduct(t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING `+productCols, productID, qty))
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decrement stock %s: %w", productID, err)
	}

	// Zero rows: either the product vanished or the guard rejected the update.
	var stock int
	if err := t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock); err != nil {
		return nil, notFound(err, EntityProduct, productID)
	}
	return nil, &InsufficientStockError{ProductID: productID, Available: stock, Requested: qty}
}

func (t *pgTx) IncrementStock(ctx context.Context, productID string, qty int) (int, error) {
	if err := CheckQuantity("quantity", qty); err != nil {
		return 0, err
	}
	var stock int
	err := t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock`, productID, qty).Scan(&stock)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == numericOutOfRange {
		return 0, &ValidationError{Field: "quantity", Reason: "stock would exceed " + strconv.Itoa(MaxStock)}
	}
	if err != nil {
		return 0, notFound(err, EntityProduct, productID)
	}
	return stock, nil
}

// ---- orders ----

func (t *pgTx) CreateOrder(ctx context.Context, o *Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, customer_id, status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $5)`,
		o.ID, o.CustomerID, string(o.Status), o.Total.String(), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, ln := range o.Lines {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO order_lines(order_id, line_no, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)`,
			o.ID, i+1, ln.ProductID, ln.ProductName, ln.Quantity, ln.UnitPrice.String(), ln.Subtotal.String(),
		)
		if err != nil {
			return fmt.Errorf("insert order line %d: %w", i+1, err)
		}
	}
	return nil
}

const orderCols = `id, customer_id, status, total::text, created_at, updated_at`

func scanOrder(row rowScanner) (Order, error) {
	var (
		o      Order
		status string
		total  string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &status, &total, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return o, err
	}
	o.Status = Status(status)
	d, err := parseDecimal("total", total)
	if err != nil {
		return o, err
	}
	o.Total = d
	return o, nil
}

func (t *pgTx) getOrder(ctx context.Context, id string, lock bool) (*Order, error) {
	sql := `SELECT ` + orderCols + ` FROM orders WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(t.tx.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, notFound(err, EntityOrder, id)
	}
	lines, err := t.loadLines(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Lines = lines[o.ID]
	return &o, nil
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*Order, error) {
	return t.getOrder(ctx, id, false)
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*Order, error) {
	return t.getOrder(ctx, id, true)
}

func (t *pgTx) loadLines(ctx context.Context, orderIDs []string) (map[string][]OrderLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price::text, subtotal::text
		FROM order_lines WHERE order_id = ANY($1)
		ORDER BY order_id, line_no`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			ln         OrderLine
			unit, subt string
		)
		if err := rows.Scan(&ln.OrderID, &ln.ProductID, &ln.ProductName, &ln.Quantity, &unit, &subt); err != nil {
			return nil, err
		}
		if ln.UnitPrice, err = parseDecimal("unit_price", unit); err != nil {
			return nil, err
		}
		if ln.Subtotal, err = parseDecimal("subtotal", subt); err != nil {
			return nil, err
		}
		out[ln.OrderID] = append(out[ln.OrderID], ln)
	}
	return out, rows.Err()
}

func (t *pgTx) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	sql := `SELECT ` + orderCols + ` FROM orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at, id`

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	var (
		out []Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	lines, err := t.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (t *pgTx) SetOrderStatus(ctx context.Context, id string, s Status) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, id, string(s))
	if err != nil {
		return fmt.Errorf("update order status %s: %w", id, err)
	}
	if ct.RowsAffected() != 1 {
		return &NotFoundError{Entity: EntityOrder, ID: id}
	}
	return nil
}

func (t *pgTx) SumOrderTotals(ctx context.Context, customerID string, s Status) (decimal.Decimal, error) {
	var sum string
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(total), 0)::text FROM orders
		WHERE customer_id=$1 AND status=$2`, customerID, string(s)).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum order totals: %w", err)
	}
	return parseDecimal("sum", sum)
}
