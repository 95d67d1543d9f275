package httpx

import (
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/shopspring/decimal"
)

// Money leaves the API as a fixed two-decimal string.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

type CreateOrderReq struct {
	CustomerID string             `json:"customer_id"`
	Lines      []orders.LineInput `json:"lines"`
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

type UpdatePriceReq struct {
	Price decimal.Decimal `json:"price"`
}

type RestockReq struct {
	Quantity int `json:"quantity"`
}

type LineResp struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

type OrderResp struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customer_id"`
	Status     orders.Status `json:"status"`
	Total      string        `json:"total"`
	Lines      []LineResp    `json:"lines"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func toOrderResp(o *orders.Order) OrderResp {
	lines := make([]LineResp, 0, len(o.Lines))
	for _, ln := range o.Lines {
		lines = append(lines, LineResp{
			ProductID:   ln.ProductID,
			ProductName: ln.ProductName,
			Quantity:    ln.Quantity,
			UnitPrice:   money(ln.UnitPrice),
			Subtotal:    money(ln.Subtotal),
		})
	}
	return OrderResp{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Total:      money(o.Total),
		Lines:      lines,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func toOrderResps(list []orders.Order) []OrderResp {
	out := make([]OrderResp, 0, len(list))
	for i := range list {
		out = append(out, toOrderResp(&list[i]))
	}
	return out
}

type OrderStatusResp struct {
	OrderID string        `json:"order_id"`
	Status  orders.Status `json:"status"`
	Source  string        `json:"source"`
}

type SpendResp struct {
	CustomerID string `json:"customer_id"`
	Total      string `json:"total"`
}

type ProductResp struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Category     string              `json:"category,omitempty"`
	Description  string              `json:"description,omitempty"`
	Price        string              `json:"price"`
	Stock        int                 `json:"stock"`
	Availability orders.Availability `json:"availability"`
}

func toProductResp(p *orders.Product) ProductResp {
	return ProductResp{
		ID:           p.ID,
		Name:         p.Name,
		Category:     p.Category,
		Description:  p.Description,
		Price:        money(p.Price),
		Stock:        p.Stock,
		Availability: p.Availability(),
	}
}

func toProductResps(ps []orders.Product) []ProductResp {
	out := make([]ProductResp, 0, len(ps))
	for i := range ps {
		out = append(out, toProductResp(&ps[i]))
	}
	return out
}

type CustomerResp struct {
	orders.Customer
	FullName string `json:"full_name"`
}

func toCustomerResp(c *orders.Customer) CustomerResp {
	return CustomerResp{Customer: *c, FullName: c.FullName()}
}
