package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CatalogHandler serves products and customers.
type CatalogHandler struct {
	Catalog *orders.Service
	Log     *zap.Logger
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{id}", h.getProduct)
	r.Put("/products/{id}/price", h.updatePrice)
	r.Post("/products/{id}/restock", h.restock)
	r.Post("/customers", h.createCustomer)
	r.Get("/customers/{id}", h.getCustomer)
}

func (h *CatalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	q := r.URL.Query()
	var (
		ps  []orders.Product
		err error
	)
	switch {
	case q.Get("q") != "":
		ps, err = h.Catalog.SearchProducts(ctx, q.Get("q"))
	case q.Get("available") != "":
		avail, perr := strconv.ParseBool(q.Get("available"))
		if perr != nil {
			badRequest(w, "available must be a boolean")
			return
		}
		if avail {
			ps, err = h.Catalog.ListAvailableProducts(ctx)
		} else {
			ps, err = h.Catalog.ListProducts(ctx)
		}
	default:
		ps, err = h.Catalog.ListProducts(ctx)
	}
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResps(ps))
}

func (h *CatalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Catalog.GetProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResp(p))
}

func (h *CatalogHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req orders.NewProduct
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Catalog.CreateProduct(ctx, req)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResp(p))
}

func (h *CatalogHandler) updatePrice(w http.ResponseWriter, r *http.Request) {
	var req UpdatePriceReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Catalog.UpdateProductPrice(ctx, chi.URLParam(r, "id"), req.Price)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResp(p))
}

func (h *CatalogHandler) restock(w http.ResponseWriter, r *http.Request) {
	var req RestockReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Catalog.Restock(ctx, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResp(p))
}

func (h *CatalogHandler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req orders.NewCustomer
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := h.Catalog.CreateCustomer(ctx, req)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerResp(c))
}

func (h *CatalogHandler) getCustomer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Catalog.GetCustomer(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerResp(c))
}
