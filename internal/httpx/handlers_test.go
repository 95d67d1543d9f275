package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/redisx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testAPI struct {
	h     http.Handler
	svc   *orders.Service
	cache *redisx.StatusCache
	redis *miniredis.Miniredis
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := zaptest.NewLogger(t)
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	cache := redisx.NewStatusCache(rdb, 0)
	svc := orders.NewService(orders.NewMemStore(), orders.WithStatusCache(cache), orders.WithLogger(log))

	r := NewRouter(log, map[string]HealthCheck{"redis": func(ctx context.Context) error { return redisx.Ping(ctx, rdb) }})
	(&OrdersHandler{Orders: svc, Idem: redisx.NewIdempotency(rdb, 0), Status: cache, Log: log}).Register(r)
	(&CatalogHandler{Catalog: svc, Log: log}).Register(r)
	return &testAPI{h: r, svc: svc, cache: cache, redis: mr}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) seed(t *testing.T) (customerID, keyboardID, mouseID string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/customers", map[string]string{
		"first_name": "Ana", "last_name": "Lopez", "email": "ana@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[CustomerResp](t, rec)
	assert.Equal(t, "Ana Lopez", c.FullName)

	rec = a.do(t, http.MethodPost, "/products", map[string]any{"name": "Keyboard", "price": "10.00", "stock": 5})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	k := decode[ProductResp](t, rec)

	rec = a.do(t, http.MethodPost, "/products", map[string]any{"name": "Mouse", "price": 5, "stock": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	m := decode[ProductResp](t, rec)
	assert.Equal(t, "5.00", m.Price)
	assert.Equal(t, orders.LowStock, m.Availability)
	return c.ID, k.ID, m.ID
}

func TestCreateOrder(t *testing.T) {
	api := newTestAPI(t)
	cust, kb, mouse := api.seed(t)

	rec := api.do(t, http.MethodPost, "/orders", CreateOrderReq{CustomerID: cust, Lines: []orders.LineInput{
		{ProductID: kb, Quantity: 2},
		{ProductID: mouse, Quantity: 1},
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decode[OrderResp](t, rec)
	assert.Equal(t, "25.00", o.Total)
	assert.Equal(t, orders.StatusPending, o.Status)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, "20.00", o.Lines[0].Subtotal)

	rec = api.do(t, http.MethodGet, "/products/"+kb, nil)
	assert.Equal(t, 3, decode[ProductResp](t, rec).Stock)

	rec = api.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[OrderStatusResp](t, rec)
	assert.Equal(t, "cache", st.Source)
	assert.Equal(t, orders.StatusPending, st.Status)
}

func TestCreateOrder_Errors(t *testing.T) {
	api := newTestAPI(t)
	cust, _, mouse := api.seed(t)

	rec := api.do(t, http.MethodPost, "/orders", CreateOrderReq{CustomerID: cust, Lines: []orders.LineInput{
		{ProductID: mouse, Quantity: 3},
	}})
	require.Equal(t, http.StatusConflict, rec.Code)
	e := decode[errorResp](t, rec)
	assert.Equal(t, "insufficient_stock", e.Kind)
	assert.Equal(t, mouse, e.ProductID)
	require.NotNil(t, e.Available)
	assert.Equal(t, 2, *e.Available)
	assert.Equal(t, 3, *e.Requested)

	rec = api.do(t, http.MethodPost, "/orders", CreateOrderReq{CustomerID: "ghost", Lines: []orders.LineInput{
		{ProductID: mouse, Quantity: 1},
	}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/orders", CreateOrderReq{CustomerID: cust})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/orders", map[string]any{"customer_id": cust, "extra": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/orders", CreateOrderReq{Lines: []orders.LineInput{{ProductID: mouse, Quantity: 1}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/products/"+mouse, nil)
	assert.Equal(t, 2, decode[ProductResp](t, rec).Stock)
}

func TestCreateOrder_IdempotencyKeyReplays(t *testing.T) {
	api := newTestAPI(t)
	cust, kb, _ := api.seed(t)
	body := CreateOrderReq{CustomerID: cust, Lines: []orders.LineInput{{ProductID: kb, Quantity: 1}}}

	first := api.do(t, http.MethodPost, "/orders", body, HeaderIdempotencyKey, "abc-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := api.do(t, http.MethodPost, "/orders", body, HeaderIdempotencyKey, "abc-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decode[OrderResp](t, first).ID, decode[OrderResp](t, second).ID)

	rec := api.do(t, http.MethodGet, "/products/"+kb, nil)
	assert.Equal(t, 4, decode[ProductResp](t, rec).Stock)

	require.NoError(t, api.redis.Set("idem:order:lock:"+cust+":abc-2", "1"))
	busy := api.do(t, http.MethodPost, "/orders", body, HeaderIdempotencyKey, "abc-2")
	assert.Equal(t, http.StatusConflict, busy.Code)
}

// interleavedIdempotency runs between() right after the next Recall misses,
// so another request can finish before the caller reaches Lock.
type interleavedIdempotency struct {
	*redisx.Idempotency
	between func()
}

func (i *interleavedIdempotency) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	id, ok, err := i.Idempotency.Recall(ctx, scope, key)
	if f := i.between; f != nil && !ok {
		i.between = nil
		f()
	}
	return id, ok, err
}

func TestCreateOrder_IdempotencyKeyRaceCreatesOneOrder(t *testing.T) {
	api := newTestAPI(t)
	cust, kb, _ := api.seed(t)
	body := CreateOrderReq{CustomerID: cust, Lines: []orders.LineInput{{ProductID: kb, Quantity: 1}}}

	rdb := redisx.New(api.redis.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	idem := &interleavedIdempotency{Idempotency: redisx.NewIdempotency(rdb, 0)}
	r := NewRouter(zaptest.NewLogger(t), nil)
	(&OrdersHandler{Orders: api.svc, Idem: idem, Log: zaptest.NewLogger(t)}).Register(r)
	api.h = r

	var first *httptest.ResponseRecorder
	idem.between = func() {
		first = api.do(t, http.MethodPost, "/orders", body, HeaderIdempotencyKey, "race-1")
	}
	second := api.do(t, http.MethodPost, "/orders", body, HeaderIdempotencyKey, "race-1")

	require.NotNil(t, first)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decode[OrderResp](t, first).ID, decode[OrderResp](t, second).ID)

	list, err := api.svc.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
	p, err := api.svc.GetProduct(context.Background(), kb)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Stock)
}

func TestOrderLifecycle(t *testing.T) {
	api := newTestAPI(t)
	cust, kb, mouse := api.seed(t)

	place := func() OrderResp {
		rec := api.do(t, http.MethodPost, "/orders", CreateOrderReq{CustomerID: cust, Lines: []orders.LineInput{
			{ProductID: kb, Quantity: 1},
			{ProductID: mouse, Quantity: 1},
		}})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[OrderResp](t, rec)
	}
	a, b := place(), place()

	rec := api.do(t, http.MethodPatch, "/orders/"+a.ID+"/status", UpdateStatusReq{Status: "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusCompleted, decode[OrderResp](t, rec).Status)

	rec = api.do(t, http.MethodPatch, "/orders/"+a.ID+"/status", UpdateStatusReq{Status: "shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodPost, "/orders/"+a.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/orders/"+b.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusCancelled, decode[OrderResp](t, rec).Status)
	rec = api.do(t, http.MethodPost, "/orders/"+b.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/products/"+mouse, nil)
	assert.Equal(t, 1, decode[ProductResp](t, rec).Stock)

	rec = api.do(t, http.MethodGet, "/customers/"+cust+"/spend", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "15.00", decode[SpendResp](t, rec).Total)

	rec = api.do(t, http.MethodGet, "/customers/"+cust+"/orders", nil)
	assert.Len(t, decode[[]OrderResp](t, rec), 2)
	rec = api.do(t, http.MethodGet, "/customers/ghost/orders", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/orders?status=cancelled", nil)
	list := decode[[]OrderResp](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	rec = api.do(t, http.MethodGet, "/orders?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodGet, "/orders", nil)
	assert.Len(t, decode[[]OrderResp](t, rec), 2)
	rec = api.do(t, http.MethodGet, "/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderStatusFallsBackToStore(t *testing.T) {
	api := newTestAPI(t)
	cust, kb, _ := api.seed(t)
	o, err := api.svc.ProcessOrder(context.Background(), cust, []orders.LineInput{{ProductID: kb, Quantity: 1}})
	require.NoError(t, err)
	api.redis.FlushAll()

	rec := api.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "store", decode[OrderStatusResp](t, rec).Source)
	assert.True(t, api.redis.Exists("order_status:"+o.ID))
}

func TestCatalogEndpoints(t *testing.T) {
	api := newTestAPI(t)
	_, kb, mouse := api.seed(t)

	rec := api.do(t, http.MethodPost, "/products", map[string]any{"name": "Keyboard Cover", "price": "3.50", "stock": 0})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodGet, "/products?available=true", nil)
	assert.Len(t, decode[[]ProductResp](t, rec), 2)
	rec = api.do(t, http.MethodGet, "/products", nil)
	assert.Len(t, decode[[]ProductResp](t, rec), 3)
	rec = api.do(t, http.MethodGet, "/products?q=KEYBOARD", nil)
	assert.Len(t, decode[[]ProductResp](t, rec), 2)
	rec = api.do(t, http.MethodGet, "/products?available=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPut, "/products/"+kb+"/price", UpdatePriceReq{Price: mustDec("12.5")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12.50", decode[ProductResp](t, rec).Price)

	rec = api.do(t, http.MethodPost, "/products/"+mouse+"/restock", RestockReq{Quantity: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[ProductResp](t, rec)
	assert.Equal(t, 12, p.Stock)
	assert.Equal(t, orders.Available, p.Availability)

	rec = api.do(t, http.MethodPost, "/products/"+mouse+"/restock", RestockReq{Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodGet, "/products/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/customers", map[string]string{
		"first_name": "Ana", "last_name": "Other", "email": "ana@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(t, http.MethodGet, "/customers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInternalErrorsAreHidden(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/x", nil)
	writeError(rec, req, zaptest.NewLogger(t), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decode[errorResp](t, rec)
	assert.Equal(t, "internal error", e.Error)
	assert.Equal(t, "internal", e.Kind)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	down := NewRouter(zaptest.NewLogger(t), map[string]HealthCheck{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
