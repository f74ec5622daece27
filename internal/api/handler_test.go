package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"jewelry-store/internal/models"
	"jewelry-store/internal/redisclient"
	"jewelry-store/internal/service"
	"jewelry-store/internal/store"
	"jewelry-store/internal/util"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "whsec_test"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router  *gin.Engine
	handler *Handler
	redis   *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s, err := store.NewStore(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	mr := miniredis.RunT(t)
	rdb, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	products := service.NewProductService(s, util.SystemClock{})
	orders := service.NewOrderService(s, products, nil, rdb, service.OrderServiceConfig{})
	payments := service.NewPaymentService(orders, s, rdb, time.Minute)

	h := NewHandler(products, orders, payments, testSecret)
	h.AddReadinessCheck("database", s)
	h.AddReadinessCheck("redis", rdb)

	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, handler: h, redis: mr}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst))
}

func (ts *testServer) createProduct(t *testing.T, name, price string, stock int) models.Product {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/products", gin.H{
		"name":  name,
		"price": price,
		"stock": stock,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var p models.Product
	decode(t, w, &p)
	return p
}

func orderBody(productID int64, quantity int) gin.H {
	return gin.H{
		"customer_email":       "ada@example.com",
		"customer_name":        "Ada Lovelace",
		"shipping_address":     "12 Jewel Lane",
		"shipping_city":        "London",
		"shipping_postal_code": "N1 9GU",
		"shipping_country":     "UK",
		"items": []gin.H{
			{"product_id": productID, "quantity": quantity},
		},
	}
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ts.handler.AddReadinessCheck("kafka", pingFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	w = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestProductEndpoints(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProduct(t, "Pearl Earrings", "89.90", 6)
	assert.True(t, p.Active)

	w := ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", p.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Product
	decode(t, w, &got)
	assert.Equal(t, "Pearl Earrings", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("89.90")))

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/products/%d/stock/reduce", p.ID), gin.H{"quantity": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Insufficient stock")

	w = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/products/%d/stock", p.ID), gin.H{"stock": 2})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &got)
	assert.Equal(t, 2, got.Stock)

	w = ts.do(t, http.MethodGet, "/api/v1/products/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/products/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/products/%d", p.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active []models.Product
	decode(t, w, &active)
	assert.Empty(t, active)
}

func TestCatalogQueries(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/products", gin.H{
		"name": "Sapphire Ring", "price": "300", "stock": 1, "sku": "SAP-1", "featured": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sapphire models.Product
	decode(t, w, &sapphire)
	pearl := ts.createProduct(t, "Pearl Necklace", "80", 2)

	w = ts.do(t, http.MethodGet, "/api/v1/products/sku/SAP-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Product
	decode(t, w, &got)
	assert.Equal(t, sapphire.ID, got.ID)

	w = ts.do(t, http.MethodGet, "/api/v1/products/sku/NONE", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var list []models.Product
	w = ts.do(t, http.MethodGet, "/api/v1/products?featured=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, sapphire.ID, list[0].ID)

	w = ts.do(t, http.MethodGet, "/api/v1/products?name=pearl&max_price=100", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, pearl.ID, list[0].ID)

	w = ts.do(t, http.MethodGet, "/api/v1/products?min_price=cheap", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/products/%d", pearl.ID), gin.H{"discount_price": "60"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/v1/products?on_sale=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, pearl.ID, list[0].ID)

	w = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/products/%d", pearl.ID), gin.H{"sku": "SAP-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDuplicateSKUConflicts(t *testing.T) {
	ts := newTestServer(t)
	body := gin.H{"name": "Bangle", "price": "40", "stock": 1, "sku": "BAN-1"}

	w := ts.do(t, http.MethodPost, "/api/v1/products", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/products", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateOrderWhileKeyInProgress(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProduct(t, "Ring", "100.00", 3)
	require.NoError(t, ts.redis.Set("idempotency:order:checkout-busy", "pending"))

	w := ts.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 1), "Idempotency-Key", "checkout-busy")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "Order request in progress")

	ts.redis.Del("idempotency:order:checkout-busy")
	w = ts.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 1), "Idempotency-Key", "checkout-busy")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order models.Order
	decode(t, w, &order)
	stored, err := ts.redis.Get("idempotency:order:checkout-busy")
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(order.ID, 10), stored)
}

func TestCreateOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProduct(t, "Ring", "100.00", 3)

	w := ts.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 2), "Idempotency-Key", "checkout-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order models.Order
	decode(t, w, &order)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(200)))

	w = ts.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 2), "Idempotency-Key", "checkout-1")
	require.Equal(t, http.StatusCreated, w.Code)
	var replay models.Order
	decode(t, w, &replay)
	assert.Equal(t, order.ID, replay.ID)

	w = ts.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 5))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Insufficient stock")

	w = ts.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 0))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/orders/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/orders/status/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []models.Order
	decode(t, w, &pending)
	assert.Len(t, pending, 1)
}

func TestPaymentWebhook(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProduct(t, "Ring", "100.00", 3)

	w := ts.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 2))
	require.Equal(t, http.StatusCreated, w.Code)
	var order models.Order
	decode(t, w, &order)

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/payment-reference", order.ID),
		gin.H{"payment_reference_id": "pi_http"})
	require.Equal(t, http.StatusOK, w.Code)

	hook := gin.H{"payment_reference_id": "pi_http"}

	w = ts.do(t, http.MethodPost, "/api/v1/payments/webhook", hook, "X-Webhook-Secret", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/payments/webhook", hook, "X-Webhook-Secret", testSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &order)
	assert.Equal(t, models.OrderStatusPaid, order.Status)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", p.ID), nil)
	var got models.Product
	decode(t, w, &got)
	assert.Equal(t, 1, got.Stock)

	w = ts.do(t, http.MethodPost, "/api/v1/payments/webhook",
		gin.H{"payment_reference_id": "pi_unknown"}, "X-Webhook-Secret", testSecret)
	assert.Equal(t, http.StatusNotFound, w.Code)

	start := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w = ts.do(t, http.MethodGet, "/api/v1/orders/sales?start="+start+"&end="+end, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sales struct {
		Total decimal.Decimal `json:"total"`
	}
	decode(t, w, &sales)
	assert.True(t, sales.Total.Equal(decimal.NewFromInt(200)))

	w = ts.do(t, http.MethodGet, "/api/v1/orders/sales?start=yesterday&end="+end, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProduct(t, "Ring", "100.00", 3)

	w := ts.do(t, http.MethodPost, "/api/v1/orders", orderBody(p.ID, 1))
	require.Equal(t, http.StatusCreated, w.Code)
	var order models.Order
	decode(t, w, &order)

	w = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/status", order.ID), gin.H{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/tracking", order.ID), gin.H{"tracking_number": "TRK-9"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &order)
	assert.Equal(t, models.OrderStatusShipped, order.Status)
	require.NotNil(t, order.TrackingNumber)
	assert.Equal(t, "TRK-9", *order.TrackingNumber)

	w = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d", order.ID), gin.H{"notes": "gift wrap"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &order)
	assert.Equal(t, "gift wrap", order.Notes)

	w = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/orders/%d/cancel", order.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &order)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	w = ts.do(t, http.MethodGet, "/api/v1/orders/customer/ada@example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []models.Order
	decode(t, w, &mine)
	assert.Len(t, mine, 1)
}
