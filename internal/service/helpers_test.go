package service

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"jewelry-store/internal/models"
	"jewelry-store/internal/store"
	"jewelry-store/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type recordingPublisher struct {
	mu      sync.Mutex
	err     error
	created []*models.OrderCreatedEvent
	paid    []*models.OrderPaidEvent
	changed []*models.OrderStatusChangedEvent
	failed  []*models.PaymentReconciliationFailedEvent
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return p.err
}

func (p *recordingPublisher) PublishPaymentReconciliationFailed(ctx context.Context, e *models.PaymentReconciliationFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return p.err
}

// memoryIdempotency keeps claims in a map; 0 marks a claim still in flight
type memoryIdempotency struct {
	mu       sync.Mutex
	orders   map[string]int64
	released int
	err      error
}

func (m *memoryIdempotency) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, false, m.err
	}
	if m.orders == nil {
		m.orders = map[string]int64{}
	}
	if id, ok := m.orders[key]; ok {
		return id, false, nil
	}
	m.orders[key] = 0
	return 0, true, nil
}

func (m *memoryIdempotency) CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[key] = orderID
	return nil
}

func (m *memoryIdempotency) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, key)
	m.released++
	return nil
}

type testEnv struct {
	store    *store.Store
	clock    *util.FixedClock
	events   *recordingPublisher
	products *ProductService
	orders   *OrderService
}

func newTestEnv(t *testing.T, policy TransitionPolicy) *testEnv {
	t.Helper()

	s, err := store.NewStore(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	clock := &util.FixedClock{T: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	events := &recordingPublisher{}
	products := NewProductService(s, clock)
	orders := NewOrderService(s, products, events, &memoryIdempotency{}, OrderServiceConfig{
		Policy: policy,
		Clock:  clock,
	})
	orders.dispatch = func(f func()) { f() }

	return &testEnv{store: s, clock: clock, events: events, products: products, orders: orders}
}

func (e *testEnv) product(t *testing.T, name, price string, stock int) *models.Product {
	t.Helper()
	p, err := e.products.CreateProduct(context.Background(), &models.Product{
		Name:   name,
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Active: true,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := e.products.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func orderRequest(items ...OrderItemRequest) *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerEmail:      "ada@example.com",
		CustomerName:       "Ada Lovelace",
		ShippingAddress:    "12 Jewel Lane",
		ShippingCity:       "London",
		ShippingPostalCode: "N1 9GU",
		ShippingCountry:    "UK",
		Items:              items,
	}
}

func (e *testEnv) order(t *testing.T, items ...OrderItemRequest) *models.Order {
	t.Helper()
	o, err := e.orders.CreateOrder(context.Background(), orderRequest(items...))
	require.NoError(t, err)
	return o
}

// paidOrder creates an order, stamps ref on it and reconciles the payment
func (e *testEnv) paidOrder(t *testing.T, ref string, items ...OrderItemRequest) *models.Order {
	t.Helper()
	ctx := context.Background()
	o := e.order(t, items...)
	_, err := e.orders.AttachPaymentReference(ctx, o.ID, ref)
	require.NoError(t, err)
	paid, err := e.orders.MarkOrderAsPaid(ctx, ref)
	require.NoError(t, err)
	return paid
}
