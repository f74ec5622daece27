package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jewelry-store/internal/models"
	"jewelry-store/internal/store"
	"jewelry-store/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// recentOrdersLimit is how many orders GetRecentOrders returns
const recentOrdersLimit = 10

// idempotencyClaimTTL bounds how long an unfinished request holds its key
const idempotencyClaimTTL = 30 * time.Second

// ErrOrderRequestInProgress is returned when another request with the same
// idempotency key is still creating its order
var ErrOrderRequestInProgress = errors.New("order request with this idempotency key is in progress")

// EventPublisher publishes order events once a change has committed
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentReconciliationFailed(ctx context.Context, event *models.PaymentReconciliationFailedEvent) error
}

// IdempotencyStore remembers which order an idempotency key produced.
// ClaimIdempotencyKey atomically reserves key for the caller; when the key
// is already taken it returns the order created under it, or 0 while that
// request is still running.
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (orderID int64, claimed bool, err error)
	CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// OrderServiceConfig carries the tunables of OrderService. Zero values fall
// back to defaults.
type OrderServiceConfig struct {
	Policy         TransitionPolicy
	Clock          util.Clock
	IdempotencyTTL time.Duration
	NotifyTimeout  time.Duration
}

// OrderService builds orders and drives them through their lifecycle
type OrderService struct {
	store          *store.Store
	products       *ProductService
	events         EventPublisher
	idempotency    IdempotencyStore
	policy         TransitionPolicy
	clock          util.Clock
	idempotencyTTL time.Duration
	notifyTimeout  time.Duration
	dispatch       func(func())
	logger         *zap.Logger
}

// NewOrderService creates a new order service. events and idempotency may
// be nil.
func NewOrderService(
	store *store.Store,
	products *ProductService,
	events EventPublisher,
	idempotency IdempotencyStore,
	cfg OrderServiceConfig,
) *OrderService {
	if cfg.Policy == nil {
		cfg.Policy = PermissivePolicy{}
	}
	if cfg.Clock == nil {
		cfg.Clock = util.SystemClock{}
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	return &OrderService{
		store:          store,
		products:       products,
		events:         events,
		idempotency:    idempotency,
		policy:         cfg.Policy,
		clock:          cfg.Clock,
		idempotencyTTL: cfg.IdempotencyTTL,
		notifyTimeout:  cfg.NotifyTimeout,
		dispatch:       func(f func()) { go f() },
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerEmail      string             `json:"customer_email" binding:"required,email"`
	CustomerName       string             `json:"customer_name" binding:"required,min=2,max=100"`
	CustomerPhone      string             `json:"customer_phone"`
	ShippingAddress    string             `json:"shipping_address" binding:"required"`
	ShippingCity       string             `json:"shipping_city" binding:"required"`
	ShippingState      string             `json:"shipping_state"`
	ShippingPostalCode string             `json:"shipping_postal_code" binding:"required"`
	ShippingCountry    string             `json:"shipping_country" binding:"required"`
	Notes              string             `json:"notes"`
	Items              []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey     string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// UpdateOrderRequest is a partial order update; nil fields are left alone
type UpdateOrderRequest struct {
	Status         *models.OrderStatus `json:"status"`
	TrackingNumber *string             `json:"tracking_number"`
	Notes          *string             `json:"notes"`
}

// CreateOrder validates the requested items against the ledger, snapshots
// their prices and stores a PENDING order. Stock is deducted only when the
// order is paid.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer func() { util.EndSpan(span, err) }()

	if req.IdempotencyKey != "" && s.idempotency != nil {
		existing, claimed, claimErr := s.claimIdempotencyKey(ctx, req.IdempotencyKey)
		if claimErr != nil || existing != nil {
			return existing, claimErr
		}
		if claimed {
			defer func() { s.settleIdempotencyKey(req.IdempotencyKey, order, err) }()
		}
	}

	if len(req.Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, models.NewInvalidOperation("order must contain at least one item")
	}

	now := s.clock.Now()
	order = &models.Order{
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		ShippingInfo: models.ShippingInfo{
			Address:    req.ShippingAddress,
			City:       req.ShippingCity,
			State:      req.ShippingState,
			PostalCode: req.ShippingPostalCode,
			Country:    req.ShippingCountry,
		},
		Notes:        req.Notes,
		ShippingCost: decimal.Zero,
		Tax:          decimal.Zero,
		Status:       models.OrderStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		items, subtotal, err := s.snapshotItems(ctx, tx, req.Items)
		if err != nil {
			return err
		}
		order.Items = items
		order.Subtotal = subtotal
		order.TotalAmount = subtotal.Add(order.ShippingCost).Add(order.Tax)
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("customer_email", order.CustomerEmail),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	created := &models.OrderCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCreated, now),
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		TotalAmount:   order.TotalAmount,
		Items:         models.ItemData(order.Items),
	}
	s.publish("order_created", func(ctx context.Context) error {
		return s.events.PublishOrderCreated(ctx, created)
	})

	return order, nil
}

// snapshotItems checks every requested item against the ledger and copies
// the product's current price, name and sku onto the order line
func (s *OrderService) snapshotItems(ctx context.Context, tx *store.Store, reqs []OrderItemRequest) ([]models.OrderItem, decimal.Decimal, error) {
	items := make([]models.OrderItem, 0, len(reqs))
	subtotal := decimal.Zero

	for _, req := range reqs {
		if req.Quantity < 1 {
			return nil, decimal.Zero, models.NewInvalidOperation("quantity for product %d must be at least 1", req.ProductID)
		}

		product, err := tx.GetProductByID(ctx, req.ProductID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if !product.Active {
			return nil, decimal.Zero, models.NewInvalidOperation("product %q is not available", product.Name)
		}
		if product.Stock < req.Quantity {
			util.StockInsufficientTotal.WithLabelValues("order").Inc()
			return nil, decimal.Zero, &models.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   req.Quantity,
			}
		}

		item := models.OrderItem{
			ProductID:       product.ID,
			Quantity:        req.Quantity,
			PriceAtPurchase: product.Price,
			ProductName:     product.Name,
			ProductSKU:      product.SKUValue(),
		}
		subtotal = subtotal.Add(item.Subtotal())
		items = append(items, item)
	}

	return items, subtotal, nil
}

// claimIdempotencyKey reserves key for this request. It returns the order
// an earlier request created under key, or claimed=false with no order when
// the idempotency store is unreachable and the request proceeds unguarded.
func (s *OrderService) claimIdempotencyKey(ctx context.Context, key string) (*models.Order, bool, error) {
	orderID, claimed, err := s.idempotency.ClaimIdempotencyKey(ctx, key, idempotencyClaimTTL)
	if err != nil {
		s.logger.Warn("Idempotency claim failed", zap.String("idempotency_key", key), zap.Error(err))
		return nil, false, nil
	}
	if claimed {
		return nil, true, nil
	}
	if orderID == 0 {
		return nil, false, ErrOrderRequestInProgress
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load order %d for idempotency key: %w", orderID, err)
	}

	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", order.ID))
	return order, false, nil
}

// settleIdempotencyKey records the created order under key, or frees key
// so the client can retry after a failure
func (s *OrderService) settleIdempotencyKey(key string, order *models.Order, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
	defer cancel()

	if err != nil || order == nil {
		if err := s.idempotency.ReleaseIdempotencyKey(ctx, key); err != nil {
			s.logger.Warn("Failed to release idempotency key", zap.String("idempotency_key", key), zap.Error(err))
		}
		return
	}
	if err := s.idempotency.CompleteIdempotencyKey(ctx, key, order.ID, s.idempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotency key",
			zap.String("idempotency_key", key), zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// GetOrderByID retrieves an order with its items
func (s *OrderService) GetOrderByID(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.store.GetOrderByID(ctx, orderID)
}

// GetOrdersByCustomer lists a customer's orders, newest first
func (s *OrderService) GetOrdersByCustomer(ctx context.Context, email string) ([]models.Order, error) {
	return s.store.GetOrdersByCustomerEmail(ctx, email)
}

// GetOrdersByStatus lists orders currently in status
func (s *OrderService) GetOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	if _, err := models.ParseOrderStatus(string(status)); err != nil {
		return nil, err
	}
	return s.store.GetOrdersByStatus(ctx, status)
}

// GetRecentOrders returns the ten most recently created orders
func (s *OrderService) GetRecentOrders(ctx context.Context) ([]models.Order, error) {
	return s.store.GetRecentOrders(ctx, recentOrdersLimit)
}

// CalculateTotalSales sums totalAmount over PAID orders whose paidAt falls
// within [start, end]
func (s *OrderService) CalculateTotalSales(ctx context.Context, start, end time.Time) (decimal.Decimal, error) {
	if end.Before(start) {
		return decimal.Zero, models.NewInvalidOperation("end must not be before start")
	}

	totals, err := s.store.PaidTotalsBetween(ctx, start.UTC(), end.UTC())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load sales: %w", err)
	}
	return decimal.Sum(decimal.Zero, totals...), nil
}

// orderChange describes one lifecycle mutation applied under a row lock
type orderChange struct {
	status         *models.OrderStatus
	tracking       *string
	notes          *string
	shipOnTracking bool
}

// UpdateOrderStatus moves an order to newStatus, returning deducted stock
// when the policy says the move reverses it
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, newStatus models.OrderStatus) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus")
	defer func() { util.EndSpan(span, err) }()

	status, err := models.ParseOrderStatus(string(newStatus))
	if err != nil {
		return nil, err
	}
	return s.applyChange(ctx, orderID, orderChange{status: &status})
}

// CancelOrder moves an order to CANCELLED
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.UpdateOrderStatus(ctx, orderID, models.OrderStatusCancelled)
}

// UpdateTrackingNumber records a shipment tracking number. Orders that are
// not yet SHIPPED or DELIVERED move to SHIPPED.
func (s *OrderService) UpdateTrackingNumber(ctx context.Context, orderID int64, tracking string) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateTrackingNumber")
	defer func() { util.EndSpan(span, err) }()

	if tracking == "" {
		return nil, models.NewInvalidOperation("tracking number is required")
	}
	return s.applyChange(ctx, orderID, orderChange{tracking: &tracking, shipOnTracking: true})
}

// UpdateOrderDetails applies a partial update. A status in the patch takes
// the same path as UpdateOrderStatus.
func (s *OrderService) UpdateOrderDetails(ctx context.Context, orderID int64, req *UpdateOrderRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderDetails")
	defer func() { util.EndSpan(span, err) }()

	change := orderChange{tracking: req.TrackingNumber, notes: req.Notes}
	if req.Status != nil {
		status, err := models.ParseOrderStatus(string(*req.Status))
		if err != nil {
			return nil, err
		}
		change.status = &status
	}
	return s.applyChange(ctx, orderID, change)
}

// applyChange loads the order under lock, applies change, writes it back
// with a compare-and-set on the prior status and reverses stock in the same
// transaction. Events go out only after commit.
func (s *OrderService) applyChange(ctx context.Context, orderID int64, change orderChange) (*models.Order, error) {
	var (
		order    *models.Order
		from     models.OrderStatus
		returned bool
	)

	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		o, err := tx.GetOrderByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		now := s.clock.Now()

		if change.tracking != nil {
			o.TrackingNumber = change.tracking
			if change.shipOnTracking && from != models.OrderStatusShipped && from != models.OrderStatusDelivered {
				shipped := models.OrderStatusShipped
				change.status = &shipped
			}
		}
		if change.notes != nil {
			o.Notes = *change.notes
		}

		if change.status != nil {
			to := *change.status
			if err := s.policy.Allow(from, to); err != nil {
				return err
			}
			o.Status = to
			stampTimestamps(o, to, now)
			if change.shipOnTracking && to == models.OrderStatusShipped {
				o.ShippedAt = &now
			}
		}
		o.UpdatedAt = now

		ok, err := tx.SaveOrderState(ctx, o, from)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewInvalidOperation("order %d was modified concurrently", orderID)
		}

		if change.status != nil && s.policy.ReturnsStock(from, o.Status) {
			for _, item := range o.Items {
				if err := s.products.increaseStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return fmt.Errorf("failed to return stock for product %d: %w", item.ProductID, err)
				}
			}
			returned = true
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if change.status == nil {
		s.logger.Info("Order updated", zap.Int64("order_id", order.ID))
		return order, nil
	}

	util.OrderTransitionsTotal.WithLabelValues(string(from), string(order.Status)).Inc()
	if returned {
		util.StockReversalsTotal.WithLabelValues(string(order.Status)).Inc()
	}
	s.logger.Info("Order status updated",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(order.Status)),
		zap.Bool("stock_returned", returned))

	changed := &models.OrderStatusChangedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderStatusChanged, order.UpdatedAt),
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		From:          from,
		To:            order.Status,
		StockReturned: returned,
	}
	if order.TrackingNumber != nil {
		changed.TrackingNumber = *order.TrackingNumber
	}
	s.publish("status_changed", func(ctx context.Context) error {
		return s.events.PublishOrderStatusChanged(ctx, changed)
	})

	return order, nil
}

// stampTimestamps sets the lifecycle timestamp for status on first entry
func stampTimestamps(o *models.Order, status models.OrderStatus, now time.Time) {
	switch status {
	case models.OrderStatusPaid:
		if o.PaidAt == nil {
			o.PaidAt = &now
		}
	case models.OrderStatusShipped:
		if o.ShippedAt == nil {
			o.ShippedAt = &now
		}
	case models.OrderStatusDelivered:
		if o.DeliveredAt == nil {
			o.DeliveredAt = &now
		}
	}
}

// AttachPaymentReference stamps a PENDING order with the payment provider's
// reference so a later payment confirmation can find it
func (s *OrderService) AttachPaymentReference(ctx context.Context, orderID int64, ref string) (*models.Order, error) {
	if ref == "" {
		return nil, models.NewInvalidOperation("payment reference is required")
	}

	var order *models.Order
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		o, err := tx.GetOrderByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.PaymentReferenceID != nil && *o.PaymentReferenceID == ref {
			order = o
			return nil
		}

		now := s.clock.Now()
		if err := tx.SetPaymentReference(ctx, orderID, ref, now); err != nil {
			return err
		}
		o.PaymentReferenceID = &ref
		o.UpdatedAt = now
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment reference attached",
		zap.Int64("order_id", orderID),
		zap.String("payment_reference_id", ref))
	return order, nil
}

// MarkOrderAsPaid reconciles a confirmed payment: the order becomes PAID and
// every item's quantity is deducted from stock in one transaction. An order
// that is already PAID is returned unchanged.
func (s *OrderService) MarkOrderAsPaid(ctx context.Context, paymentReferenceID string) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkOrderAsPaid")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		util.PaymentReconcileLatency.Observe(time.Since(start).Seconds())
	}()

	var (
		orderID int64
		paidNow bool
	)
	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		o, err := tx.GetOrderByPaymentReference(ctx, paymentReferenceID)
		if err != nil {
			return err
		}
		orderID = o.ID

		if o.Status == models.OrderStatusPaid {
			order = o
			return nil
		}

		now := s.clock.Now()
		ok, err := tx.MarkOrderPaid(ctx, o.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			order, err = tx.GetOrderByID(ctx, o.ID)
			return err
		}

		for _, item := range o.Items {
			if err := s.products.reduceStock(ctx, tx, item.ProductID, item.Quantity, "payment"); err != nil {
				return err
			}
		}

		o.Status = models.OrderStatusPaid
		o.PaidAt = &now
		o.UpdatedAt = now
		order = o
		paidNow = true
		return nil
	})
	if err != nil {
		var stockErr *models.InsufficientStockError
		if errors.As(err, &stockErr) {
			s.reportReconciliationFailure(orderID, paymentReferenceID, stockErr)
		}
		return nil, err
	}

	if !paidNow {
		s.logger.Info("Order already paid",
			zap.Int64("order_id", order.ID),
			zap.String("payment_reference_id", paymentReferenceID))
		return order, nil
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order marked as paid",
		zap.Int64("order_id", order.ID),
		zap.String("payment_reference_id", paymentReferenceID))

	paid := &models.OrderPaidEvent{
		BaseEvent:          newBaseEvent(models.EventTypeOrderPaid, *order.PaidAt),
		OrderID:            order.ID,
		PaymentReferenceID: paymentReferenceID,
		CustomerEmail:      order.CustomerEmail,
		CustomerName:       order.CustomerName,
		TotalAmount:        order.TotalAmount,
		Items:              models.ItemData(order.Items),
	}
	s.publish("order_paid", func(ctx context.Context) error {
		return s.events.PublishOrderPaid(ctx, paid)
	})

	return order, nil
}

// reportReconciliationFailure raises an alert for a payment that was taken
// but could not be fulfilled from stock
func (s *OrderService) reportReconciliationFailure(orderID int64, ref string, stockErr *models.InsufficientStockError) {
	s.logger.Error("Payment reconciliation failed",
		zap.Int64("order_id", orderID),
		zap.String("payment_reference_id", ref),
		zap.Int64("product_id", stockErr.ProductID),
		zap.Int("available", stockErr.Available),
		zap.Int("requested", stockErr.Requested))

	failed := &models.PaymentReconciliationFailedEvent{
		BaseEvent:          newBaseEvent(models.EventTypePaymentReconciliationFailed, s.clock.Now()),
		OrderID:            orderID,
		PaymentReferenceID: ref,
		ProductID:          stockErr.ProductID,
		ProductName:        stockErr.ProductName,
		Available:          stockErr.Available,
		Requested:          stockErr.Requested,
		Reason:             "insufficient_stock",
	}
	s.publish("reconciliation_failed", func(ctx context.Context) error {
		return s.events.PublishPaymentReconciliationFailed(ctx, failed)
	})
}

// publish hands an event to the publisher off the request path. Failures
// are logged and counted, never returned.
func (s *OrderService) publish(kind string, send func(ctx context.Context) error) {
	if s.events == nil {
		return
	}

	s.dispatch(func() {
		defer func() {
			if r := recover(); r != nil {
				util.NotificationsTotal.WithLabelValues(kind, "panic").Inc()
				s.logger.Error("Event publisher panicked", zap.String("kind", kind), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			util.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
			s.logger.Error("Failed to publish order event", zap.String("kind", kind), zap.Error(err))
			return
		}
		util.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
	})
}

func newBaseEvent(eventType string, at time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: at,
	}
}

// failureReason labels a rejected order for the failure counter
func failureReason(err error) string {
	switch {
	case models.IsInsufficientStock(err):
		return "insufficient_stock"
	case models.IsNotFound(err):
		return "product_not_found"
	case models.IsInvalidOperation(err):
		return "invalid_items"
	default:
		return "db_error"
	}
}
