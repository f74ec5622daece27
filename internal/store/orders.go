package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jewelry-store/internal/models"

	"github.com/shopspring/decimal"
)

const orderColumns = `id, customer_email, customer_name, customer_phone,
	shipping_address, shipping_city, shipping_state, shipping_postal_code, shipping_country,
	notes, subtotal, shipping_cost, tax, total_amount, status, payment_reference_id,
	tracking_number, created_at, updated_at, paid_at, shipped_at, delivered_at`

const orderItemColumns = `id, order_id, product_id, quantity, price_at_purchase,
	product_name, product_sku`

// CreateOrder inserts an order and all of its items. Callers wanting the
// all-or-nothing guarantee run it through RunInTx.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := s.rebind(`
		INSERT INTO orders (customer_email, customer_name, customer_phone,
			shipping_address, shipping_city, shipping_state, shipping_postal_code, shipping_country,
			notes, subtotal, shipping_cost, tax, total_amount, status, payment_reference_id,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.q.GetContext(ctx, &order.ID, query,
		order.CustomerEmail, order.CustomerName, order.CustomerPhone,
		order.Address, order.City, order.State, order.PostalCode, order.Country,
		order.Notes, order.Subtotal, order.ShippingCost, order.Tax, order.TotalAmount,
		string(order.Status), order.PaymentReferenceID, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if err := s.CreateOrderItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// CreateOrderItem creates a new order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := s.rebind(`
		INSERT INTO order_items (order_id, product_id, quantity, price_at_purchase,
			product_name, product_sku)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)

	if err := s.q.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.PriceAtPurchase,
		item.ProductName, item.ProductSKU); err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order with its items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, "id = ?", id, models.NewNotFound("order", id))
}

// GetOrderByIDForUpdate is GetOrderByID with a row lock held until the
// surrounding transaction ends
func (s *Store) GetOrderByIDForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, "id = ?"+s.forUpdate(), id, models.NewNotFound("order", id))
}

// GetOrderByPaymentReference retrieves the order stamped with an external
// payment reference, locking it for the surrounding transaction
func (s *Store) GetOrderByPaymentReference(ctx context.Context, ref string) (*models.Order, error) {
	return s.getOrder(ctx, "payment_reference_id = ?"+s.forUpdate(), ref,
		&models.NotFoundError{Resource: "order", Field: "payment_reference_id", Value: ref})
}

func (s *Store) getOrder(ctx context.Context, where string, arg interface{}, notFound error) (*models.Order, error) {
	var order models.Order
	err := s.q.GetContext(ctx, &order,
		s.rebind("SELECT "+orderColumns+" FROM orders WHERE "+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}

	items, err := s.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order in insertion order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.q.SelectContext(ctx, &items,
		s.rebind("SELECT "+orderItemColumns+" FROM order_items WHERE order_id = ? ORDER BY id"), orderID)
	return items, err
}

// GetOrdersByCustomerEmail retrieves a customer's orders, newest first
func (s *Store) GetOrdersByCustomerEmail(ctx context.Context, email string) ([]models.Order, error) {
	return s.listOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE customer_email = ? ORDER BY created_at DESC, id DESC", email)
}

// GetOrdersByStatus retrieves orders in a given status
func (s *Store) GetOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	return s.listOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = ? ORDER BY id", string(status))
}

// GetRecentOrders retrieves the most recently created orders
func (s *Store) GetRecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	return s.listOrders(ctx,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC, id DESC LIMIT ?", limit)
}

func (s *Store) listOrders(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	orders := []models.Order{}
	if err := s.q.SelectContext(ctx, &orders, s.rebind(query), args...); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.GetOrderItemsByOrderID(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// SaveOrderState writes status, tracking and lifecycle timestamps, but only
// while the stored status still equals expected. It returns false when a
// concurrent writer got there first.
func (s *Store) SaveOrderState(ctx context.Context, order *models.Order, expected models.OrderStatus) (bool, error) {
	res, err := s.q.ExecContext(ctx, s.rebind(`
		UPDATE orders
		SET status = ?, tracking_number = ?, notes = ?, paid_at = ?, shipped_at = ?,
			delivered_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		string(order.Status), order.TrackingNumber, order.Notes, order.PaidAt, order.ShippedAt,
		order.DeliveredAt, order.UpdatedAt, order.ID, string(expected))
	if err != nil {
		return false, fmt.Errorf("failed to update order: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkOrderPaid flips an order to PAID unless it already is. It returns
// false when the order was already PAID, which makes duplicate payment
// confirmations a no-op.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID int64, paidAt time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, s.rebind(`
		UPDATE orders
		SET status = ?, paid_at = ?, updated_at = ?
		WHERE id = ? AND status <> ?`),
		string(models.OrderStatusPaid), paidAt, paidAt, orderID, string(models.OrderStatusPaid))
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetPaymentReference stamps a PENDING order with its checkout reference
func (s *Store) SetPaymentReference(ctx context.Context, orderID int64, ref string, now time.Time) error {
	res, err := s.q.ExecContext(ctx, s.rebind(`
		UPDATE orders SET payment_reference_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		ref, now, orderID, string(models.OrderStatusPending))
	if isUniqueViolation(err, "payment_reference_id") {
		return &models.DuplicateResourceError{Resource: "order", Field: "payment_reference_id", Value: ref}
	}
	if err != nil {
		return fmt.Errorf("failed to set payment reference: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return models.NewInvalidOperation("order %d is not pending", orderID)
	}
	return nil
}

// PaidTotalsBetween returns the total amounts of PAID orders whose paidAt
// falls in [start, end]
func (s *Store) PaidTotalsBetween(ctx context.Context, start, end time.Time) ([]decimal.Decimal, error) {
	totals := []decimal.Decimal{}
	err := s.q.SelectContext(ctx, &totals, s.rebind(`
		SELECT total_amount FROM orders
		WHERE status = ? AND paid_at BETWEEN ? AND ?`),
		string(models.OrderStatusPaid), start, end)
	return totals, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.q.GetContext(ctx, &exists,
		s.rebind("SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = ?)"), eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string, now time.Time) error {
	_, err := s.q.ExecContext(ctx, s.rebind(`
		INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`),
		eventID, eventType, now)
	return err
}
