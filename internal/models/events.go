package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated                = "ORDER_CREATED"
	EventTypeOrderPaid                   = "ORDER_PAID"
	EventTypeOrderStatusChanged          = "ORDER_STATUS_CHANGED"
	EventTypePaymentReconciliationFailed = "PAYMENT_RECONCILIATION_FAILED"
	EventTypePaymentSucceeded            = "PAYMENT_SUCCEEDED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is placed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	CustomerEmail string          `json:"customer_email"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Items         []OrderItemData `json:"items"`
}

// OrderPaidEvent published when payment is reconciled and stock deducted
type OrderPaidEvent struct {
	BaseEvent
	OrderID            int64           `json:"order_id"`
	PaymentReferenceID string          `json:"payment_reference_id"`
	CustomerEmail      string          `json:"customer_email"`
	CustomerName       string          `json:"customer_name"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Items              []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published after every committed transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        int64       `json:"order_id"`
	CustomerEmail  string      `json:"customer_email"`
	CustomerName   string      `json:"customer_name"`
	From           OrderStatus `json:"from"`
	To             OrderStatus `json:"to"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
	StockReturned  bool        `json:"stock_returned"`
}

// PaymentReconciliationFailedEvent published when a paid order cannot be fulfilled from stock
type PaymentReconciliationFailedEvent struct {
	BaseEvent
	OrderID            int64  `json:"order_id"`
	PaymentReferenceID string `json:"payment_reference_id"`
	ProductID          int64  `json:"product_id,omitempty"`
	ProductName        string `json:"product_name,omitempty"`
	Available          int    `json:"available"`
	Requested          int    `json:"requested"`
	Reason             string `json:"reason"`
}

// PaymentSucceededEvent is emitted by the payment provider integration
type PaymentSucceededEvent struct {
	BaseEvent
	PaymentReferenceID string `json:"payment_reference_id"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// ItemData converts order items into their event form
func ItemData(items []OrderItem) []OrderItemData {
	out := make([]OrderItemData, 0, len(items))
	for _, item := range items {
		out = append(out, OrderItemData{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.PriceAtPurchase,
		})
	}
	return out
}
