package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a jewelry item in the catalog
type Product struct {
	ID            int64            `db:"id" json:"id"`
	Name          string           `db:"name" json:"name"`
	Description   string           `db:"description" json:"description"`
	Price         decimal.Decimal  `db:"price" json:"price"`
	Stock         int              `db:"stock" json:"stock"`
	SKU           *string          `db:"sku" json:"sku,omitempty"`
	DiscountPrice *decimal.Decimal `db:"discount_price" json:"discount_price,omitempty"`
	Featured      bool             `db:"featured" json:"featured"`
	Active        bool             `db:"active" json:"active"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// SKUValue returns the SKU or an empty string
func (p *Product) SKUValue() string {
	if p.SKU == nil {
		return ""
	}
	return *p.SKU
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// OrderStatuses lists every known status in happy-path order
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// ParseOrderStatus converts a raw string into a known status
func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, status := range OrderStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", NewInvalidOperation("unknown order status: %q", s)
}

// ShippingInfo is where an order is delivered
type ShippingInfo struct {
	Address    string `db:"shipping_address" json:"shipping_address"`
	City       string `db:"shipping_city" json:"shipping_city"`
	State      string `db:"shipping_state" json:"shipping_state"`
	PostalCode string `db:"shipping_postal_code" json:"shipping_postal_code"`
	Country    string `db:"shipping_country" json:"shipping_country"`
}

// Order represents a customer order
type Order struct {
	ID            int64  `db:"id" json:"id"`
	CustomerEmail string `db:"customer_email" json:"customer_email"`
	CustomerName  string `db:"customer_name" json:"customer_name"`
	CustomerPhone string `db:"customer_phone" json:"customer_phone,omitempty"`

	ShippingInfo `json:"shipping"`

	Notes              string          `db:"notes" json:"notes,omitempty"`
	Subtotal           decimal.Decimal `db:"subtotal" json:"subtotal"`
	ShippingCost       decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	Tax                decimal.Decimal `db:"tax" json:"tax"`
	TotalAmount        decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status             OrderStatus     `db:"status" json:"status"`
	PaymentReferenceID *string         `db:"payment_reference_id" json:"payment_reference_id,omitempty"`
	TrackingNumber     *string         `db:"tracking_number" json:"tracking_number,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
	PaidAt             *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	ShippedAt          *time.Time      `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`

	Items []OrderItem `db:"-" json:"items"`
}

// OrderItem is a line of an order with a price snapshot
type OrderItem struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	ProductID       int64           `db:"product_id" json:"product_id"`
	Quantity        int             `db:"quantity" json:"quantity"`
	PriceAtPurchase decimal.Decimal `db:"price_at_purchase" json:"price_at_purchase"`
	ProductName     string          `db:"product_name" json:"product_name"`
	ProductSKU      string          `db:"product_sku" json:"product_sku,omitempty"`
}

// Subtotal is the snapshot price times quantity
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.PriceAtPurchase.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
