package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash    PaymentMethod = "cash"
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodGateway PaymentMethod = "gateway"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodGateway:
		return true
	}
	return false
}

// OrderStatus is the fulfillment axis of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusShipped:    2,
	OrderStatusDelivered:  3,
}

// CanAdvanceTo reports whether a fulfillment transition from s to target is a
// forward move. Cancellation is not an advance; it has its own entry point.
func (s OrderStatus) CanAdvanceTo(target OrderStatus) bool {
	if s == OrderStatusCancelled || target == OrderStatusCancelled {
		return false
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[target]
	if !ok {
		return false
	}
	return to > from
}

// PaymentStatus is the settlement axis, independent of fulfillment.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// OrderItem is a price-and-quantity snapshot of one product, immutable after
// the order is created. It is never re-read from the live product price.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	VendorID        string          `json:"vendor_id,omitempty"`
	Items           []OrderItem     `json:"items"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	AdminCommission decimal.Decimal `json:"admin_commission"`
	SellerAmount    decimal.Decimal `json:"seller_amount"`
	OrderStatus     OrderStatus     `json:"order_status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	ExternalOrderID string          `json:"external_order_id,omitempty"`
	ExternalTxnID   string          `json:"external_txn_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CanBeCancelled: cancellation is a terminal transition from pending only.
func (o *Order) CanBeCancelled() bool {
	return o.OrderStatus == OrderStatusPending
}
