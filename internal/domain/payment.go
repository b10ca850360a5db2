package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is one attempt at settling an order. Retries may create additional
// attempts; the order's PaymentStatus is the authoritative aggregate.
type Payment struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	OrderID       string          `json:"order_id"`
	Method        PaymentMethod   `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PaymentStatus   `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
