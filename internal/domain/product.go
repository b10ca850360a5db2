package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is owned by the catalog store; checkout only reads price and stock
// and mutates stock through the conditional decrement / increment primitives.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	VendorID  string          `json:"vendor_id,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CartItem is one row of a user's cart: at most one entry per product.
type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
