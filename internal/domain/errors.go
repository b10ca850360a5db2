package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Validation and not-found failures are rejected before any
// mutation; conflicts either mutate nothing or compensate explicitly.
var (
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrCartItemNotFound     = errors.New("cart item not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrAlreadyPaid          = errors.New("order has already been paid")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrForbidden            = errors.New("access denied")
)

// InsufficientStockError identifies the offending line item so clients can
// adjust the cart instead of guessing.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ExternalServiceError marks a gateway or processor call failure as
// retryable. The order may persist in pending/pending state for later retry.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
