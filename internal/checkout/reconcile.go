package checkout

import (
	"context"

	"github.com/marketflow/checkout/internal/domain"
)

type checkoutLine struct {
	product  *domain.Product
	quantity int
}

// reconcileCart loads the actor's cart and resolves every line against the
// live catalog. Lines whose product has vanished are dropped and the reduced
// cart is persisted before any quantity validation, so a stock rejection
// still leaves the cart self-healed. An empty cart, before or after dropping
// vanished products, is a hard failure.
func (s *Service) reconcileCart(ctx context.Context, userID string) ([]checkoutLine, error) {
	items, err := s.carts.GetItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	var lines []checkoutLine
	var vanished []string
	for _, item := range items {
		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			vanished = append(vanished, item.ProductID)
			continue
		}
		lines = append(lines, checkoutLine{product: product, quantity: item.Quantity})
	}

	if len(vanished) > 0 {
		if err := s.carts.RemoveItems(ctx, userID, vanished); err != nil {
			s.logger.Error("failed to drop vanished products from cart", "error", err, "user_id", userID)
		}
	}

	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	for _, line := range lines {
		if line.product.Stock < line.quantity {
			return nil, &domain.InsufficientStockError{
				ProductID: line.product.ID,
				Requested: line.quantity,
				Available: line.product.Stock,
			}
		}
	}

	return lines, nil
}
