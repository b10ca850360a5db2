package cart

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/marketflow/checkout/internal/domain"
)

// CartRepository stores one row per (user, product). Carts are created lazily
// on first add and survive across sessions; position preserves insertion
// order.
type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) GetItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM carts.cart_items
		WHERE user_id = $1
		ORDER BY position
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.CartItem
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// UpsertItem adds the product to the cart or replaces its quantity, keeping
// the at-most-one-entry-per-product invariant.
func (r *CartRepository) UpsertItem(ctx context.Context, userID, productID string, quantity int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO carts.cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity
	`, userID, productID, quantity)
	return err
}

func (r *CartRepository) UpdateItem(ctx context.Context, userID, productID string, quantity int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE carts.cart_items
		SET quantity = $3
		WHERE user_id = $1 AND product_id = $2
	`, userID, productID, quantity)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

func (r *CartRepository) RemoveItem(ctx context.Context, userID, productID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM carts.cart_items
		WHERE user_id = $1 AND product_id = $2
	`, userID, productID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// RemoveItems deletes only the named products. Items added concurrently after
// checkout reconciliation remain in the cart.
func (r *CartRepository) RemoveItems(ctx context.Context, userID string, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		DELETE FROM carts.cart_items
		WHERE user_id = $1 AND product_id = ANY($2)
	`, userID, pq.Array(productIDs))
	return err
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM carts.cart_items
		WHERE user_id = $1
	`, userID)
	return err
}
