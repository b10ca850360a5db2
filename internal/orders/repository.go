package orders

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/marketflow/checkout/internal/domain"
)

// OrderRepository is the single authoritative mutation path for order fields.
// No other component writes order rows directly.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()

	var vendorID any
	if order.VendorID != "" {
		vendorID = order.VendorID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders.orders (
			id, user_id, vendor_id, payment_method,
			total_price, admin_commission, seller_amount,
			order_status, payment_status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, order.ID, order.UserID, vendorID, order.PaymentMethod,
		order.TotalPrice, order.AdminCommission, order.SellerAmount,
		order.OrderStatus, order.PaymentStatus, order.CreatedAt)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders.order_items (id, order_id, product_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), order.ID, item.ProductID, item.Quantity, item.UnitPrice, item.LineTotal)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Delete removes an order and its line items. Used only to abort a checkout
// whose conditional stock decrement failed mid-order, so partial success is
// never visible to the caller.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders.order_items WHERE order_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders.orders WHERE id = $1`, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *OrderRepository) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*domain.Order, error) {
	return r.getOne(ctx, `WHERE external_order_id = $1`, externalOrderID)
}

func (r *OrderRepository) getOne(ctx context.Context, where string, arg any) (*domain.Order, error) {
	order := &domain.Order{}
	var vendorID, externalOrderID, externalTxnID sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, vendor_id, payment_method,
		       total_price, admin_commission, seller_amount,
		       order_status, payment_status,
		       external_order_id, external_txn_id,
		       created_at, updated_at
		FROM orders.orders
	`+where, arg).Scan(
		&order.ID, &order.UserID, &vendorID, &order.PaymentMethod,
		&order.TotalPrice, &order.AdminCommission, &order.SellerAmount,
		&order.OrderStatus, &order.PaymentStatus,
		&externalOrderID, &externalTxnID,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	order.VendorID = vendorID.String
	order.ExternalOrderID = externalOrderID.String
	order.ExternalTxnID = externalTxnID.String

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, line_total
		FROM orders.order_items
		WHERE order_id = $1
	`, order.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return err
		}
		order.Items = append(order.Items, item)
	}

	return rows.Err()
}

// ListByUser returns the user's orders with items attached, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.list(ctx, `WHERE user_id = $1`, userID)
}

func (r *OrderRepository) ListAll(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, ``)
}

func (r *OrderRepository) list(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, vendor_id, payment_method,
		       total_price, admin_commission, seller_amount,
		       order_status, payment_status,
		       external_order_id, external_txn_id,
		       created_at, updated_at
		FROM orders.orders
	`+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		var vendorID, externalOrderID, externalTxnID sql.NullString
		if err := rows.Scan(
			&order.ID, &order.UserID, &vendorID, &order.PaymentMethod,
			&order.TotalPrice, &order.AdminCommission, &order.SellerAmount,
			&order.OrderStatus, &order.PaymentStatus,
			&externalOrderID, &externalTxnID,
			&order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, err
		}
		order.VendorID = vendorID.String
		order.ExternalOrderID = externalOrderID.String
		order.ExternalTxnID = externalTxnID.String
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price, line_total
		FROM orders.order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders.orders SET order_status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, id)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

// SetExternalOrder overwrites the stored external order id. Retries abandon
// the previous gateway session rather than voiding it.
func (r *OrderRepository) SetExternalOrder(ctx context.Context, id, externalOrderID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders.orders SET external_order_id = $1, updated_at = NOW()
		WHERE id = $2
	`, externalOrderID, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

// MarkPaid settles an order at most once: the payment_status guard makes
// webhook replays a no-op, and fulfillment advances to processing only from
// pending. Returns false when the order was already paid.
func (r *OrderRepository) MarkPaid(ctx context.Context, id, externalTxnID string) (bool, error) {
	var txnID any
	if externalTxnID != "" {
		txnID = externalTxnID
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders.orders
		SET payment_status = 'paid',
		    order_status = CASE WHEN order_status = 'pending' THEN 'processing' ELSE order_status END,
		    external_txn_id = COALESCE($1, external_txn_id),
		    updated_at = NOW()
		WHERE id = $2 AND payment_status <> 'paid'
	`, txnID, id)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// ClaimItemRestore marks one line item's stock as restored, at most once
// across all cancellation attempts. Returns false when the claim is already
// held.
func (r *OrderRepository) ClaimItemRestore(ctx context.Context, orderID, productID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders.order_items
		SET stock_restored = TRUE
		WHERE order_id = $1 AND product_id = $2 AND stock_restored = FALSE
	`, orderID, productID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// ReleaseItemRestore reopens a claim whose stock increment failed, so a
// later cancellation retry can complete it.
func (r *OrderRepository) ReleaseItemRestore(ctx context.Context, orderID, productID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders.order_items
		SET stock_restored = FALSE
		WHERE order_id = $1 AND product_id = $2
	`, orderID, productID)
	return err
}

// MarkCancelled flips a pending order to cancelled/failed. The WHERE clause
// claims the cancellation atomically so stock is never restored twice.
func (r *OrderRepository) MarkCancelled(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders.orders
		SET order_status = 'cancelled', payment_status = 'failed', updated_at = NOW()
		WHERE id = $1 AND order_status = 'pending'
	`, id)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type Stats struct {
	TotalOrders     int             `json:"total_orders"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	OrdersByStatus  []StatusCount   `json:"orders_by_status"`
}

func (r *OrderRepository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		TotalRevenue:    decimal.Zero,
		TotalCommission: decimal.Zero,
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_price), 0), COALESCE(SUM(admin_commission), 0)
		FROM orders.orders
	`).Scan(&stats.TotalOrders, &stats.TotalRevenue, &stats.TotalCommission)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_status, COUNT(*)
		FROM orders.orders
		GROUP BY order_status
		ORDER BY order_status
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		stats.OrdersByStatus = append(stats.OrdersByStatus, sc)
	}

	return stats, rows.Err()
}
