package payments

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/marketflow/checkout/internal/domain"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	payment.ID = uuid.New().String()

	var txnID any
	if payment.TransactionID != "" {
		txnID = payment.TransactionID
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments.payments (id, user_id, order_id, method, amount, status, transaction_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, payment.ID, payment.UserID, payment.OrderID, payment.Method,
		payment.Amount, payment.Status, txnID, payment.CreatedAt)
	return err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string, method domain.PaymentMethod) (*domain.Payment, error) {
	return r.getOne(ctx, `WHERE transaction_id = $1 AND method = $2`, transactionID, method)
}

// LatestByOrderAndMethod returns the newest attempt for the order, or nil.
func (r *PaymentRepository) LatestByOrderAndMethod(ctx context.Context, orderID string, method domain.PaymentMethod) (*domain.Payment, error) {
	return r.getOne(ctx, `WHERE order_id = $1 AND method = $2 ORDER BY created_at DESC LIMIT 1`, orderID, method)
}

func (r *PaymentRepository) getOne(ctx context.Context, where string, args ...any) (*domain.Payment, error) {
	payment := &domain.Payment{}
	var txnID sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, order_id, method, amount, status, transaction_id, created_at, updated_at
		FROM payments.payments
	`+where, args...).Scan(
		&payment.ID, &payment.UserID, &payment.OrderID, &payment.Method,
		&payment.Amount, &payment.Status, &txnID, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	payment.TransactionID = txnID.String
	return payment, nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string) ([]domain.Payment, error) {
	return r.list(ctx, `WHERE user_id = $1`, userID)
}

func (r *PaymentRepository) ListAll(ctx context.Context) ([]domain.Payment, error) {
	return r.list(ctx, ``)
}

func (r *PaymentRepository) list(ctx context.Context, where string, args ...any) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, order_id, method, amount, status, transaction_id, created_at, updated_at
		FROM payments.payments
	`+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	payments := []domain.Payment{}
	for rows.Next() {
		var payment domain.Payment
		var txnID sql.NullString
		if err := rows.Scan(
			&payment.ID, &payment.UserID, &payment.OrderID, &payment.Method,
			&payment.Amount, &payment.Status, &txnID, &payment.CreatedAt, &payment.UpdatedAt,
		); err != nil {
			return nil, err
		}
		payment.TransactionID = txnID.String
		payments = append(payments, payment)
	}

	return payments, rows.Err()
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, transactionID string) error {
	var txnID any
	if transactionID != "" {
		txnID = transactionID
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE payments.payments
		SET status = $1, transaction_id = COALESCE($2, transaction_id), updated_at = NOW()
		WHERE id = $3
	`, status, txnID, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}

	return nil
}

// ResolvePending marks every pending attempt for (order, method) with the
// terminal status. A no-op when there is nothing pending, which keeps webhook
// replays harmless at the ledger level too.
func (r *PaymentRepository) ResolvePending(ctx context.Context, orderID string, method domain.PaymentMethod, status domain.PaymentStatus, transactionID string) error {
	var txnID any
	if transactionID != "" {
		txnID = transactionID
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE payments.payments
		SET status = $1, transaction_id = COALESCE($2, transaction_id), updated_at = NOW()
		WHERE order_id = $3 AND method = $4 AND status = 'pending'
	`, status, txnID, orderID, method)
	return err
}
