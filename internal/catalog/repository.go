package catalog

import (
	"context"
	"database/sql"

	"github.com/marketflow/checkout/internal/domain"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, vendor_id, price, stock, created_at, updated_at
		FROM catalog.products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		var vendorID sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &vendorID, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.VendorID = vendorID.String
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *ProductRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p := &domain.Product{}
	var vendorID sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, vendor_id, price, stock, created_at, updated_at
		FROM catalog.products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &vendorID, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	p.VendorID = vendorID.String
	return p, nil
}

// DecrementStockIfSufficient applies the conditional decrement that checkout
// relies on for mutual exclusion: the WHERE clause makes check and mutation a
// single atomic statement, so two concurrent checkouts for the last unit
// cannot both succeed.
func (r *ProductRepository) DecrementStockIfSufficient(ctx context.Context, id string, qty int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE catalog.products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
	`, id, qty)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

func (r *ProductRepository) IncrementStock(ctx context.Context, id string, qty int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE catalog.products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
	`, id, qty)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}
