package store

import (
	"context"
	"fmt"
	"strings"

	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const productColumns = `id, user_id, category_id, name, unit_price, amount, sub_total, is_purchased, created_at, updated_at`

// CreateProduct inserts a product with a caller-assigned ID
func (q *queries) CreateProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (id, user_id, category_id, name, unit_price, amount, sub_total, is_purchased)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	return wrapErr(q.db.GetContext(ctx, product, query,
		product.ID, product.UserID, product.CategoryID, product.Name,
		product.UnitPrice, product.Amount, product.SubTotal, product.IsPurchased))
}

// CreateProductFile inserts the file record of a product
func (q *queries) CreateProductFile(ctx context.Context, file *models.ProductFile) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO product_files (id, product_id, category_id, user_id, type, key, size, is_purchased)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		file.ID, file.ProductID, file.CategoryID, file.UserID, file.Type, file.Key, file.Size, file.IsPurchased)
	return wrapErr(err)
}

// GetProductByID retrieves a product by ID
func (q *queries) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := q.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs; missing IDs are skipped
func (q *queries) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = q.db.Rebind(query)

	var products []models.Product
	err = q.db.SelectContext(ctx, &products, query, args...)
	return products, wrapErr(err)
}

// ListProducts returns one page of products, newest first
func (q *queries) ListProducts(ctx context.Context, filter models.ProductFilter, page models.Page) ([]models.Product, error) {
	where, args := productWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM products%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		productColumns, where, len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	products := []models.Product{}
	err := q.db.SelectContext(ctx, &products, query, args...)
	return products, wrapErr(err)
}

// CountProducts counts products matching filter
func (q *queries) CountProducts(ctx context.Context, filter models.ProductFilter) (int64, error) {
	where, args := productWhere(filter)
	var total int64
	err := q.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM products"+where, args...)
	return total, wrapErr(err)
}

// UpdateProduct writes the mutable product columns
func (q *queries) UpdateProduct(ctx context.Context, product *models.Product) error {
	query := `
		UPDATE products
		SET category_id = $1, name = $2, unit_price = $3, amount = $4, sub_total = $5, is_purchased = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at`

	return wrapErr(q.db.GetContext(ctx, &product.UpdatedAt, query,
		product.CategoryID, product.Name, product.UnitPrice, product.Amount,
		product.SubTotal, product.IsPurchased, product.ID))
}

// DeleteProduct removes a product and its file records
func (q *queries) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM product_files WHERE product_id = $1", id); err != nil {
		return wrapErr(err)
	}
	res, err := q.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return wrapErr(err)
	}
	return expectAffected(res)
}

func productWhere(filter models.ProductFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		clauses = append(clauses, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
