package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, user_id, order_sub_total, shipping_fee, shipping_method, payment_id, status, idempotency_key, created_at, updated_at`

// CreateOrder inserts an order with a caller-assigned ID
func (q *queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, user_id, order_sub_total, shipping_fee, shipping_method, payment_id, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	return wrapErr(q.db.GetContext(ctx, order, query,
		order.ID, order.UserID, order.OrderSubTotal, order.ShippingFee,
		order.ShippingMethod, order.PaymentID, order.Status, order.IdempotencyKey))
}

// CreateOrderLines inserts all lines of an order in one statement
func (q *queries) CreateOrderLines(ctx context.Context, lines []models.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	_, err := sqlx.NamedExecContext(ctx, q.db,
		`INSERT INTO order_lines (id, order_id, product_id) VALUES (:id, :order_id, :product_id)`, lines)
	return wrapErr(err)
}

// GetOrderByID retrieves an order by ID, without lines
func (q *queries) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := q.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &order, nil
}

// LockOrderByID retrieves an order with SELECT ... FOR UPDATE
func (q *queries) LockOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := q.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (q *queries) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := q.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &order, nil
}

// GetOrderLinesByOrderIDs retrieves the lines of several orders
func (q *queries) GetOrderLinesByOrderIDs(ctx context.Context, orderIDs []uuid.UUID) ([]models.OrderLine, error) {
	if len(orderIDs) == 0 {
		return []models.OrderLine{}, nil
	}

	query, args, err := sqlx.In("SELECT id, order_id, product_id FROM order_lines WHERE order_id IN (?) ORDER BY order_id, seq", orderIDs)
	if err != nil {
		return nil, err
	}

	var lines []models.OrderLine
	err = q.db.SelectContext(ctx, &lines, q.db.Rebind(query), args...)
	return lines, wrapErr(err)
}

// ListOrders returns one page of orders, newest first
func (q *queries) ListOrders(ctx context.Context, filter models.OrderFilter, page models.Page) ([]models.Order, error) {
	where, args := orderWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	orders := []models.Order{}
	err := q.db.SelectContext(ctx, &orders, query, args...)
	return orders, wrapErr(err)
}

// CountOrders counts orders matching filter
func (q *queries) CountOrders(ctx context.Context, filter models.OrderFilter) (int64, error) {
	where, args := orderWhere(filter)
	var total int64
	err := q.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders"+where, args...)
	return total, wrapErr(err)
}

// UpdateOrder writes the mutable order columns. Subtotal and owner are never written.
func (q *queries) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders
		SET status = $1, shipping_fee = $2, shipping_method = $3, payment_id = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	return wrapErr(q.db.GetContext(ctx, &order.UpdatedAt, query,
		order.Status, order.ShippingFee, order.ShippingMethod, order.PaymentID, order.ID))
}

// DeleteOrder removes an order together with its lines
func (q *queries) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM order_lines WHERE order_id = $1", id); err != nil {
		return wrapErr(err)
	}
	res, err := q.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return wrapErr(err)
	}
	return expectAffected(res)
}

// IsEventProcessed checks if an event has been processed
func (q *queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := q.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (q *queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

func orderWhere(filter models.OrderFilter) (string, []interface{}) {
	if filter.UserID == nil {
		return "", nil
	}
	return " WHERE user_id = $1", []interface{}{*filter.UserID}
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
