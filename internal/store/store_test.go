package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"marketplace-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStoreFromDB(sqlx.NewDb(db, "postgres")), mock
}

var orderCols = []string{"id", "user_id", "order_sub_total", "shipping_fee", "shipping_method", "payment_id", "status", "idempotency_key", "created_at", "updated_at"}

func TestCreateOrderWithLinesCommits(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	order := &models.Order{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		OrderSubTotal:  decimal.NewFromInt(200),
		ShippingFee:    decimal.NewFromInt(10),
		ShippingMethod: "courier",
		PaymentID:      "pay-1",
		Status:         models.OrderStatusPending,
	}
	lines := []models.OrderLine{
		{ID: uuid.New(), OrderID: order.ID, ProductID: uuid.New()},
		{ID: uuid.New(), OrderID: order.ID, ProductID: uuid.New()},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_lines (id, order_id, product_id) VALUES")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx Repository) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		return tx.CreateOrderLines(ctx, lines)
	})
	require.NoError(t, err)
	assert.Equal(t, now, order.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("pricing failed")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(Repository) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniqueViolationIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Repository) error {
		return tx.CreateOrder(context.Background(), &models.Order{ID: uuid.New(), Status: models.OrderStatusPending})
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestForeignKeyViolationIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM product_files WHERE product_id = $1")).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM products WHERE id = $1")).
		WithArgs(id.String()).
		WillReturnError(&pq.Error{Code: "23503", Message: "violates foreign key constraint"})

	err := s.DeleteProduct(context.Background(), id)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
		WithArgs(id.String()).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetOrderByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByIDScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	id, user := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow(id.String(), user.String(), "200.00", "10", "courier", "pay-1", "pending", nil, now, now))

	order, err := s.GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, order.ID)
	assert.Equal(t, user, order.UserID)
	assert.True(t, decimal.NewFromInt(200).Equal(order.OrderSubTotal))
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Nil(t, order.IdempotencyKey)
}

func TestDeleteOrderMissingIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM order_lines WHERE order_id = $1")).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM orders WHERE id = $1")).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteOrder(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductsByIDsUsesOneQuery(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()
	now := time.Now().UTC()

	cols := []string{"id", "user_id", "category_id", "name", "unit_price", "amount", "sub_total", "is_purchased", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id IN ($1, $2)")).
		WithArgs(a.String(), b.String()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(a.String(), uuid.NewString(), uuid.NewString(), "A", "50", 2, "100", false, now, now).
			AddRow(b.String(), uuid.NewString(), uuid.NewString(), "B", "25", 4, "100", false, now, now))

	products, err := s.GetProductsByIDs(context.Background(), []uuid.UUID{a, b})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.True(t, decimal.NewFromInt(50).Equal(products[0].UnitPrice))
	assert.Equal(t, 4, products[1].Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersFiltersByUser(t *testing.T) {
	s, mock := newMockStore(t)
	user := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM orders WHERE user_id = $1")).
		WithArgs(user.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3")).
		WithArgs(user.String(), 2, 2).
		WillReturnRows(sqlmock.NewRows(orderCols))
	mock.ExpectCommit()

	filter := models.OrderFilter{UserID: &user}
	var total int64
	var orders []models.Order
	err := s.WithReadTx(context.Background(), func(tx Repository) error {
		var err error
		if total, err = tx.CountOrders(context.Background(), filter); err != nil {
			return err
		}
		orders, err = tx.ListOrders(context.Background(), filter, models.Page{Page: 2, Limit: 2})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Empty(t, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductWhere(t *testing.T) {
	user, category := uuid.New(), uuid.New()

	where, args := productWhere(models.ProductFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = productWhere(models.ProductFilter{UserID: &user, CategoryID: &category})
	assert.Equal(t, " WHERE user_id = $1 AND category_id = $2", where)
	assert.Equal(t, []interface{}{user, category}, args)
}

func TestLockOrderByIDSelectsForUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	id, user := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1 FOR UPDATE")).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow(id.String(), user.String(), "10", "1", "courier", "pay-1", "pending", nil, now, now))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx Repository) error {
		order, err := tx.LockOrderByID(context.Background(), id)
		if err != nil {
			return err
		}
		assert.Equal(t, user, order.UserID)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockOrderByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(id.String()).
		WillReturnError(sql.ErrNoRows)

	_, err := s.LockOrderByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}
