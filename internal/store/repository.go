package store

import (
	"context"
	"errors"

	"marketplace-service/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a keyed lookup, update or delete matches no row
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned when a write violates a constraint or cannot commit
	ErrConflict = errors.New("store: conflicting write")
)

// Repository is the per-entity persistence contract. Implementations are either
// bound to the database directly or to an open transaction.
type Repository interface {
	CreateProduct(ctx context.Context, product *models.Product) error
	CreateProductFile(ctx context.Context, file *models.ProductFile) error
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	ListProducts(ctx context.Context, filter models.ProductFilter, page models.Page) ([]models.Product, error)
	CountProducts(ctx context.Context, filter models.ProductFilter) (int64, error)
	UpdateProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderLines(ctx context.Context, lines []models.OrderLine) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// LockOrderByID reads an order and holds its row lock until the
	// transaction ends. Read-check-write paths on orders must use it.
	LockOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderLinesByOrderIDs(ctx context.Context, orderIDs []uuid.UUID) ([]models.OrderLine, error)
	ListOrders(ctx context.Context, filter models.OrderFilter, page models.Page) ([]models.Order, error)
	CountOrders(ctx context.Context, filter models.OrderFilter) (int64, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	DeleteOrder(ctx context.Context, id uuid.UUID) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// TxStore adds the transaction primitive. fn receives a transaction-scoped
// Repository; either every effect of fn commits or none does. A non-nil error
// from fn rolls back and is returned unchanged.
type TxStore interface {
	Repository
	WithTx(ctx context.Context, fn func(Repository) error) error
	// WithReadTx runs fn in a read-only snapshot so multiple reads agree
	WithReadTx(ctx context.Context, fn func(Repository) error) error
}
