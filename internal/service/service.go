package service

import (
	"context"
	"errors"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProductCache is the read-through cache used by FindProductByID. Readers
// fill it conditionally; writers overwrite it after commit.
// *redisclient.Client implements it.
type ProductCache interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FillProduct(ctx context.Context, product *models.Product, ttl time.Duration) error
	SetProduct(ctx context.Context, product *models.Product, ttl time.Duration) error
	MarkProductDeleted(ctx context.Context, id uuid.UUID, ttl time.Duration) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
}

// Locker serializes concurrent submissions sharing an idempotency key.
// *redisclient.Client implements it.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// EventPublisher receives domain events after a write commits.
// *broker.EventPublisher implements it.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderUpdated(ctx context.Context, event *models.OrderUpdatedEvent) error
	PublishOrderDeleted(ctx context.Context, event *models.OrderDeletedEvent) error
	PublishProductEvent(ctx context.Context, event *models.ProductEvent) error
}

// OrderPage is one page of orders
type OrderPage struct {
	Orders     []models.Order `json:"orders"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"total_pages"`
}

// ProductPage is one page of products
type ProductPage struct {
	Products   []models.Product `json:"products"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"total_pages"`
}

func newPage(page, limit int) (models.Page, error) {
	if page < 1 {
		return models.Page{}, apperr.InvalidArgument("page must be at least 1")
	}
	if limit < 1 {
		return models.Page{}, apperr.InvalidArgument("limit must be at least 1")
	}
	return models.Page{Page: page, Limit: limit}, nil
}

func totalPages(total int64, limit int) int {
	if limit < 1 || total < 1 {
		return 0
	}
	return int((total-1)/int64(limit) + 1)
}

// mapError converts any error reaching a service boundary into an
// *apperr.Error. Expected outcomes pass through silently; conflicts and
// internal failures are logged with their cause and surfaced generically.
func mapError(logger *zap.Logger, op string, err error, fields ...zap.Field) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if !apperr.Expected(appErr) {
			logger.Error(op+" failed", append(fields, zap.String("kind", string(appErr.Kind)), zap.Error(err))...)
		}
		return appErr
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("record not found")
	case errors.Is(err, store.ErrConflict):
		logger.Warn(op+" conflicted", append(fields, zap.Error(err))...)
		return apperr.Conflict("the request conflicts with the current state of the resource", err)
	default:
		logger.Error(op+" failed", append(fields, zap.Error(err))...)
		return apperr.Internal("internal server error", err)
	}
}

func failureReason(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidArgument:
		return "invalid_argument"
	case apperr.KindNotFound:
		return "product_not_found"
	case apperr.KindForbidden:
		return "forbidden"
	}
	if errors.Is(err, store.ErrConflict) || apperr.Is(err, apperr.KindConflict) {
		return "conflict"
	}
	return "db_error"
}
