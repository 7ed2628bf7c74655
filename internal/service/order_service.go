package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-service/internal/access"
	"marketplace-service/internal/apperr"
	"marketplace-service/internal/idgen"
	"marketplace-service/internal/models"
	"marketplace-service/internal/pricing"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService handles order business logic
type OrderService struct {
	store   store.TxStore
	ids     idgen.Generator
	locker  Locker
	events  EventPublisher
	lockTTL time.Duration
	logger  *zap.Logger
}

// NewOrderService creates a new order service. locker and events may be nil.
func NewOrderService(
	store store.TxStore,
	ids idgen.Generator,
	locker Locker,
	events EventPublisher,
	lockTTL time.Duration,
) *OrderService {
	if ids == nil {
		ids = idgen.New()
	}
	return &OrderService{
		store:   store,
		ids:     ids,
		locker:  locker,
		events:  events,
		lockTTL: lockTTL,
		logger:  util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items          []models.OrderItem `json:"items" binding:"required,min=1"`
	ShippingFee    decimal.Decimal    `json:"shipping_fee"`
	ShippingMethod string             `json:"shipping_method" binding:"required"`
	PaymentID      string             `json:"payment_id" binding:"required"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

func (r *CreateOrderRequest) validate() error {
	if len(r.Items) == 0 {
		return apperr.InvalidArgument("at least one item is required")
	}
	for i, item := range r.Items {
		if item.ProductID == uuid.Nil {
			return apperr.InvalidArgument("items[%d].product_id is required", i)
		}
	}
	if !r.ShippingFee.IsPositive() {
		return apperr.InvalidArgument("shipping_fee must be positive")
	}
	if strings.TrimSpace(r.ShippingMethod) == "" {
		return apperr.InvalidArgument("shipping_method is required")
	}
	if strings.TrimSpace(r.PaymentID) == "" {
		return apperr.InvalidArgument("payment_id is required")
	}
	return nil
}

// UpdateOrderRequest is a partial update; nil fields are left unchanged
type UpdateOrderRequest struct {
	Status         *models.OrderStatus `json:"status,omitempty"`
	ShippingFee    *decimal.Decimal    `json:"shipping_fee,omitempty"`
	ShippingMethod *string             `json:"shipping_method,omitempty"`
	PaymentID      *string             `json:"payment_id,omitempty"`
}

func (r *UpdateOrderRequest) validate() error {
	if r.Status == nil && r.ShippingFee == nil && r.ShippingMethod == nil && r.PaymentID == nil {
		return apperr.InvalidArgument("no fields to update")
	}
	if r.Status != nil && !r.Status.Valid() {
		return apperr.InvalidArgument("unknown order status %q", *r.Status)
	}
	if r.ShippingFee != nil && !r.ShippingFee.IsPositive() {
		return apperr.InvalidArgument("shipping_fee must be positive")
	}
	if r.ShippingMethod != nil && strings.TrimSpace(*r.ShippingMethod) == "" {
		return apperr.InvalidArgument("shipping_method must not be empty")
	}
	if r.PaymentID != nil && strings.TrimSpace(*r.PaymentID) == "" {
		return apperr.InvalidArgument("payment_id must not be empty")
	}
	return nil
}

// CreateOrder prices the requested items against live catalog data and
// writes the order and its lines in one transaction. The caller never
// supplies a price.
func (s *OrderService) CreateOrder(ctx context.Context, p models.Principal, req CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder",
		attribute.String("user_id", p.ID.String()),
		attribute.Int("items", len(req.Items)))
	defer span.End()

	if err := req.validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_argument").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.findReplay(ctx, p, req.IdempotencyKey)
		if err != nil || existing != nil {
			return existing, err
		}

		release, err := s.lock(ctx, "order-create:"+req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()

		// a request holding the lock may have committed since the first check
		existing, err = s.findReplay(ctx, p, req.IdempotencyKey)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	orderID, err := s.ids.Next()
	if err != nil {
		return nil, mapError(s.logger, "generate order id", err)
	}

	var order *models.Order
	err = s.store.WithTx(ctx, func(tx store.Repository) error {
		subtotal, products, err := pricing.Subtotal(ctx, tx, req.Items)
		if err != nil {
			return err
		}

		o := &models.Order{
			ID:             orderID,
			UserID:         p.ID,
			OrderSubTotal:  subtotal,
			ShippingFee:    req.ShippingFee,
			ShippingMethod: req.ShippingMethod,
			PaymentID:      req.PaymentID,
			Status:         models.OrderStatusPending,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			o.IdempotencyKey = &key
		}
		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}

		lines := make([]models.OrderLine, 0, len(products))
		for _, product := range products {
			lineID, err := s.ids.Next()
			if err != nil {
				return fmt.Errorf("failed to generate line id: %w", err)
			}
			lines = append(lines, models.OrderLine{ID: lineID, OrderID: o.ID, ProductID: product.ID})
		}
		if err := tx.CreateOrderLines(ctx, lines); err != nil {
			return err
		}

		o.Lines = lines
		order = o
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, mapError(s.logger, "create order", err, zap.String("order_id", orderID.String()))
	}

	util.OrdersCreatedTotal.Inc()
	util.OrderSubtotal.Observe(order.OrderSubTotal.InexactFloat64())
	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("sub_total", order.OrderSubTotal.String()))

	s.publishCreated(ctx, order)
	return order, nil
}

// findReplay returns the order already stored under key, or nil
func (s *OrderService) findReplay(ctx context.Context, p models.Principal, key string) (*models.Order, error) {
	existing, err := s.store.GetOrderByIdempotencyKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(s.logger, "check idempotency", err)
	}
	if existing.UserID != p.ID {
		return nil, apperr.Conflict("idempotency key already used", nil)
	}

	lines, err := s.store.GetOrderLinesByOrderIDs(ctx, []uuid.UUID{existing.ID})
	if err != nil {
		return nil, mapError(s.logger, "load order lines", err, zap.String("order_id", existing.ID.String()))
	}
	existing.Lines = lines

	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", existing.ID.String()))
	return existing, nil
}

func (s *OrderService) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		return nil, mapError(s.logger, "acquire lock", err, zap.String("lock", key))
	}
	if !ok {
		return nil, apperr.Conflict("a request with this idempotency key is already in progress", nil)
	}
	return func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("Failed to release lock", zap.String("lock", key), zap.Error(err))
		}
	}, nil
}

// FindAllOrders lists orders visible to p: every order for ADMIN, own orders otherwise
func (s *OrderService) FindAllOrders(ctx context.Context, p models.Principal, page, limit int) (*OrderPage, error) {
	pg, err := newPage(page, limit)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, models.OrderFilter{UserID: access.Scope(p)}, pg)
}

// FindOrdersByUserID lists the orders of userID. A USER asking for someone
// else's orders is refused rather than filtered.
func (s *OrderService) FindOrdersByUserID(ctx context.Context, p models.Principal, userID uuid.UUID, page, limit int) (*OrderPage, error) {
	pg, err := newPage(page, limit)
	if err != nil {
		return nil, err
	}
	if err := access.AuthorizeUserListing(p, access.ResourceOrder, userID); err != nil {
		return nil, err
	}
	return s.list(ctx, models.OrderFilter{UserID: &userID}, pg)
}

func (s *OrderService) list(ctx context.Context, filter models.OrderFilter, pg models.Page) (*OrderPage, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.List")
	defer span.End()

	result := &OrderPage{Page: pg.Page, Limit: pg.Limit}
	err := s.store.WithReadTx(ctx, func(tx store.Repository) error {
		total, err := tx.CountOrders(ctx, filter)
		if err != nil {
			return err
		}
		orders, err := tx.ListOrders(ctx, filter, pg)
		if err != nil {
			return err
		}
		if err := attachLines(ctx, tx, orders); err != nil {
			return err
		}
		result.Total = total
		result.Orders = orders
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, mapError(s.logger, "list orders", err)
	}

	result.TotalPages = totalPages(result.Total, pg.Limit)
	return result, nil
}

// FindOrderByID returns one order with its lines
func (s *OrderService) FindOrderByID(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.FindOrderByID", attribute.String("order_id", id.String()))
	defer span.End()

	var order *models.Order
	err := s.store.WithReadTx(ctx, func(tx store.Repository) error {
		o, err := getOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := access.Authorize(p, access.ResourceOrder, o.UserID, access.ActionRead); err != nil {
			return err
		}
		lines, err := tx.GetOrderLinesByOrderIDs(ctx, []uuid.UUID{o.ID})
		if err != nil {
			return err
		}
		o.Lines = nonNilLines(lines)
		order = o
		return nil
	})
	if err != nil {
		return nil, mapError(s.logger, "find order", err, zap.String("order_id", id.String()))
	}
	return order, nil
}

// UpdateOrderByID applies patch to an order. Subtotal and owner are never changed.
func (s *OrderService) UpdateOrderByID(ctx context.Context, p models.Principal, id uuid.UUID, patch UpdateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderByID", attribute.String("order_id", id.String()))
	defer span.End()

	if err := patch.validate(); err != nil {
		return nil, err
	}

	var order *models.Order
	var previous models.OrderStatus
	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		o, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := access.Authorize(p, access.ResourceOrder, o.UserID, access.ActionUpdate); err != nil {
			return err
		}

		previous = o.Status
		if patch.Status != nil {
			if !models.CanTransition(o.Status, *patch.Status) {
				return apperr.InvalidArgument("cannot change order status from %s to %s", o.Status, *patch.Status)
			}
			o.Status = *patch.Status
		}
		if patch.ShippingFee != nil {
			o.ShippingFee = *patch.ShippingFee
		}
		if patch.ShippingMethod != nil {
			o.ShippingMethod = *patch.ShippingMethod
		}
		if patch.PaymentID != nil {
			o.PaymentID = *patch.PaymentID
		}

		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		lines, err := tx.GetOrderLinesByOrderIDs(ctx, []uuid.UUID{o.ID})
		if err != nil {
			return err
		}
		o.Lines = nonNilLines(lines)
		order = o
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, mapError(s.logger, "update order", err, zap.String("order_id", id.String()))
	}

	if previous != order.Status {
		util.OrderStatusTransitionsTotal.WithLabelValues(string(previous), string(order.Status)).Inc()
		s.logger.Info("Order status changed",
			zap.String("order_id", order.ID.String()),
			zap.String("from", string(previous)),
			zap.String("to", string(order.Status)))
	}
	s.publishUpdated(ctx, order, previous)
	return order, nil
}

// DeleteOrderByID removes an order together with its lines
func (s *OrderService) DeleteOrderByID(ctx context.Context, p models.Principal, id uuid.UUID) error {
	ctx, span := util.StartSpan(ctx, "OrderService.DeleteOrderByID", attribute.String("order_id", id.String()))
	defer span.End()

	var owner uuid.UUID
	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		o, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := access.Authorize(p, access.ResourceOrder, o.UserID, access.ActionDelete); err != nil {
			return err
		}
		owner = o.UserID
		return tx.DeleteOrder(ctx, id)
	})
	if err != nil {
		util.RecordError(span, err)
		return mapError(s.logger, "delete order", err, zap.String("order_id", id.String()))
	}

	util.OrdersDeletedTotal.Inc()
	s.logger.Info("Order deleted", zap.String("order_id", id.String()))

	if s.events != nil {
		event := &models.OrderDeletedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeOrderDeleted),
			OrderID:   id,
			UserID:    owner,
		}
		if err := s.events.PublishOrderDeleted(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderDeleted event", zap.Error(err))
		}
	}
	return nil
}

// PaymentResult is the outcome of a payment attempt reported by the payment provider
type PaymentResult struct {
	EventID   string
	EventType string
	OrderID   uuid.UUID
	PaymentID string
	Succeeded bool
}

// ApplyPaymentResult moves an order awaiting payment to paid or cancelled.
// Each event is applied at most once; orders in any other state are left
// untouched.
func (s *OrderService) ApplyPaymentResult(ctx context.Context, result PaymentResult) error {
	ctx, span := util.StartSpan(ctx, "OrderService.ApplyPaymentResult",
		attribute.String("order_id", result.OrderID.String()),
		attribute.String("event_id", result.EventID))
	defer span.End()

	if result.EventID == "" {
		util.PaymentEventsTotal.WithLabelValues(result.EventType, "invalid").Inc()
		s.logger.Warn("Ignoring payment event without id", zap.String("order_id", result.OrderID.String()))
		return nil
	}

	target := models.OrderStatusCancelled
	if result.Succeeded {
		target = models.OrderStatusPaid
	}

	outcome := "applied"
	var updated *models.Order
	err := s.store.WithTx(ctx, func(tx store.Repository) error {
		// the row lock comes first so a redelivery of the same event waits
		// here and then sees it as processed
		o, err := tx.LockOrderByID(ctx, result.OrderID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		processed, perr := tx.IsEventProcessed(ctx, result.EventID)
		if perr != nil {
			return perr
		}
		if processed {
			outcome = "duplicate"
			return nil
		}

		switch {
		case err != nil:
			outcome = "unknown_order"
		case o.Status != models.OrderStatusAwaitingPayment:
			outcome = "ignored"
		default:
			o.Status = target
			if result.PaymentID != "" {
				o.PaymentID = result.PaymentID
			}
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			updated = o
		}

		return tx.MarkEventProcessed(ctx, result.EventID, result.EventType)
	})
	if err != nil {
		util.PaymentEventsTotal.WithLabelValues(result.EventType, "error").Inc()
		util.RecordError(span, err)
		return mapError(s.logger, "apply payment result", err,
			zap.String("order_id", result.OrderID.String()),
			zap.String("event_id", result.EventID))
	}

	util.PaymentEventsTotal.WithLabelValues(result.EventType, outcome).Inc()
	if updated == nil {
		s.logger.Info("Payment event not applied",
			zap.String("event_id", result.EventID),
			zap.String("order_id", result.OrderID.String()),
			zap.String("outcome", outcome))
		return nil
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(string(models.OrderStatusAwaitingPayment), string(target)).Inc()
	s.logger.Info("Payment result applied",
		zap.String("order_id", updated.ID.String()),
		zap.String("status", string(updated.Status)))
	s.publishUpdated(ctx, updated, models.OrderStatusAwaitingPayment)
	return nil
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order) {
	if s.events == nil {
		return
	}
	productIDs := make([]uuid.UUID, 0, len(order.Lines))
	for _, line := range order.Lines {
		productIDs = append(productIDs, line.ProductID)
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		UserID:        order.UserID,
		OrderSubTotal: order.OrderSubTotal,
		ShippingFee:   order.ShippingFee,
		Status:        order.Status,
		ProductIDs:    productIDs,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (s *OrderService) publishUpdated(ctx context.Context, order *models.Order, previous models.OrderStatus) {
	if s.events == nil {
		return
	}
	event := &models.OrderUpdatedEvent{
		BaseEvent:      models.NewBaseEvent(models.EventTypeOrderUpdated),
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: previous,
		Status:         order.Status,
	}
	if err := s.events.PublishOrderUpdated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderUpdated event", zap.Error(err))
	}
}

func getOrder(ctx context.Context, repo store.Repository, id uuid.UUID) (*models.Order, error) {
	o, err := repo.GetOrderByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order not found: %s", id)
	}
	return o, err
}

// lockOrder is getOrder holding the row lock for the rest of the transaction
func lockOrder(ctx context.Context, tx store.Repository, id uuid.UUID) (*models.Order, error) {
	o, err := tx.LockOrderByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order not found: %s", id)
	}
	return o, err
}

// attachLines loads the lines of every order in one query
func attachLines(ctx context.Context, repo store.Repository, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	lines, err := repo.GetOrderLinesByOrderIDs(ctx, ids)
	if err != nil {
		return err
	}

	byOrder := make(map[uuid.UUID][]models.OrderLine, len(orders))
	for _, line := range lines {
		byOrder[line.OrderID] = append(byOrder[line.OrderID], line)
	}
	for i := range orders {
		orders[i].Lines = nonNilLines(byOrder[orders[i].ID])
	}
	return nil
}

func nonNilLines(lines []models.OrderLine) []models.OrderLine {
	if lines == nil {
		return []models.OrderLine{}
	}
	return lines
}
