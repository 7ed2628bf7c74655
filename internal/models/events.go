package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderUpdated   = "ORDER_UPDATED"
	EventTypeOrderDeleted   = "ORDER_DELETED"
	EventTypeProductCreated = "PRODUCT_CREATED"
	EventTypeProductUpdated = "PRODUCT_UPDATED"
	EventTypeProductDeleted = "PRODUCT_DELETED"
	EventTypePaymentSuccess = "PAYMENT_SUCCESS"
	EventTypePaymentFailed  = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps an event of the given type
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderCreatedEvent published when an order commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       uuid.UUID       `json:"order_id"`
	UserID        uuid.UUID       `json:"user_id"`
	OrderSubTotal decimal.Decimal `json:"order_sub_total"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	Status        OrderStatus     `json:"status"`
	ProductIDs    []uuid.UUID     `json:"product_ids"`
}

// OrderUpdatedEvent published when an order is patched
type OrderUpdatedEvent struct {
	BaseEvent
	OrderID        uuid.UUID   `json:"order_id"`
	UserID         uuid.UUID   `json:"user_id"`
	PreviousStatus OrderStatus `json:"previous_status"`
	Status         OrderStatus `json:"status"`
}

// OrderDeletedEvent published when an order is removed
type OrderDeletedEvent struct {
	BaseEvent
	OrderID uuid.UUID `json:"order_id"`
	UserID  uuid.UUID `json:"user_id"`
}

// ProductEvent published on product create, update and delete
type ProductEvent struct {
	BaseEvent
	ProductID  uuid.UUID       `json:"product_id"`
	UserID     uuid.UUID       `json:"user_id"`
	CategoryID uuid.UUID       `json:"category_id"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Amount     int             `json:"amount"`
}

// PaymentSuccessEvent published by the payment provider integration
type PaymentSuccessEvent struct {
	BaseEvent
	OrderID   uuid.UUID `json:"order_id"`
	PaymentID string    `json:"payment_id"`
	TxID      string    `json:"tx_id"`
}

// PaymentFailedEvent published by the payment provider integration
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   uuid.UUID `json:"order_id"`
	PaymentID string    `json:"payment_id"`
	Reason    string    `json:"reason"`
}
