package service

import (
	"context"

	"marketplace-service/internal/models"
)

// PaymentEventHandler adapts inbound payment events to ApplyPaymentResult
type PaymentEventHandler struct {
	orders *OrderService
}

// NewPaymentEventHandler creates a new payment event handler
func NewPaymentEventHandler(orders *OrderService) *PaymentEventHandler {
	return &PaymentEventHandler{orders: orders}
}

// HandlePaymentSuccess handles successful payment event
func (h *PaymentEventHandler) HandlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error {
	return h.orders.ApplyPaymentResult(ctx, PaymentResult{
		EventID:   event.EventID,
		EventType: event.EventType,
		OrderID:   event.OrderID,
		PaymentID: event.PaymentID,
		Succeeded: true,
	})
}

// HandlePaymentFailed handles failed payment event
func (h *PaymentEventHandler) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return h.orders.ApplyPaymentResult(ctx, PaymentResult{
		EventID:   event.EventID,
		EventType: event.EventType,
		OrderID:   event.OrderID,
		PaymentID: event.PaymentID,
	})
}
