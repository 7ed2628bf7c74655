package worker

import (
	"context"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// PaymentEventWorker consumes payment results and applies them to orders
type PaymentEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentEventWorker creates a new payment event worker
func NewPaymentEventWorker(consumer *broker.Consumer, handler *service.PaymentEventHandler) *PaymentEventWorker {
	return &PaymentEventWorker{
		consumer:     consumer,
		eventHandler: NewEventHandler(handler),
		logger:       util.GetLogger(),
	}
}

// NewEventHandler wires payment handlers into a broker event router
func NewEventHandler(handler *service.PaymentEventHandler) *broker.EventHandler {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentSuccess(handler.HandlePaymentSuccess)
	eventHandler.OnPaymentFailed(handler.HandlePaymentFailed)
	return eventHandler
}

// Start starts the worker and blocks until ctx is cancelled
func (w *PaymentEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentEventWorker) Stop() error {
	w.logger.Info("Stopping payment event worker")
	return w.consumer.Close()
}
