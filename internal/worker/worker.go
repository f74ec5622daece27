package worker

import (
	"context"

	"jewelry-store/internal/broker"
	"jewelry-store/internal/models"
	"jewelry-store/internal/service"
	"jewelry-store/internal/util"

	"go.uber.org/zap"
)

// MessageSource delivers messages to a handler until its context ends.
// *broker.Consumer satisfies it.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// NotificationWorker turns order events into customer notifications
type NotificationWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source MessageSource, notifier *service.NotificationService) *NotificationWorker {
	w := &NotificationWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderPaid(func(ctx context.Context, e *models.OrderPaidEvent) error {
		return w.bestEffort(e.OrderID, notifier.HandleOrderPaid(ctx, e))
	})
	w.eventHandler.OnOrderStatusChanged(func(ctx context.Context, e *models.OrderStatusChangedEvent) error {
		return w.bestEffort(e.OrderID, notifier.HandleOrderStatusChanged(ctx, e))
	})
	return w
}

// bestEffort logs a failed notification and lets the consumer move on;
// a missed email never holds back the rest of the topic
func (w *NotificationWorker) bestEffort(orderID int64, err error) error {
	if err != nil {
		w.logger.Error("Notification failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
	return nil
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}

// PaymentWorker reconciles payment confirmations arriving on the payment
// events topic
type PaymentWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(source MessageSource, paymentService *service.PaymentService) *PaymentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentSucceeded(paymentService.HandlePaymentSucceeded)

	return &PaymentWorker{
		source:       source,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the payment worker
func (pw *PaymentWorker) Start(ctx context.Context) error {
	pw.logger.Info("Starting payment worker")
	return pw.source.StartConsuming(ctx, pw.eventHandler.HandleMessage)
}

// Stop stops the payment worker
func (pw *PaymentWorker) Stop() error {
	pw.logger.Info("Stopping payment worker")
	return pw.source.Close()
}
