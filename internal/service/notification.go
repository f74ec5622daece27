package service

import (
	"context"
	"fmt"
	"strings"

	"jewelry-store/internal/models"
	"jewelry-store/internal/util"

	"go.uber.org/zap"
)

// EmailSender delivers a plain-text message to a customer
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogEmailSender writes messages to the log instead of a mail server
type LogEmailSender struct {
	logger *zap.Logger
}

// NewLogEmailSender creates a sender backed by the global logger
func NewLogEmailSender() *LogEmailSender {
	return &LogEmailSender{logger: util.GetLogger()}
}

// Send logs the message
func (l *LogEmailSender) Send(ctx context.Context, to, subject, body string) error {
	l.logger.Info("Email sent",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)))
	return nil
}

// NotificationService turns order events into customer messages
type NotificationService struct {
	sender EmailSender
	logger *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(sender EmailSender) *NotificationService {
	return &NotificationService{
		sender: sender,
		logger: util.GetLogger(),
	}
}

// HandleOrderPaid sends the order confirmation
func (n *NotificationService) HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nWe received your payment for order #%d.\n\n", event.CustomerName, event.OrderID)
	for _, item := range event.Items {
		fmt.Fprintf(&b, "  %d x %s @ %s\n", item.Quantity, item.ProductName, item.UnitPrice.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n", event.TotalAmount.StringFixed(2))

	return n.send(ctx, "confirmed", event.CustomerEmail,
		fmt.Sprintf("Order #%d confirmed", event.OrderID), b.String())
}

// HandleOrderStatusChanged sends the shipped or delivered notice; other
// transitions have no customer message
func (n *NotificationService) HandleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	switch event.To {
	case models.OrderStatusPaid:
		return n.send(ctx, "confirmed", event.CustomerEmail,
			fmt.Sprintf("Order #%d confirmed", event.OrderID),
			fmt.Sprintf("Hi %s,\n\nYour order #%d is confirmed.\n", event.CustomerName, event.OrderID))
	case models.OrderStatusShipped:
		body := fmt.Sprintf("Hi %s,\n\nYour order #%d is on its way.\n", event.CustomerName, event.OrderID)
		if event.TrackingNumber != "" {
			body += fmt.Sprintf("Tracking number: %s\n", event.TrackingNumber)
		}
		return n.send(ctx, "shipped", event.CustomerEmail,
			fmt.Sprintf("Order #%d shipped", event.OrderID), body)
	case models.OrderStatusDelivered:
		return n.send(ctx, "delivered", event.CustomerEmail,
			fmt.Sprintf("Order #%d delivered", event.OrderID),
			fmt.Sprintf("Hi %s,\n\nYour order #%d has been delivered.\n", event.CustomerName, event.OrderID))
	}
	return nil
}

func (n *NotificationService) send(ctx context.Context, kind, to, subject, body string) error {
	if to == "" {
		n.logger.Warn("Notification without recipient dropped", zap.String("kind", kind))
		return nil
	}

	if err := n.sender.Send(ctx, to, subject, body); err != nil {
		util.NotificationsTotal.WithLabelValues("email_"+kind, "failed").Inc()
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}
	util.NotificationsTotal.WithLabelValues("email_"+kind, "sent").Inc()
	return nil
}

// LocalPublisher delivers order events straight to the notification
// service. It stands in for Kafka when no brokers are configured.
type LocalPublisher struct {
	notifier *NotificationService
	logger   *zap.Logger
}

// NewLocalPublisher creates an in-process publisher
func NewLocalPublisher(notifier *NotificationService) *LocalPublisher {
	return &LocalPublisher{notifier: notifier, logger: util.GetLogger()}
}

// PublishOrderCreated logs the event; nothing consumes it in-process
func (p *LocalPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	p.logger.Debug("Order created event", zap.Int64("order_id", event.OrderID))
	return nil
}

// PublishOrderPaid sends the confirmation
func (p *LocalPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return p.notifier.HandleOrderPaid(ctx, event)
}

// PublishOrderStatusChanged sends status notices
func (p *LocalPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return p.notifier.HandleOrderStatusChanged(ctx, event)
}

// PublishPaymentReconciliationFailed logs the alert
func (p *LocalPublisher) PublishPaymentReconciliationFailed(ctx context.Context, event *models.PaymentReconciliationFailedEvent) error {
	p.logger.Error("Payment reconciliation failed event",
		zap.Int64("order_id", event.OrderID),
		zap.String("payment_reference_id", event.PaymentReferenceID),
		zap.String("reason", event.Reason))
	return nil
}
