package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jewelry-store/internal/models"
	"jewelry-store/internal/store"
	"jewelry-store/internal/util"

	"go.uber.org/zap"
)

// ErrPaymentInProgress is returned when another delivery for the same
// payment reference holds the reconciliation lock
var ErrPaymentInProgress = errors.New("payment confirmation already in progress")

// Payment confirmation sources, used as metric labels
const (
	SourceWebhook = "webhook"
	SourceKafka   = "kafka"
)

// Locker serializes work across instances
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// PaymentService receives payment confirmations from the provider and
// reconciles them against orders
type PaymentService struct {
	orders  *OrderService
	store   *store.Store
	locker  Locker
	lockTTL time.Duration
	clock   util.Clock
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service. locker may be nil, in
// which case the order's compare-and-set is the only guard.
func NewPaymentService(orders *OrderService, store *store.Store, locker Locker, lockTTL time.Duration) *PaymentService {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &PaymentService{
		orders:  orders,
		store:   store,
		locker:  locker,
		lockTTL: lockTTL,
		clock:   orders.clock,
		logger:  util.GetLogger(),
	}
}

// ConfirmPayment marks the order carrying paymentReferenceID as paid
func (ps *PaymentService) ConfirmPayment(ctx context.Context, source, paymentReferenceID string) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmPayment")
	defer func() { util.EndSpan(span, err) }()

	defer func() {
		util.PaymentWebhooksTotal.WithLabelValues(source, paymentResult(err)).Inc()
	}()

	if paymentReferenceID == "" {
		return nil, models.NewInvalidOperation("payment reference is required")
	}

	ps.logger.Info("Payment confirmation received",
		zap.String("source", source),
		zap.String("payment_reference_id", paymentReferenceID))

	if ps.locker != nil {
		key := "payment:" + paymentReferenceID
		token, acquired, lockErr := ps.locker.AcquireLock(ctx, key, ps.lockTTL)
		switch {
		case lockErr != nil:
			ps.logger.Warn("Payment lock unavailable, relying on database guard",
				zap.String("payment_reference_id", paymentReferenceID), zap.Error(lockErr))
		case !acquired:
			return nil, ErrPaymentInProgress
		default:
			defer func() {
				if err := ps.locker.ReleaseLock(context.Background(), key, token); err != nil {
					ps.logger.Warn("Failed to release payment lock",
						zap.String("payment_reference_id", paymentReferenceID), zap.Error(err))
				}
			}()
		}
	}

	return ps.orders.MarkOrderAsPaid(ctx, paymentReferenceID)
}

// HandlePaymentSucceeded processes a PAYMENT_SUCCEEDED event at most once.
// Business failures are recorded and swallowed so the event is not retried;
// infrastructure failures are returned and the consumer retries the message.
func (ps *PaymentService) HandlePaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error {
	processed, err := ps.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if processed {
		ps.logger.Info("Event already processed, skipping", zap.String("event_id", event.EventID))
		return nil
	}

	_, err = ps.ConfirmPayment(ctx, SourceKafka, event.PaymentReferenceID)
	switch {
	case err == nil:
	case errors.Is(err, ErrPaymentInProgress):
		return err
	case models.IsNotFound(err), models.IsInsufficientStock(err), models.IsInvalidOperation(err):
		ps.logger.Error("Payment event rejected",
			zap.String("event_id", event.EventID),
			zap.String("payment_reference_id", event.PaymentReferenceID),
			zap.Error(err))
	default:
		return fmt.Errorf("failed to confirm payment: %w", err)
	}

	return ps.store.MarkEventProcessed(ctx, event.EventID, event.EventType, ps.clock.Now())
}

// paymentResult labels the outcome of a confirmation
func paymentResult(err error) string {
	switch {
	case err == nil:
		return "paid"
	case errors.Is(err, ErrPaymentInProgress):
		return "locked"
	case models.IsNotFound(err):
		return "unknown_reference"
	case models.IsInsufficientStock(err):
		return "insufficient_stock"
	default:
		return "error"
	}
}
