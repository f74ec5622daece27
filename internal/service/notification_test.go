package service

import (
	"context"
	"errors"
	"testing"

	"jewelry-store/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEmail struct {
	to, subject, body string
}

type recordingSender struct {
	sent []sentEmail
	err  error
}

func (r *recordingSender) Send(ctx context.Context, to, subject, body string) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentEmail{to: to, subject: subject, body: body})
	return nil
}

func TestOrderPaidSendsConfirmation(t *testing.T) {
	sender := &recordingSender{}
	notifier := NewNotificationService(sender)

	err := notifier.HandleOrderPaid(context.Background(), &models.OrderPaidEvent{
		OrderID:       9,
		CustomerEmail: "ada@example.com",
		CustomerName:  "Ada",
		TotalAmount:   decimal.RequireFromString("200"),
		Items: []models.OrderItemData{
			{ProductName: "Gold Ring", Quantity: 2, UnitPrice: decimal.RequireFromString("100")},
		},
	})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ada@example.com", sender.sent[0].to)
	assert.Equal(t, "Order #9 confirmed", sender.sent[0].subject)
	assert.Contains(t, sender.sent[0].body, "2 x Gold Ring @ 100.00")
	assert.Contains(t, sender.sent[0].body, "Total: 200.00")
}

func TestStatusChangeNotices(t *testing.T) {
	sender := &recordingSender{}
	notifier := NewNotificationService(sender)
	ctx := context.Background()

	for _, to := range []models.OrderStatus{
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
		models.OrderStatusProcessing,
		models.OrderStatusCancelled,
	} {
		require.NoError(t, notifier.HandleOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
			OrderID:        4,
			CustomerEmail:  "ada@example.com",
			To:             to,
			TrackingNumber: "TRK123",
		}))
	}

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "Order #4 shipped", sender.sent[0].subject)
	assert.Contains(t, sender.sent[0].body, "TRK123")
	assert.Equal(t, "Order #4 delivered", sender.sent[1].subject)
}

func TestNotificationErrorsSurface(t *testing.T) {
	notifier := NewNotificationService(&recordingSender{err: errors.New("smtp timeout")})

	err := notifier.HandleOrderStatusChanged(context.Background(), &models.OrderStatusChangedEvent{
		OrderID: 1, CustomerEmail: "ada@example.com", To: models.OrderStatusShipped,
	})
	assert.ErrorContains(t, err, "smtp timeout")

	err = notifier.HandleOrderStatusChanged(context.Background(), &models.OrderStatusChangedEvent{
		OrderID: 1, To: models.OrderStatusShipped,
	})
	assert.NoError(t, err)
}

func TestLocalPublisherNotifiesInProcess(t *testing.T) {
	sender := &recordingSender{}
	env := newTestEnv(t, nil)
	env.orders.events = NewLocalPublisher(NewNotificationService(sender))
	ring := env.product(t, "Ring", "100.00", 5)

	order := env.paidOrder(t, "pi_local", OrderItemRequest{ProductID: ring.ID, Quantity: 1})
	_, err := env.orders.UpdateTrackingNumber(context.Background(), order.ID, "TRK-L")
	require.NoError(t, err)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "ada@example.com", sender.sent[0].to)
	assert.Contains(t, sender.sent[1].subject, "shipped")
}
