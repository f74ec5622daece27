package service

import (
	"testing"

	"jewelry-store/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransitionPolicy(t *testing.T) {
	p, err := NewTransitionPolicy("")
	require.NoError(t, err)
	assert.IsType(t, PermissivePolicy{}, p)

	p, err = NewTransitionPolicy(PolicyStrict)
	require.NoError(t, err)
	assert.IsType(t, StrictPolicy{}, p)

	_, err = NewTransitionPolicy("chaotic")
	assert.Error(t, err)
}

func TestPermissivePolicy(t *testing.T) {
	p := PermissivePolicy{}

	for _, from := range models.OrderStatuses {
		for _, to := range models.OrderStatuses {
			assert.NoError(t, p.Allow(from, to))
		}
	}

	tests := []struct {
		from, to models.OrderStatus
		returns  bool
	}{
		{models.OrderStatusPaid, models.OrderStatusCancelled, true},
		{models.OrderStatusProcessing, models.OrderStatusCancelled, true},
		{models.OrderStatusPending, models.OrderStatusCancelled, false},
		{models.OrderStatusShipped, models.OrderStatusCancelled, false},
		{models.OrderStatusPending, models.OrderStatusRefunded, true},
		{models.OrderStatusDelivered, models.OrderStatusRefunded, true},
		{models.OrderStatusRefunded, models.OrderStatusRefunded, false},
		{models.OrderStatusCancelled, models.OrderStatusRefunded, false},
		{models.OrderStatusPaid, models.OrderStatusShipped, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.returns, p.ReturnsStock(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStrictPolicy(t *testing.T) {
	p := StrictPolicy{}

	assert.NoError(t, p.Allow(models.OrderStatusPaid, models.OrderStatusProcessing))
	assert.NoError(t, p.Allow(models.OrderStatusShipped, models.OrderStatusDelivered))
	assert.NoError(t, p.Allow(models.OrderStatusDelivered, models.OrderStatusRefunded))

	assert.Error(t, p.Allow(models.OrderStatusPending, models.OrderStatusPaid))
	assert.Error(t, p.Allow(models.OrderStatusDelivered, models.OrderStatusPending))
	assert.Error(t, p.Allow(models.OrderStatusCancelled, models.OrderStatusRefunded))
	assert.Error(t, p.Allow(models.OrderStatusRefunded, models.OrderStatusRefunded))

	assert.True(t, p.ReturnsStock(models.OrderStatusPaid, models.OrderStatusCancelled))
	assert.True(t, p.ReturnsStock(models.OrderStatusShipped, models.OrderStatusRefunded))
	assert.False(t, p.ReturnsStock(models.OrderStatusPending, models.OrderStatusCancelled))
	assert.False(t, p.ReturnsStock(models.OrderStatusPending, models.OrderStatusRefunded))
}
