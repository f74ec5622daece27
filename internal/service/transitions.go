package service

import (
	"fmt"

	"jewelry-store/internal/models"
)

// Transition policy names accepted by NewTransitionPolicy
const (
	PolicyPermissive = "permissive"
	PolicyStrict     = "strict"
)

// TransitionPolicy decides which status changes are legal and which of them
// hand previously deducted stock back to the ledger.
type TransitionPolicy interface {
	Allow(from, to models.OrderStatus) error
	ReturnsStock(from, to models.OrderStatus) bool
}

// NewTransitionPolicy returns the policy registered under name
func NewTransitionPolicy(name string) (TransitionPolicy, error) {
	switch name {
	case "", PolicyPermissive:
		return PermissivePolicy{}, nil
	case PolicyStrict:
		return StrictPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown transition policy: %q", name)
	}
}

// PermissivePolicy lets any status follow any other. Cancelling returns
// stock only when it had been deducted (PAID or PROCESSING). Refunding
// returns it unless the order is already cancelled or refunded, since
// stock was either handed back then or never taken.
type PermissivePolicy struct{}

// Allow accepts every transition
func (PermissivePolicy) Allow(from, to models.OrderStatus) error {
	return nil
}

// ReturnsStock reports whether moving from -> to reverses stock
func (PermissivePolicy) ReturnsStock(from, to models.OrderStatus) bool {
	switch to {
	case models.OrderStatusCancelled:
		return from == models.OrderStatusPaid || from == models.OrderStatusProcessing
	case models.OrderStatusRefunded:
		return from != models.OrderStatusRefunded && from != models.OrderStatusCancelled
	}
	return false
}

// strictTransitions is the happy path plus the compensating exits. PAID is
// only reachable through payment reconciliation, which deducts stock.
var strictTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusCancelled},
	models.OrderStatusPaid:       {models.OrderStatusProcessing, models.OrderStatusShipped, models.OrderStatusCancelled, models.OrderStatusRefunded},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled, models.OrderStatusRefunded},
	models.OrderStatusShipped:    {models.OrderStatusDelivered, models.OrderStatusRefunded},
	models.OrderStatusDelivered:  {models.OrderStatusRefunded},
}

// StrictPolicy enforces strictTransitions and only reverses stock that was
// actually deducted at payment time.
type StrictPolicy struct{}

// Allow rejects transitions missing from the table
func (StrictPolicy) Allow(from, to models.OrderStatus) error {
	for _, next := range strictTransitions[from] {
		if next == to {
			return nil
		}
	}
	return models.NewInvalidOperation("cannot move order from %s to %s", from, to)
}

// ReturnsStock reports whether moving from -> to reverses stock
func (StrictPolicy) ReturnsStock(from, to models.OrderStatus) bool {
	if to != models.OrderStatusCancelled && to != models.OrderStatusRefunded {
		return false
	}
	switch from {
	case models.OrderStatusPaid, models.OrderStatusProcessing:
		return true
	case models.OrderStatusShipped, models.OrderStatusDelivered:
		return to == models.OrderStatusRefunded
	}
	return false
}
