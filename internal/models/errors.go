package models

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a referenced order or product does not exist
type NotFoundError struct {
	Resource string
	Field    string
	Value    interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found with %s: %v", e.Resource, e.Field, e.Value)
}

// NewNotFound builds a NotFoundError keyed by id
func NewNotFound(resource string, id interface{}) error {
	return &NotFoundError{Resource: resource, Field: "id", Value: id}
}

// InsufficientStockError is returned when a product cannot cover a quantity
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available=%d, requested=%d",
		e.ProductName, e.Available, e.Requested)
}

// InvalidOperationError reports a business rule violation
type InvalidOperationError struct {
	Message string
}

func (e *InvalidOperationError) Error() string {
	return e.Message
}

// NewInvalidOperation builds an InvalidOperationError
func NewInvalidOperation(format string, args ...interface{}) error {
	return &InvalidOperationError{Message: fmt.Sprintf(format, args...)}
}

// DuplicateResourceError reports a uniqueness violation
type DuplicateResourceError struct {
	Resource string
	Field    string
	Value    interface{}
}

func (e *DuplicateResourceError) Error() string {
	return fmt.Sprintf("%s already exists with %s: %v", e.Resource, e.Field, e.Value)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsInsufficientStock reports whether err is an InsufficientStockError
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// IsInvalidOperation reports whether err is an InvalidOperationError
func IsInvalidOperation(err error) bool {
	var target *InvalidOperationError
	return errors.As(err, &target)
}

// IsDuplicate reports whether err is a DuplicateResourceError
func IsDuplicate(err error) bool {
	var target *DuplicateResourceError
	return errors.As(err, &target)
}
