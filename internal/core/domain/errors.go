package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCannotModifyOrder = errors.New("order cannot be modified")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidPrice      = errors.New("invalid price")
)

// NotFoundError reports a missing book, order, client or ledger entry.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InsufficientStockError is returned when a withdrawal would leave less than
// StockReserve units on hand. Available is the quantity observed at rejection.
type InsufficientStockError struct {
	BookID    string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("books with isbn %s aren't enough in warehouse: available %d, requested %d",
		e.BookID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type InvalidTransitionError struct {
	OrderID   string
	Current   OrderStatus
	Requested OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("can't change status of order %s from %s to %s", e.OrderID, e.Current, e.Requested)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type CannotModifyOrderError struct {
	OrderID string
	Current OrderStatus
}

func (e *CannotModifyOrderError) Error() string {
	return fmt.Sprintf("can't update order %s because it is %s", e.OrderID, e.Current)
}

func (e *CannotModifyOrderError) Is(target error) bool { return target == ErrCannotModifyOrder }
