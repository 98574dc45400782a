package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusApproved  OrderStatus = "APPROVED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// OrderStatuses lists every known status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusNew,
	OrderStatusApproved,
	OrderStatusCancelled,
	OrderStatusCompleted,
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusApproved, OrderStatusCancelled, OrderStatusCompleted:
		return true
	}
	return false
}

// Terminal statuses allow no further transition.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusCompleted
}

type Order struct {
	ID        string
	ClientID  string
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	Items     []SoldItem
}

// SoldItem is an order line. Price is captured when the order is placed and
// never read back from the ledger.
type SoldItem struct {
	ID       string
	OrderID  string
	BookID   string
	Quantity int
	Price    decimal.Decimal
}

func (i SoldItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Clone returns a copy that shares no line slice with o.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]SoldItem(nil), o.Items...)
	return c
}

// Validate checks the shape of caller supplied order content.
func (o Order) Validate() error {
	if o.ClientID == "" {
		return ErrInvalidOrder
	}
	if len(o.Items) == 0 {
		return ErrInvalidOrder
	}
	for _, item := range o.Items {
		if item.BookID == "" || item.Quantity < 1 {
			return ErrInvalidOrder
		}
	}
	return nil
}

// ValidateStatusChange enforces the status rules: nothing leaves a terminal
// status and an approved order cannot go back to NEW. Every other change is
// accepted.
func ValidateStatusChange(orderID string, current, next OrderStatus) error {
	if !next.Valid() || current.Terminal() {
		return &InvalidTransitionError{OrderID: orderID, Current: current, Requested: next}
	}
	if current == OrderStatusApproved && next == OrderStatusNew {
		return &InvalidTransitionError{OrderID: orderID, Current: current, Requested: next}
	}
	return nil
}

// ValidateContentEdit allows line or client changes only while the order is NEW.
func ValidateContentEdit(orderID string, current OrderStatus) error {
	if current != OrderStatusNew {
		return &CannotModifyOrderError{OrderID: orderID, Current: current}
	}
	return nil
}

// OrderFilter selects orders. Zero values disable a criterion.
type OrderFilter struct {
	ID          string
	ClientID    string
	Status      OrderStatus
	CreatedFrom time.Time
	CreatedTo   time.Time
	Page        int
	Limit       int
}

func (f OrderFilter) Matches(o Order) bool {
	if f.ID != "" && o.ID != f.ID {
		return false
	}
	if f.ClientID != "" && o.ClientID != f.ClientID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if !f.CreatedFrom.IsZero() && o.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && o.CreatedAt.After(f.CreatedTo) {
		return false
	}
	return true
}
