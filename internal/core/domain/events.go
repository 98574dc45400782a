package domain

import "time"

type OrderEventType string

const (
	EventOrderCreated       OrderEventType = "OrderCreated"
	EventOrderUpdated       OrderEventType = "OrderUpdated"
	EventOrderStatusChanged OrderEventType = "OrderStatusChanged"
)

type OrderEventItem struct {
	BookID   string `json:"book_id"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

// OrderEvent is emitted after an order change has been committed.
type OrderEvent struct {
	Type       OrderEventType   `json:"type"`
	OrderID    string           `json:"order_id"`
	ClientID   string           `json:"client_id"`
	Status     OrderStatus      `json:"status"`
	Total      string           `json:"total"`
	Items      []OrderEventItem `json:"items"`
	OccurredAt time.Time        `json:"occurred_at"`

	// Trace holds the propagation headers of the request that caused the
	// change. It travels as message headers, not in the payload.
	Trace map[string]string `json:"-"`
}

func NewOrderEvent(t OrderEventType, o Order, at time.Time) OrderEvent {
	items := make([]OrderEventItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderEventItem{
			BookID:   item.BookID,
			Quantity: item.Quantity,
			Price:    item.Price.StringFixed(2),
		})
	}
	return OrderEvent{
		Type:       t,
		OrderID:    o.ID,
		ClientID:   o.ClientID,
		Status:     o.Status,
		Total:      o.Total().StringFixed(2),
		Items:      items,
		OccurredAt: at,
	}
}
