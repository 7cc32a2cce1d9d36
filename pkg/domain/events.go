// Package domain holds the event payload types shared between the order and
// inventory services. Both sides depend on these, never on each other.
package domain

import "time"

// Event types carried in the envelope's event_type field.
const (
	EventOrderPlaced          = "order.placed"
	EventStockDeducted        = "stock.deducted"
	EventStockDeductionFailed = "stock.deduction.failed"
)

// Per-item reservation results.
const (
	ResultDeducted          = "deducted"
	ResultInsufficientStock = "insufficient_stock"
	ResultError             = "error"
)

// Reason codes recorded on failed orders.
const (
	ReasonInsufficientStock = "insufficient_stock"
	ReasonError             = "error"
	ReasonTimeout           = "timeout"
)

type OrderItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// OrderPlacedEvent is the intent the order service publishes after an order
// is persisted as pending.
type OrderPlacedEvent struct {
	OrderID    string      `json:"order_id"`
	CustomerID int64       `json:"customer_id"`
	Items      []OrderItem `json:"items"`
	PlacedAt   time.Time   `json:"placed_at"`
}

// ItemResult reports what happened to a single line item during reservation.
type ItemResult struct {
	ProductID         int64  `json:"product_id"`
	QuantityRequested int32  `json:"quantity_requested"`
	Result            string `json:"result"`
	Reason            string `json:"reason,omitempty"`
}

type StockDeductedEvent struct {
	OrderID    string       `json:"order_id"`
	Items      []ItemResult `json:"items"`
	DeductedAt time.Time    `json:"deducted_at"`
}

type StockDeductionFailedEvent struct {
	OrderID  string       `json:"order_id"`
	Reason   string       `json:"reason"`
	Items    []ItemResult `json:"items"`
	FailedAt time.Time    `json:"failed_at"`
}
