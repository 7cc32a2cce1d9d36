package domain

import (
	"time"

	shared "github.com/shopmesh/saga/pkg/domain"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is immutable. Pending is the only
// state an order can leave.
func (s Status) Terminal() bool {
	return s != StatusPending
}

type Order struct {
	ID          string             `db:"id"`
	CustomerID  int64              `db:"customer_id"`
	Status      Status             `db:"status"`
	Reason      string             `db:"reason"`
	Items       []shared.OrderItem `db:"items"`
	TotalAmount int64              `db:"total_amount"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (o *Order) CalculateTotal() {
	var total int64
	for _, item := range o.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	o.TotalAmount = total
}
