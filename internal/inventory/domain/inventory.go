package domain

import "time"

// Record is the per-product stock state owned exclusively by the inventory
// service. AvailableQuantity never goes negative; every deduction is checked
// under per-product mutual exclusion before it commits.
type Record struct {
	ProductID         int64     `db:"product_id"`
	AvailableQuantity int64     `db:"available_quantity"`
	ReservedQuantity  int64     `db:"reserved_quantity"`
	UpdatedAt         time.Time `db:"updated_at"`
}
