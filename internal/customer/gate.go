// Package customer defines the synchronous validation gate the saga calls
// before any order state exists. Unavailable is deliberately distinct from
// invalid: the first is retryable, the second is a permanent rejection.
package customer

import (
	"context"
	"errors"
)

type Result string

const (
	ResultValid       Result = "valid"
	ResultInvalid     Result = "invalid"
	ResultUnavailable Result = "unavailable"
)

// ErrInvalidCustomer is surfaced to the caller at order creation; the order
// is never persisted.
var ErrInvalidCustomer = errors.New("customer: invalid customer")

// ErrGateUnavailable means the gate could not be reached; the caller may
// retry order creation.
var ErrGateUnavailable = errors.New("customer: validation gate unavailable")

type Gate interface {
	Validate(ctx context.Context, customerID int64) (Result, error)
}
