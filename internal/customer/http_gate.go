package customer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopmesh/saga/pkg/mylogger"
	"github.com/shopmesh/saga/pkg/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HTTPGate validates customers against the customer service's REST API. The
// circuit breaker keeps a flapping dependency from dragging order intake
// down; an open breaker reads as unavailable, never as invalid.
type HTTPGate struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewHTTPGate(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPGate {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "customer-gate",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPGate{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

func (g *HTTPGate) Validate(ctx context.Context, customerID int64) (Result, error) {
	result, err := utils.ExecuteWithBreaker(g.breaker, func() (Result, error) {
		return g.check(ctx, customerID)
	})
	if err != nil {
		mylogger.Warn(
			ctx,
			g.logger,
			"Customer gate unreachable",
			zap.Int64("customer_id", customerID),
			zap.Error(err),
		)

		return ResultUnavailable, nil
	}

	return result, nil
}

func (g *HTTPGate) check(ctx context.Context, customerID int64) (Result, error) {
	url := fmt.Sprintf("%s/customers/%d", g.baseURL, customerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ResultUnavailable, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return ResultUnavailable, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return ResultValid, nil
	case resp.StatusCode == http.StatusNotFound:
		// A missing customer is a business answer, not a gate failure;
		// it must not trip the breaker.
		return ResultInvalid, nil
	default:
		return ResultUnavailable, fmt.Errorf("customer gate returned %d", resp.StatusCode)
	}
}
