package customer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopmesh/saga/internal/customer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGateServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *customer.HTTPGate) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv, customer.NewHTTPGate(srv.URL, time.Second, zap.NewNop())
}

func TestHTTPGate_Valid(t *testing.T) {
	_, gate := newGateServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/customers/42", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	result, err := gate.Validate(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, customer.ResultValid, result)
}

func TestHTTPGate_Invalid(t *testing.T) {
	_, gate := newGateServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	result, err := gate.Validate(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, customer.ResultInvalid, result)
}

func TestHTTPGate_ServerErrorReadsAsUnavailable(t *testing.T) {
	_, gate := newGateServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	result, err := gate.Validate(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, customer.ResultUnavailable, result)
}

func TestHTTPGate_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int64
	_, gate := newGateServer(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 10; i++ {
		result, err := gate.Validate(context.Background(), 42)
		require.NoError(t, err)
		require.Equal(t, customer.ResultUnavailable, result)
	}

	// After the breaker opens, calls short-circuit without reaching the server.
	require.EqualValues(t, 5, hits.Load())
}
