package event_test

import (
	"testing"

	"github.com/shopmesh/saga/pkg/event"
	"github.com/stretchr/testify/require"
)

type orderPlaced struct {
	OrderID  string `json:"order_id"`
	Quantity int32  `json:"quantity"`
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env, err := event.New("order.placed", "order-1", &orderPlaced{OrderID: "order-1", Quantity: 3})
	require.NoError(t, err)
	require.NotEmpty(t, env.EventID)
	require.Equal(t, event.SchemaVersion, env.SchemaVersion)
	require.Equal(t, "order-1", env.CorrelationID)
	require.False(t, env.PublishedAt.IsZero())

	raw, err := event.Marshal(env)
	require.NoError(t, err)

	decoded, err := event.Unmarshal(raw)
	require.NoError(t, err)
	require.Equal(t, env.EventID, decoded.EventID)
	require.Equal(t, env.EventType, decoded.EventType)

	var payload orderPlaced
	require.NoError(t, decoded.DecodePayload(&payload))
	require.Equal(t, "order-1", payload.OrderID)
	require.Equal(t, int32(3), payload.Quantity)
}

func TestUnmarshal_RejectsUnknownSchemaVersion(t *testing.T) {
	raw := []byte(`{"event_id":"x","event_type":"order.placed","schema_version":2,"correlation_id":"order-1","payload":{}}`)

	_, err := event.Unmarshal(raw)
	require.ErrorIs(t, err, event.ErrSchemaMismatch)
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	_, err := event.Unmarshal([]byte("not json"))
	require.Error(t, err)
	require.NotErrorIs(t, err, event.ErrSchemaMismatch)
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := event.NewID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
