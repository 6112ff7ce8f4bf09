package eventhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopPublisherIsSafe(t *testing.T) {
	p := NewNoop()
	require.True(t, p.Healthy())
	p.Publish(Event{Stage: "job_completed", RequestID: "req-1"})
	require.NoError(t, p.Close())
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	require.True(t, p.Healthy())
	p.Publish(Event{Stage: "job_completed"})
	require.NoError(t, p.Close())
}

func TestEventMarshalsExpectedShape(t *testing.T) {
	e := Event{Stage: "schema_approved", SchemaID: "s-1", Detail: map[string]interface{}{"reviewer": "alice"}}
	b, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, "schema_approved", decoded["stage"])
	require.Equal(t, "s-1", decoded["schema_id"])
	require.NotContains(t, decoded, "request_id")
}
