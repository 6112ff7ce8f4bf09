package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageMarshalUnmarshal(t *testing.T) {
	m := Message{JobID: "id-1", JobType: "json", JobData: []byte(`{"a":1}`), Priority: 5, CreatedAt: time.Now().UTC()}
	s, err := m.Marshal()
	require.NoError(t, err)

	m2, err := UnmarshalMessage(s)
	require.NoError(t, err)
	assert.Equal(t, m.JobID, m2.JobID)
	assert.Equal(t, m.JobType, m2.JobType)
	assert.Equal(t, m.JobData, m2.JobData)
	assert.Equal(t, m.Priority, m2.Priority)
}
