// Package queue implements C6: the job queue substrate shared by an
// in-process backend and a distributed Redis-backed one behind a single
// Backend contract.
package queue

import (
	"encoding/json"
	"time"
)

// Message is what flows through a Backend: enough to reconstruct and
// retry a catalog Job without the backend needing to understand its
// payload shape.
type Message struct {
	JobID       string    `json:"job_id"`
	JobType     string    `json:"job_type"`
	JobData     []byte    `json:"job_data"`
	Priority    int       `json:"priority"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	CreatedAt   time.Time `json:"created_at"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
}

func (m Message) Marshal() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalMessage(s string) (Message, error) {
	var m Message
	err := json.Unmarshal([]byte(s), &m)
	return m, err
}
