// Package jobpayload defines the JSON-encoded body carried in Job.JobData
// and the matching queue.Message.JobData, shared between the ingestion
// orchestrator (C8, which writes it) and the processors (C9, which read
// it) without either importing the other.
package jobpayload

import "encoding/json"

// Payload is the job body the orchestrator assembles and the worker
// hands to a Processor.
type Payload struct {
	AssetIDs    []string        `json:"asset_ids"`
	JSONPayload json.RawMessage `json:"json_payload,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	Comments    string          `json:"comments,omitempty"`
}

func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func Unmarshal(data []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(data, &p)
	return p, err
}
