// Copyright 2025 James Ross
// Package eventhook publishes lineage events onto NATS so external
// systems (search indexers, notification services) can react to
// ingestion milestones without polling the catalog. It is optional:
// callers that don't configure a NATS URL get a no-op Publisher.
package eventhook

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event is a lineage milestone worth fanning out. Stage names the
// milestone; the callers in this module publish job_enqueued,
// job_reenqueued, schema_approved, schema_rejected and cluster_merged,
// which are event names of their own, not catalog.Lineage.Stage values.
type Event struct {
	Stage     string                 `json:"stage"`
	RequestID string                 `json:"request_id,omitempty"`
	AssetID   string                 `json:"asset_id,omitempty"`
	SchemaID  string                 `json:"schema_id,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher sends lineage events to a NATS subject. The zero value is
// not usable; construct with New or NewNoop.
type Publisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	log     *zap.Logger

	mu      sync.RWMutex
	healthy bool
}

// New connects to natsURL and establishes a JetStream context. subject
// is the prefix of every publish target: Publish appends ".<stage>" to it.
func New(natsURL, subject string, log *zap.Logger) (*Publisher, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &Publisher{conn: conn, js: js, subject: subject, log: log, healthy: true}, nil
}

// NewNoop returns a Publisher that drops every event. Used when no
// NATS URL is configured so callers don't need a nil check.
func NewNoop() *Publisher {
	return &Publisher{}
}

// Publish fans an event out to "<subject>.<stage>". A publish failure
// is logged and swallowed: lineage fan-out is best-effort and must
// never block or fail the ingestion/admin operation that triggered it.
func (p *Publisher) Publish(event Event) {
	if p == nil || p.js == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error("eventhook: marshal event failed", zap.Error(err), zap.String("stage", event.Stage))
		return
	}

	subject := fmt.Sprintf("%s.%s", p.subject, event.Stage)
	msg := &nats.Msg{Subject: subject, Data: payload, Header: make(nats.Header)}
	msg.Header.Set("Stage", event.Stage)
	if event.RequestID != "" {
		msg.Header.Set("Request-ID", event.RequestID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.js.PublishMsg(msg); err != nil {
		p.healthy = false
		p.log.Warn("eventhook: publish failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	p.healthy = true
}

// Healthy reports whether the last publish attempt succeeded. A noop
// publisher is always healthy.
func (p *Publisher) Healthy() bool {
	if p == nil || p.conn == nil {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy && p.conn.IsConnected()
}

// Close shuts down the underlying NATS connection, if any.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	p.conn.Close()
	return nil
}
