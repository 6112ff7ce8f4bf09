package catalog

import (
	"context"
	"encoding/json"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseSink dual-writes lineage records into an analytical ClickHouse
// table alongside the primary catalog store, so lineage can be queried at
// scale without putting analytical load on Postgres/SQLite. It is entirely
// optional: NewClickHouseSink returns a disabled sink when dsn is empty,
// and every write on a disabled sink is a no-op.
type ClickHouseSink struct {
	conn    clickhouse.Conn
	enabled bool
}

// NewClickHouseSink opens a ClickHouse connection and ensures the lineage
// table exists. Passing an empty dsn yields a disabled sink rather than an
// error, since the sink is opt-in infrastructure.
func NewClickHouseSink(dsn string) (*ClickHouseSink, error) {
	if dsn == "" {
		return &ClickHouseSink{}, nil
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := conn.Exec(ctx, lineageTableDDL); err != nil {
		return nil, err
	}

	return &ClickHouseSink{conn: conn, enabled: true}, nil
}

const lineageTableDDL = `
CREATE TABLE IF NOT EXISTS lineage_events (
	id String,
	request_id String,
	asset_id String,
	schema_id String,
	stage String,
	detail String,
	success UInt8,
	error_message String,
	created_at DateTime
) ENGINE = MergeTree()
ORDER BY (request_id, created_at)`

// Write appends one lineage record to ClickHouse. Failures are swallowed:
// the analytical sink must never be able to fail an ingestion request that
// the primary catalog store already accepted.
func (s *ClickHouseSink) Write(ctx context.Context, l *Lineage) {
	if s == nil || !s.enabled {
		return
	}
	detail, _ := json.Marshal(l.Detail)
	var success uint8
	if l.Success {
		success = 1
	}
	_ = s.conn.Exec(ctx, `INSERT INTO lineage_events
		(id, request_id, asset_id, schema_id, stage, detail, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.RequestID, derefStr(l.AssetID), derefStr(l.SchemaID), l.Stage,
		string(detail), success, l.ErrorMessage, l.CreatedAt)
}

func (s *ClickHouseSink) Close() error {
	if s == nil || !s.enabled {
		return nil
	}
	return s.conn.Close()
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
