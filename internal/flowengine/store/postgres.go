package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
)

// PostgresStore is a DurableStore backed by a single JSONB-snapshot table,
// guarded by a CAS condition in the UPDATE/INSERT statement itself rather
// than an in-process mutex, so multiple engine processes can share one
// database safely (spec §5: "the CAS version is the inter-process guard").
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and returns a store.
// Callers must call EnsureSchema once before first use.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open *sql.DB, so callers can share
// sqlmock-backed test connections.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS flow_snapshots (
	flow_id         TEXT PRIMARY KEY,
	flow_type       TEXT NOT NULL,
	correlation_id  TEXT NOT NULL DEFAULT '',
	user_id         TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	non_terminal    BOOLEAN NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	version         BIGINT NOT NULL,
	snapshot        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flow_snapshots_status ON flow_snapshots (status, non_terminal);
CREATE INDEX IF NOT EXISTS idx_flow_snapshots_correlation ON flow_snapshots (correlation_id);
CREATE INDEX IF NOT EXISTS idx_flow_snapshots_user ON flow_snapshots (user_id);
CREATE INDEX IF NOT EXISTS idx_flow_snapshots_created_at ON flow_snapshots (created_at);
`

// EnsureSchema creates the backing table and indexes if absent.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schemaSQL)
	return err
}

func (p *PostgresStore) Save(ctx context.Context, snap *flow.Snapshot, expectedVersion int64) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if expectedVersion == 0 {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO flow_snapshots
				(flow_id, flow_type, correlation_id, user_id, status, non_terminal, created_at, version, snapshot)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (flow_id) DO NOTHING`,
			snap.FlowID, snap.FlowType, snap.CorrelationID, snap.UserID,
			string(snap.Status), !snap.Status.Terminal(), snap.CreatedAt, snap.Version, payload)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		affected, err := p.rowExists(ctx, snap.FlowID, snap.Version)
		if err != nil {
			return err
		}
		if !affected {
			return ErrVersionConflict
		}
		return nil
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE flow_snapshots
		SET flow_type = $1, correlation_id = $2, user_id = $3, status = $4,
		    non_terminal = $5, version = $6, snapshot = $7
		WHERE flow_id = $8 AND version = $9`,
		snap.FlowType, snap.CorrelationID, snap.UserID, string(snap.Status),
		!snap.Status.Terminal(), snap.Version, payload, snap.FlowID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// rowExists checks whether a freshly-inserted row settled at exactly the
// expected version, distinguishing "we created it" from "ON CONFLICT DO
// NOTHING skipped a concurrent create".
func (p *PostgresStore) rowExists(ctx context.Context, flowID string, version int64) (bool, error) {
	var v int64
	err := p.db.QueryRowContext(ctx, `SELECT version FROM flow_snapshots WHERE flow_id = $1`, flowID).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == version, nil
}

func (p *PostgresStore) Load(ctx context.Context, flowID string) (*flow.Snapshot, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT snapshot FROM flow_snapshots WHERE flow_id = $1`, flowID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap flow.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (p *PostgresStore) Delete(ctx context.Context, flowID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM flow_snapshots WHERE flow_id = $1`, flowID)
	return err
}

func (p *PostgresStore) List(ctx context.Context, filter Filter, page Page) ([]*flow.Snapshot, error) {
	query := `SELECT snapshot FROM flow_snapshots WHERE 1=1`
	var args []interface{}
	n := 0
	arg := func(v interface{}) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if filter.FlowType != "" {
		query += " AND flow_type = " + arg(filter.FlowType)
	}
	if filter.Status != "" {
		query += " AND status = " + arg(string(filter.Status))
	}
	if filter.NonTerminalOnly {
		query += " AND non_terminal = true"
	}
	if filter.CorrelationID != "" {
		query += " AND correlation_id = " + arg(filter.CorrelationID)
	}
	if filter.UserID != "" {
		query += " AND user_id = " + arg(filter.UserID)
	}
	if filter.CreatedAfter != nil {
		query += " AND created_at > " + arg(*filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query += " AND created_at < " + arg(*filter.CreatedBefore)
	}
	query += " ORDER BY created_at ASC"
	if page.Limit <= 0 {
		page.Limit = 25
	}
	query += " LIMIT " + arg(page.Limit)
	if page.Offset > 0 {
		query += " OFFSET " + arg(page.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*flow.Snapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var snap flow.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListNonTerminal(ctx context.Context) ([]*flow.Snapshot, error) {
	return p.List(ctx, Filter{NonTerminalOnly: true}, Page{Limit: 1 << 30})
}

func (p *PostgresStore) Close(ctx context.Context) error {
	return p.db.Close()
}
