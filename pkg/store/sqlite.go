// Package store persists governance events and entity snapshots. Events
// are append-only and idempotent on event id; request and campaign
// snapshots are upserts keyed by their entity id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements contracts.Persistence on an embedded SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates the
// schema. Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing connection and migrates the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS governance_events (
		event_id   TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		entity_id  TEXT NOT NULL,
		actor      TEXT NOT NULL,
		timestamp  DATETIME NOT NULL,
		delta      JSON
	);
	CREATE INDEX IF NOT EXISTS idx_events_entity ON governance_events(entity_id, timestamp);

	CREATE TABLE IF NOT EXISTS access_requests (
		request_id TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		snapshot   JSON NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		campaign_id TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		snapshot    JSON NOT NULL,
		updated_at  DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// RecordEvent appends one event. Replays of the same event id are
// silently ignored.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev *contracts.GovernanceEvent) error {
	delta, err := json.Marshal(ev.Delta)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO governance_events (event_id, type, entity_id, actor, timestamp, delta)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.EventID, string(ev.Type), ev.EntityID, ev.Actor, ev.Timestamp, delta)
	if err != nil {
		return fmt.Errorf("record event %s: %w", ev.EventID, err)
	}
	return nil
}

// SaveRequest upserts the request snapshot.
func (s *SQLiteStore) SaveRequest(ctx context.Context, req *contracts.AccessRequest) error {
	snapshot, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO access_requests (request_id, status, snapshot, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status = excluded.status,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		req.RequestID, string(req.Status), snapshot, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save request %s: %w", req.RequestID, err)
	}
	return nil
}

// SaveCampaign upserts the campaign snapshot.
func (s *SQLiteStore) SaveCampaign(ctx context.Context, c *contracts.CertificationCampaign) error {
	snapshot, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal campaign: %w", err)
	}
	updated := c.CreatedAt
	if c.CompletedAt != nil {
		updated = *c.CompletedAt
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaigns (campaign_id, status, snapshot, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(campaign_id) DO UPDATE SET
			status = excluded.status,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		c.CampaignID, string(c.Status), snapshot, updated)
	if err != nil {
		return fmt.Errorf("save campaign %s: %w", c.CampaignID, err)
	}
	return nil
}

// EventsFor returns the event history of one entity in timestamp order.
func (s *SQLiteStore) EventsFor(ctx context.Context, entityID string) ([]*contracts.GovernanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, type, entity_id, actor, timestamp, delta
		FROM governance_events
		WHERE entity_id = ?
		ORDER BY timestamp ASC, event_id ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query events for %s: %w", entityID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// LoadRequest rehydrates a request snapshot.
func (s *SQLiteStore) LoadRequest(ctx context.Context, requestID string) (*contracts.AccessRequest, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM access_requests WHERE request_id = ?`, requestID).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", requestID, err)
	}
	var req contracts.AccessRequest
	if err := json.Unmarshal(snapshot, &req); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", requestID, err)
	}
	return &req, nil
}

func scanEvents(rows *sql.Rows) ([]*contracts.GovernanceEvent, error) {
	var events []*contracts.GovernanceEvent
	for rows.Next() {
		var (
			ev    contracts.GovernanceEvent
			typ   string
			delta []byte
		)
		if err := rows.Scan(&ev.EventID, &typ, &ev.EntityID, &ev.Actor, &ev.Timestamp, &delta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = contracts.EventType(typ)
		if len(delta) > 0 {
			if err := json.Unmarshal(delta, &ev.Delta); err != nil {
				return nil, fmt.Errorf("decode delta for %s: %w", ev.EventID, err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
