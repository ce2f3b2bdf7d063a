package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
)

// PostgresStore implements contracts.Persistence on PostgreSQL, for
// deployments where the event trail is shared infrastructure.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with the given DSN and migrates the schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing connection without migrating,
// for callers that manage schema externally.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS governance_events (
		event_id   TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		entity_id  TEXT NOT NULL,
		actor      TEXT NOT NULL,
		timestamp  TIMESTAMPTZ NOT NULL,
		delta      JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_events_entity ON governance_events(entity_id, timestamp);

	CREATE TABLE IF NOT EXISTS access_requests (
		request_id TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		snapshot   JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		campaign_id TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		snapshot    JSONB NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Close releases the underlying connection.
func (s *PostgresStore) Close() error { return s.db.Close() }

// RecordEvent appends one event idempotently.
func (s *PostgresStore) RecordEvent(ctx context.Context, ev *contracts.GovernanceEvent) error {
	delta, err := json.Marshal(ev.Delta)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO governance_events (event_id, type, entity_id, actor, timestamp, delta)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, string(ev.Type), ev.EntityID, ev.Actor, ev.Timestamp, delta)
	if err != nil {
		return fmt.Errorf("record event %s: %w", ev.EventID, err)
	}
	return nil
}

// SaveRequest upserts the request snapshot.
func (s *PostgresStore) SaveRequest(ctx context.Context, req *contracts.AccessRequest) error {
	snapshot, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO access_requests (request_id, status, snapshot, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id) DO UPDATE SET
			status = EXCLUDED.status,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`,
		req.RequestID, string(req.Status), snapshot, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save request %s: %w", req.RequestID, err)
	}
	return nil
}

// SaveCampaign upserts the campaign snapshot.
func (s *PostgresStore) SaveCampaign(ctx context.Context, c *contracts.CertificationCampaign) error {
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
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (campaign_id) DO UPDATE SET
			status = EXCLUDED.status,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`,
		c.CampaignID, string(c.Status), snapshot, updated)
	if err != nil {
		return fmt.Errorf("save campaign %s: %w", c.CampaignID, err)
	}
	return nil
}

// EventsFor returns the event history of one entity in timestamp order.
func (s *PostgresStore) EventsFor(ctx context.Context, entityID string) ([]*contracts.GovernanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, type, entity_id, actor, timestamp, delta
		FROM governance_events
		WHERE entity_id = $1
		ORDER BY timestamp ASC, event_id ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query events for %s: %w", entityID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}
