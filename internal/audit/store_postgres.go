package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore is the durable event log.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	list_id TEXT NOT NULL DEFAULT '',
	entry_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	actor_type TEXT NOT NULL,
	actor_id TEXT NOT NULL DEFAULT '',
	details JSONB
);

CREATE INDEX IF NOT EXISTS idx_audit_list_ts ON audit_events(list_id, ts DESC);
`

// EnsureSchema creates the table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	var details []byte
	if event.Details != nil {
		var err error
		if details, err = json.Marshal(event.Details); err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}
	// ON CONFLICT DO NOTHING keeps Append idempotent for at-least-once
	// delivery from the worker.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, ts, list_id, entry_id, action, actor_type, actor_id, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Timestamp, event.ListID, event.EntryID,
		event.Action, event.ActorType, event.ActorID, details)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByList(ctx context.Context, listID string, filter Filter) ([]Event, int, error) {
	where := `list_id = $1`
	args := []any{listID}
	if filter.Action != "" {
		args = append(args, filter.Action)
		where += fmt.Sprintf(` AND action = $%d`, len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(` AND ts >= $%d`, len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(` AND ts <= $%d`, len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	page, size := filter.Page, filter.PageSize
	if size <= 0 {
		size = 50
	}
	if page <= 0 {
		page = 1
	}
	args = append(args, size, (page-1)*size)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, list_id, entry_id, action, actor_type, actor_id, details
		 FROM audit_events WHERE `+where+
			fmt.Sprintf(` ORDER BY ts DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var details []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ListID, &e.EntryID,
			&e.Action, &e.ActorType, &e.ActorID, &details); err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		if details != nil {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, 0, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) DeleteByList(ctx context.Context, listID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE list_id = $1`, listID); err != nil {
		return fmt.Errorf("delete audit events: %w", err)
	}
	return nil
}
