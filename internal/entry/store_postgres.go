package entry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"idcollect/internal/secrets"
	dErrors "idcollect/pkg/domain-errors"
)

// PostgresStore is the durable Store implementation.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS lists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	columns JSONB NOT NULL DEFAULT '[]',
	email_column TEXT NOT NULL DEFAULT '',
	list_type TEXT NOT NULL DEFAULT 'unknown',
	file_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	list_id TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	email TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	data JSONB NOT NULL DEFAULT '{}',
	verification_type TEXT NOT NULL,
	status TEXT NOT NULL,
	nin JSONB,
	cac JSONB,
	cac_company_name TEXT NOT NULL DEFAULT '',
	details JSONB,
	resend_count INT NOT NULL DEFAULT 0,
	verification_attempts INT NOT NULL DEFAULT 0,
	last_attempt_error TEXT NOT NULL DEFAULT '',
	link_sent_at TIMESTAMPTZ,
	last_attempt_at TIMESTAMPTZ,
	verified_at TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_list_created ON entries(list_id, created_at);
CREATE INDEX IF NOT EXISTS idx_entries_list_status ON entries(list_id, status);
`

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure entries schema: %w", err)
	}
	return nil
}

const entryColumns = `id, list_id, email, display_name, data, verification_type, status,
	nin, cac, cac_company_name, details, resend_count, verification_attempts,
	last_attempt_error, link_sent_at, last_attempt_at, verified_at, version, created_at, updated_at`

func (s *PostgresStore) CreateList(ctx context.Context, list *List, entries []*Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create list: %w", err)
	}
	defer tx.Rollback()

	columns, err := json.Marshal(list.Columns)
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO lists (id, name, columns, email_column, list_type, file_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		list.ID, list.Name, columns, list.EmailColumn, list.Type, list.FileName, list.CreatedAt, list.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert list: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (`+entryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`)
	if err != nil {
		return fmt.Errorf("prepare insert entry: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		args, err := entryArgs(e)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create list: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetList(ctx context.Context, listID string) (*List, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, columns, email_column, list_type, file_name, created_at, updated_at
		 FROM lists WHERE id = $1`, listID)
	return scanList(row)
}

func (s *PostgresStore) Lists(ctx context.Context) ([]*List, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, columns, email_column, list_type, file_name, created_at, updated_at
		 FROM lists ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query lists: %w", err)
	}
	defer rows.Close()

	var out []*List
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, list)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteList(ctx context.Context, listID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lists WHERE id = $1`, listID)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return dErrors.New(dErrors.CodeNotFound, "list not found")
	}
	return nil
}

func (s *PostgresStore) ListStats(ctx context.Context, listID string) (*Stats, error) {
	if _, err := s.GetList(ctx, listID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM entries WHERE list_id = $1 GROUP BY status`, listID)
	if err != nil {
		return nil, fmt.Errorf("query list stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan list stats: %w", err)
		}
		stats.Total += count
		switch status {
		case StatusPending:
			stats.Pending += count
		case StatusLinkSent:
			stats.LinkSent += count
		case StatusVerified:
			stats.Verified += count
		case StatusVerificationFailed, StatusFailed, StatusEmailFailed:
			stats.Failed += count
		}
	}
	return stats, rows.Err()
}

func (s *PostgresStore) GetEntry(ctx context.Context, entryID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = $1`, entryID)
	return scanEntry(row)
}

func (s *PostgresStore) GetEntries(ctx context.Context, listID string, ids []string) ([]*Entry, error) {
	if _, err := s.GetList(ctx, listID); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	var err error
	if ids == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+entryColumns+` FROM entries WHERE list_id = $1 ORDER BY created_at, id`, listID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+entryColumns+` FROM entries WHERE list_id = $1 AND id = ANY($2)`,
			listID, pq.Array(ids))
	}
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Entry)
	var ordered []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		byID[e.ID] = e
		ordered = append(ordered, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if ids == nil {
		return ordered, nil
	}
	// Preserve the caller's requested order.
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e := byID[id]; e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, listID string, filter Filter) ([]*Entry, int, error) {
	if _, err := s.GetList(ctx, listID); err != nil {
		return nil, 0, err
	}

	where := `list_id = $1`
	args := []any{listID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += fmt.Sprintf(` AND (email ILIKE $%d OR display_name ILIKE $%d)`, len(args), len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
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
		`SELECT `+entryColumns+` FROM entries WHERE `+where+
			fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query entries page: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) UpdateEntry(ctx context.Context, entryID string, mutate func(*Entry) error) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update entry: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = $1 FOR UPDATE`, entryID)
	current, err := scanEntry(row)
	if err != nil {
		return nil, err
	}

	dataBefore := current.Clone().Data
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := checkDataPreserved(dataBefore, next.Data); err != nil {
		return nil, err
	}

	next.Version = current.Version + 1
	next.UpdatedAt = time.Now()

	nin, cac, details, data, err := entryJSON(next)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE entries SET email=$2, display_name=$3, data=$4, verification_type=$5,
			status=$6, nin=$7, cac=$8, cac_company_name=$9, details=$10, resend_count=$11,
			verification_attempts=$12, last_attempt_error=$13, link_sent_at=$14,
			last_attempt_at=$15, verified_at=$16, version=$17, updated_at=$18
		 WHERE id = $1`,
		next.ID, next.Email, next.DisplayName, data, next.VerificationType,
		next.Status, nin, cac, next.CACCompanyName, details, next.ResendCount,
		next.VerificationAttempts, next.LastAttemptError, next.LinkSentAt,
		next.LastAttemptAt, next.VerifiedAt, next.Version, next.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update entry: %w", err)
	}
	return next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanList(row rowScanner) (*List, error) {
	var list List
	var columns []byte
	err := row.Scan(&list.ID, &list.Name, &columns, &list.EmailColumn,
		&list.Type, &list.FileName, &list.CreatedAt, &list.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.New(dErrors.CodeNotFound, "list not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan list: %w", err)
	}
	if err := json.Unmarshal(columns, &list.Columns); err != nil {
		return nil, fmt.Errorf("decode list columns: %w", err)
	}
	return &list, nil
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var data, nin, cac, details []byte
	err := row.Scan(&e.ID, &e.ListID, &e.Email, &e.DisplayName, &data,
		&e.VerificationType, &e.Status, &nin, &cac, &e.CACCompanyName, &details,
		&e.ResendCount, &e.VerificationAttempts, &e.LastAttemptError,
		&e.LinkSentAt, &e.LastAttemptAt, &e.VerifiedAt, &e.Version,
		&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.New(dErrors.CodeNotFound, "entry not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	if err := json.Unmarshal(data, &e.Data); err != nil {
		return nil, fmt.Errorf("decode entry data: %w", err)
	}
	if nin != nil {
		e.NIN = &secrets.EncryptedValue{}
		if err := json.Unmarshal(nin, e.NIN); err != nil {
			return nil, fmt.Errorf("decode entry nin: %w", err)
		}
	}
	if cac != nil {
		e.CAC = &secrets.EncryptedValue{}
		if err := json.Unmarshal(cac, e.CAC); err != nil {
			return nil, fmt.Errorf("decode entry cac: %w", err)
		}
	}
	if details != nil {
		e.Details = &VerificationDetails{}
		if err := json.Unmarshal(details, e.Details); err != nil {
			return nil, fmt.Errorf("decode entry details: %w", err)
		}
	}
	return &e, nil
}

func entryJSON(e *Entry) (nin, cac, details, data []byte, err error) {
	data, err = json.Marshal(e.Data)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal entry data: %w", err)
	}
	if e.NIN != nil {
		if nin, err = json.Marshal(e.NIN); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal entry nin: %w", err)
		}
	}
	if e.CAC != nil {
		if cac, err = json.Marshal(e.CAC); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal entry cac: %w", err)
		}
	}
	if e.Details != nil {
		if details, err = json.Marshal(e.Details); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal entry details: %w", err)
		}
	}
	return nin, cac, details, data, nil
}

func entryArgs(e *Entry) ([]any, error) {
	nin, cac, details, data, err := entryJSON(e)
	if err != nil {
		return nil, err
	}
	return []any{
		e.ID, e.ListID, e.Email, e.DisplayName, data, e.VerificationType, e.Status,
		nin, cac, e.CACCompanyName, details, e.ResendCount, e.VerificationAttempts,
		e.LastAttemptError, e.LinkSentAt, e.LastAttemptAt, e.VerifiedAt,
		e.Version, e.CreatedAt, e.UpdatedAt,
	}, nil
}
