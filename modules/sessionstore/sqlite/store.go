package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flemzord/toolgate/internal/session"
)

// Persister implements session.Persister on a SQLite database.
type Persister struct {
	db *sql.DB
}

var _ session.Persister = (*Persister)(nil)

// SaveSessions upserts records in one transaction. A record replaces the
// stored message log of its session entirely.
func (p *Persister) SaveSessions(ctx context.Context, records []session.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (key, created_at, last_active_at, cookie_expiry)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				last_active_at = excluded.last_active_at,
				cookie_expiry  = excluded.cookie_expiry`,
			r.Key, formatTime(r.CreatedAt), formatTime(r.LastActiveAt), formatTime(r.CookieExpiry),
		); err != nil {
			return fmt.Errorf("sqlite: save session: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_key = ?", r.Key); err != nil {
			return fmt.Errorf("sqlite: clear messages: %w", err)
		}
		for seq, m := range r.Messages {
			deleted := 0
			if m.Deleted {
				deleted = 1
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages (session_key, seq, id, role, content, created_at, deleted)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.Key, seq, m.ID, m.Role, m.Content, formatTime(m.CreatedAt), deleted,
			); err != nil {
				return fmt.Errorf("sqlite: save message: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit save: %w", err)
	}
	return nil
}

// DeleteSessions removes the given sessions and their messages.
func (p *Persister) DeleteSessions(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE key = ?", k); err != nil {
			return fmt.Errorf("sqlite: delete session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit delete: %w", err)
	}
	return nil
}

// LoadSessions returns every stored session with its messages in log order.
func (p *Persister) LoadSessions(ctx context.Context) ([]session.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key, created_at, last_active_at, cookie_expiry
		FROM sessions
		ORDER BY created_at, key`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []session.Record
	index := make(map[string]int)
	for rows.Next() {
		var r session.Record
		var created, active, expiry string
		if err := rows.Scan(&r.Key, &created, &active, &expiry); err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if r.LastActiveAt, err = parseTime(active); err != nil {
			return nil, err
		}
		if r.CookieExpiry, err = parseTime(expiry); err != nil {
			return nil, err
		}
		index[r.Key] = len(records)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load sessions rows: %w", err)
	}

	if err := p.loadMessages(ctx, records, index); err != nil {
		return nil, err
	}
	return records, nil
}

func (p *Persister) loadMessages(ctx context.Context, records []session.Record, index map[string]int) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT session_key, id, role, content, created_at, deleted
		FROM messages
		ORDER BY session_key, seq`)
	if err != nil {
		return fmt.Errorf("sqlite: load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			key     string
			m       session.Message
			created string
			deleted int
		)
		if err := rows.Scan(&key, &m.ID, &m.Role, &m.Content, &created, &deleted); err != nil {
			return fmt.Errorf("sqlite: scan message: %w", err)
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return err
		}
		m.Deleted = deleted != 0

		i, ok := index[key]
		if !ok {
			continue
		}
		records[i].Messages = append(records[i].Messages, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: load messages rows: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (p *Persister) Close() error {
	return p.db.Close()
}

// Ping verifies the database is reachable.
func (p *Persister) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const timeLayout = time.RFC3339Nano

// formatTime stores times as UTC RFC 3339; the zero time is stored empty.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
