package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
)

// Store writes and reads session records. Records are never updated or deleted.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store over a database migrated with sqlite.MigrateUp.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record stores r and its phase outcomes in one transaction and returns the new row id.
func (s *Store) Record(ctx context.Context, r *session.Report) (int64, error) {
	if r == nil {
		return 0, errors.New("history: nil report")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("history: record: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO session_run (
			client_id, client_name, provider, model, status, cleanup, final_state,
			capabilities, fragments, embedding_dim, error, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ClientID, r.ClientName, r.Provider, r.Model,
		string(r.Status), string(r.Cleanup), r.FinalState.String(),
		r.Capabilities.String(), r.Fragments, len(r.Embedding), errString(r.Err()),
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("history: record session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history: record session id: %w", err)
	}

	for seq, p := range r.Phases {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_phase (session_id, seq, phase, status, detail, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, seq, p.Phase.String(), string(p.Status), p.Detail, errString(p.Err), p.Duration.Milliseconds(),
		); err != nil {
			return 0, fmt.Errorf("history: record phase %s: %w", p.Phase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: record: commit: %w", err)
	}
	return id, nil
}

const selectRun = `
	SELECT id, client_id, client_name, provider, model, status, cleanup, final_state,
	       capabilities, fragments, embedding_dim, error, started_at, duration_ms
	FROM session_run`

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("history: recent: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one session with its phases in execution order.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT phase, status, detail, error, duration_ms
		FROM session_phase WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("history: get %d phases: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p      PhaseRecord
			status string
			ms     int64
		)
		if err := rows.Scan(&p.Phase, &status, &p.Detail, &p.Error, &ms); err != nil {
			return nil, fmt.Errorf("history: get %d phases: %w", id, err)
		}
		p.Status = session.PhaseStatus(status)
		p.Duration = time.Duration(ms) * time.Millisecond
		e.Phases = append(e.Phases, p)
	}
	return e, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                      Entry
		status, cleanup, start string
		ms                     int64
	)
	if err := row.Scan(
		&e.ID, &e.ClientID, &e.ClientName, &e.Provider, &e.Model, &status, &cleanup, &e.FinalState,
		&e.Capabilities, &e.Fragments, &e.EmbeddingDim, &e.Error, &start, &ms,
	); err != nil {
		return nil, err
	}
	e.Status = session.Status(status)
	e.Cleanup = session.CleanupStatus(cleanup)
	e.Duration = time.Duration(ms) * time.Millisecond
	t, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", start, err)
	}
	e.StartedAt = t
	return &e, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
