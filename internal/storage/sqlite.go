package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gatebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertRecipient(ctx context.Context, r Recipient) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	// A re-request deliberately resets the whole row (fresh funnel entry),
	// including status and approved_at.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(id, first_name, username, chat_id, status, requested_at, approved_at)
		 VALUES(?,?,?,?,?,?,NULL)
		 ON CONFLICT(id) DO UPDATE SET
		   first_name=excluded.first_name,
		   username=excluded.username,
		   chat_id=excluded.chat_id,
		   status=excluded.status,
		   requested_at=excluded.requested_at,
		   approved_at=NULL`,
		r.ID, r.FirstName, nullStr(r.Username), r.ChatID, string(r.Status),
		r.RequestedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) FindRecipient(ctx context.Context, id int64) (Recipient, bool, error) {
	if s == nil || s.db == nil {
		return Recipient{}, false, ErrClosed
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, username, chat_id, status, requested_at, approved_at
		 FROM recipients WHERE id = ?`, id)
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recipient{}, false, nil
	}
	if err != nil {
		return Recipient{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) ApproveRecipient(ctx context.Context, id int64, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET status = ?, approved_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusApproved), at.UTC().Format(time.RFC3339Nano), id, string(StatusPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) AllRecipients(ctx context.Context) ([]Recipient, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, first_name, username, chat_id, status, requested_at, approved_at
		 FROM recipients ORDER BY requested_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteRecipient(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM recipients WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) CountRecipients(ctx context.Context, status Status) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var (
		n   int
		err error
	)
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM recipients WHERE status = ?`, string(status)).Scan(&n)
	}
	return n, err
}

func (s *sqliteStore) AggregateByStatus(ctx context.Context) (map[Status]StatusAgg, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), MAX(COALESCE(approved_at, requested_at))
		 FROM recipients GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]StatusAgg{}
	for rows.Next() {
		var (
			st     string
			n      int
			latest sql.NullString
		)
		if err := rows.Scan(&st, &n, &latest); err != nil {
			return nil, err
		}
		agg := StatusAgg{Count: n}
		if latest.Valid {
			if t, err := time.Parse(time.RFC3339Nano, latest.String); err == nil {
				agg.LatestActivity = t
			}
		}
		out[Status(st)] = agg
	}
	return out, rows.Err()
}

func (s *sqliteStore) EnqueueTask(ctx context.Context, t Task) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(kind, recipient_id, chat_id, due_at, attempts) VALUES(?,?,?,?,0)`,
		string(t.Kind), t.RecipientID, t.ChatID, t.DueAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, recipient_id, chat_id, due_at, attempts
		 FROM tasks WHERE due_at <= ? ORDER BY due_at LIMIT ?`,
		now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			t  Task
			ms int64
			k  string
		)
		if err := rows.Scan(&t.ID, &k, &t.RecipientID, &t.ChatID, &ms, &t.Attempts); err != nil {
			return nil, err
		}
		t.Kind = TaskKind(k)
		t.DueAt = time.UnixMilli(ms)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) BumpTaskAttempts(ctx context.Context, id int64, nextDue time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET attempts = attempts + 1, due_at = ? WHERE id = ?`,
		nextDue.UnixMilli(), id,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (Recipient, error) {
	var (
		r        Recipient
		username sql.NullString
		status   string
		reqAt    string
		apprAt   sql.NullString
	)
	if err := row.Scan(&r.ID, &r.FirstName, &username, &r.ChatID, &status, &reqAt, &apprAt); err != nil {
		return Recipient{}, err
	}
	r.Username = username.String
	r.Status = Status(status)
	if t, err := time.Parse(time.RFC3339Nano, reqAt); err == nil {
		r.RequestedAt = t
	}
	if apprAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, apprAt.String); err == nil {
			r.ApprovedAt = &t
		}
	}
	return r, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
