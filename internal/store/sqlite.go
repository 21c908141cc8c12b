package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
)

// SchemaVersion is the current schema version of the SQLite database.
const SchemaVersion = 1

const timeLayout = time.RFC3339Nano

// SQLiteStore is a Store backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("open: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open: create db dir: %w", err)
	}

	dsn := "file:" + path + "?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: sql open: %w", err)
	}
	// A single writer connection keeps transactions serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current); err != nil {
		return fmt.Errorf("read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS deadlines (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			due_at      TEXT NOT NULL,
			status      TEXT NOT NULL,
			priority    TEXT NOT NULL,
			source      TEXT NOT NULL,
			source_ref  TEXT NOT NULL DEFAULT '',
			source_url  TEXT NOT NULL DEFAULT '',
			confidence  REAL NULL,
			project     TEXT NOT NULL DEFAULT '',
			tags        TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS reminder_rules (
			id             TEXT PRIMARY KEY,
			deadline_id    TEXT NOT NULL REFERENCES deadlines(id) ON DELETE CASCADE,
			offset_seconds INTEGER NOT NULL,
			channel        TEXT NOT NULL,
			enabled        INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deadlines_due_at ON deadlines(due_at);`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_rules_deadline ON reminder_rules(deadline_id);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

const deadlineColumns = `id, title, description, due_at, status, priority, source, source_ref,
	source_url, confidence, project, tags, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadline(row rowScanner) (deadline.Deadline, error) {
	var (
		d                         deadline.Deadline
		dueAt, created, updated   string
		status, priority, source  string
		tags                      string
		confidence                sql.NullFloat64
	)
	err := row.Scan(&d.ID, &d.Title, &d.Description, &dueAt, &status, &priority, &source,
		&d.SourceRef, &d.SourceURL, &confidence, &d.Project, &tags, &created, &updated)
	if err != nil {
		return deadline.Deadline{}, err
	}

	d.Status = deadline.Status(status)
	d.Priority = deadline.Priority(priority)
	d.Source = deadline.Source(source)
	if confidence.Valid {
		c := confidence.Float64
		d.Confidence = &c
	}
	if d.DueAt, err = time.Parse(timeLayout, dueAt); err != nil {
		return deadline.Deadline{}, fmt.Errorf("parse due_at: %w", err)
	}
	if d.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return deadline.Deadline{}, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return deadline.Deadline{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return deadline.Deadline{}, fmt.Errorf("parse tags: %w", err)
	}
	if len(d.Tags) == 0 {
		d.Tags = nil
	}
	return d, nil
}

func (s *SQLiteStore) GetDeadline(ctx context.Context, id string) (deadline.Deadline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deadlineColumns+` FROM deadlines WHERE id = ?;`, id)
	d, err := scanDeadline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return deadline.Deadline{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return deadline.Deadline{}, fmt.Errorf("get %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDeadlines(ctx context.Context) ([]deadline.Deadline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deadlineColumns+` FROM deadlines ORDER BY due_at, id;`)
	if err != nil {
		return nil, fmt.Errorf("list deadlines: %w", err)
	}
	defer rows.Close()

	var out []deadline.Deadline
	for rows.Next() {
		d, err := scanDeadline(rows)
		if err != nil {
			return nil, fmt.Errorf("list deadlines: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertDeadline(ctx context.Context, d deadline.Deadline, rules []deadline.ReminderRule) error {
	if err := validate(d, rules); err != nil {
		return err
	}

	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	var confidence sql.NullFloat64
	if d.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *d.Confidence, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert %s: begin: %w", d.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	// ON CONFLICT keeps the row; INSERT OR REPLACE would delete it and
	// cascade away the rules.
	_, err = tx.ExecContext(ctx, `INSERT INTO deadlines (`+deadlineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			due_at = excluded.due_at,
			status = excluded.status,
			priority = excluded.priority,
			source = excluded.source,
			source_ref = excluded.source_ref,
			source_url = excluded.source_url,
			confidence = excluded.confidence,
			project = excluded.project,
			tags = excluded.tags,
			updated_at = excluded.updated_at;`,
		d.ID, d.Title, d.Description, d.DueAt.UTC().Format(timeLayout),
		string(d.Status), string(d.Priority), string(d.Source), d.SourceRef, d.SourceURL,
		confidence, d.Project, string(tagsJSON),
		d.CreatedAt.UTC().Format(timeLayout), d.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", d.ID, err)
	}

	if rules != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reminder_rules WHERE deadline_id = ?;`, d.ID); err != nil {
			return fmt.Errorf("upsert %s: clear rules: %w", d.ID, err)
		}
		for _, r := range rules {
			if err := insertRule(ctx, tx, r); err != nil {
				return fmt.Errorf("upsert %s: %w", d.ID, err)
			}
		}
	}

	return tx.Commit()
}

func insertRule(ctx context.Context, tx *sql.Tx, r deadline.ReminderRule) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reminder_rules (id, deadline_id, offset_seconds, channel, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			offset_seconds = excluded.offset_seconds,
			channel = excluded.channel,
			enabled = excluded.enabled;`,
		r.ID, r.DeadlineID, r.OffsetSeconds, string(r.Channel), r.Enabled)
	if err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteDeadline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deadlines WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListReminderRules(ctx context.Context, deadlineID string) ([]deadline.ReminderRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, deadline_id, offset_seconds, channel, enabled
		FROM reminder_rules WHERE deadline_id = ? ORDER BY offset_seconds, channel, id;`, deadlineID)
	if err != nil {
		return nil, fmt.Errorf("list rules %s: %w", deadlineID, err)
	}
	defer rows.Close()

	out := []deadline.ReminderRule{}
	for rows.Next() {
		var (
			r       deadline.ReminderRule
			channel string
		)
		if err := rows.Scan(&r.ID, &r.DeadlineID, &r.OffsetSeconds, &channel, &r.Enabled); err != nil {
			return nil, fmt.Errorf("list rules %s: %w", deadlineID, err)
		}
		r.Channel = deadline.Channel(channel)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertRule(ctx context.Context, r deadline.ReminderRule) error {
	if err := r.Validate(r.DeadlineID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rule %s: begin: %w", r.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM deadlines WHERE id = ?;`, r.DeadlineID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rule %s: %w", r.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if err := insertRule(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
