package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			status TEXT NOT NULL,
			current_turn INTEGER NOT NULL DEFAULT 0,
			needs_restart INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			error TEXT,
			name TEXT,
			model TEXT,
			path TEXT,
			org TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			avatar_url TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, idx),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Columns added after the first schema (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("runs", "config", "ALTER TABLE runs ADD COLUMN config TEXT"); err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.RunState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, prompt, status, current_turn, needs_restart, started_at, completed_at, error, name, model, path, org, config)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Prompt, run.Status, run.CurrentTurn, run.NeedsRestart, run.StartedAt,
		nullTime(run.CompletedAt), nullString(run.Error),
		nullString(run.Meta.Name), nullString(run.Meta.Model), nullString(run.Meta.Path), nullString(run.Meta.Org),
		nullString(string(run.Config)))
	return err
}

// UpdateRun persists the mutable fields of a run.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.RunState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, current_turn = ?, needs_restart = ?, completed_at = ?, error = ? WHERE run_id = ?`,
		run.Status, run.CurrentTurn, run.NeedsRestart, nullTime(run.CompletedAt), nullString(run.Error), run.RunID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, run.RunID)
	}
	return nil
}

const runColumns = `run_id, prompt, status, current_turn, needs_restart, started_at, completed_at, error, name, model, path, org, config`

// GetRun retrieves a run by ID. It returns nil, nil for unknown IDs.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first, with their archived message counts.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	query := `SELECT ` + runColumns + `, (SELECT COUNT(*) FROM messages m WHERE m.run_id = runs.run_id)
		FROM runs ORDER BY started_at DESC, run_id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.RunSummary{}
	for rows.Next() {
		var count int
		run, err := scanRun(rows, &count)
		if err != nil {
			return nil, err
		}
		runs = append(runs, domain.RunSummary{RunState: *run, MessageCount: count})
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner, extra ...any) (*domain.RunState, error) {
	var run domain.RunState
	var completedAt sql.NullTime
	var errStr, name, model, path, org, config sql.NullString
	dest := []any{
		&run.RunID, &run.Prompt, &run.Status, &run.CurrentTurn, &run.NeedsRestart, &run.StartedAt,
		&completedAt, &errStr, &name, &model, &path, &org, &config,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Error = errStr.String
	run.Meta = domain.RunMeta{Name: name.String, Model: model.String, Path: path.String, Org: org.String}
	if config.Valid && config.String != "" {
		run.Config = json.RawMessage(config.String)
	}
	return &run, nil
}

// CreateMessage archives a message of a run.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (run_id, idx, role, text, avatar_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		message.RunID, message.Index, message.Role, message.Text, nullString(message.AvatarURL), message.CreatedAt)
	return err
}

// GetMessages retrieves archived messages of a run with index >= cursor.
func (s *SQLiteStore) GetMessages(ctx context.Context, runID string, cursor uint64, limit int) ([]domain.Message, error) {
	query := `SELECT run_id, idx, role, text, avatar_url, created_at FROM messages WHERE run_id = ? AND idx >= ? ORDER BY idx ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, runID, cursor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var avatar sql.NullString
		if err := rows.Scan(&msg.RunID, &msg.Index, &msg.Role, &msg.Text, &avatar, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.AvatarURL = avatar.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateEvent creates a new event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	var payload sql.NullString
	if event.Payload != nil {
		payload = sql.NullString{String: string(event.Payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.Ts, event.Type, payload)
	return err
}

// GetEvents retrieves events for a run.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, run_id, ts, type, payload FROM events WHERE run_id = ?`
	args := []interface{}{runID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.RunID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
