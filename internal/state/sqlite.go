package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/quicksave/internal/db"
	"github.com/openmined/quicksave/internal/fingerprint"
)

const schema = `
CREATE TABLE IF NOT EXISTS project_state (
    project TEXT PRIMARY KEY,
    last_fingerprint TEXT NOT NULL DEFAULT '',
    last_send_at TEXT NOT NULL DEFAULT '', -- RFC3339Nano, empty when never sent
    pending_commit_message TEXT NOT NULL DEFAULT '',
    cooldown_seconds INTEGER NOT NULL DEFAULT 30,
    auto_send INTEGER NOT NULL DEFAULT 0,
    endpoint_url TEXT NOT NULL DEFAULT '',
    change_kinds TEXT NOT NULL DEFAULT ''
);
`

const (
	selectStateQuery = `SELECT project, last_fingerprint, last_send_at, pending_commit_message,
		cooldown_seconds, auto_send, endpoint_url, change_kinds FROM project_state WHERE project = ?`

	upsertStateQuery = `INSERT OR REPLACE INTO project_state (project, last_fingerprint, last_send_at, pending_commit_message,
		cooldown_seconds, auto_send, endpoint_url, change_kinds)
		VALUES (:project, :last_fingerprint, :last_send_at, :pending_commit_message,
		:cooldown_seconds, :auto_send, :endpoint_url, :change_kinds)`
)

// dbProjectState is the row shape; times and lists are stored as TEXT.
type dbProjectState struct {
	Project              string `db:"project"`
	LastFingerprint      string `db:"last_fingerprint"`
	LastSendAt           string `db:"last_send_at"`
	PendingCommitMessage string `db:"pending_commit_message"`
	CooldownSeconds      int    `db:"cooldown_seconds"`
	AutoSend             bool   `db:"auto_send"`
	EndpointURL          string `db:"endpoint_url"`
	ChangeKinds          string `db:"change_kinds"`
}

// SQLiteStore persists project state in a SQLite database. A single
// connection serializes reads and writes, so a Save is visible to the next
// Load from any goroutine. Update runs in an immediate transaction, which
// also serializes it against other processes sharing the database file.
type SQLiteStore struct {
	db     *sqlx.DB
	dbPath string
	mu     sync.Mutex
}

// OpenSQLiteStore opens (or creates) the state database at dbPath.
// Use ":memory:" for a throwaway store.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	conn, err := db.NewSqliteDB(db.WithPath(dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize state schema: %w", err)
	}

	return &SQLiteStore{db: conn, dbPath: dbPath}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, project string) (*ProjectState, error) {
	if project == "" {
		return nil, ErrNoProject
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, ErrStoreClosed
	}

	return loadState(ctx, s.db, project)
}

func (s *SQLiteStore) Save(ctx context.Context, st *ProjectState) error {
	if st == nil || st.Project == "" {
		return ErrNoProject
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrStoreClosed
	}

	return saveState(ctx, s.db, st)
}

func (s *SQLiteStore) Update(ctx context.Context, project string, fn func(*ProjectState) error) (*ProjectState, error) {
	if project == "" {
		return nil, ErrNoProject
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin state update %s: %w", project, err)
	}

	st, err := loadState(ctx, tx, project)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := fn(st); err != nil {
		tx.Rollback()
		return nil, err
	}
	st.Project = project
	st.Normalize()
	if err := saveState(ctx, tx, st); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit state update %s: %w", project, err)
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrStoreClosed
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func loadState(ctx context.Context, q sqlx.QueryerContext, project string) (*ProjectState, error) {
	var row dbProjectState
	if err := sqlx.GetContext(ctx, q, &row, selectStateQuery, project); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return New(project), nil
		}
		return nil, fmt.Errorf("query state %s: %w", project, err)
	}
	return row.toState()
}

func saveState(ctx context.Context, e sqlx.ExtContext, st *ProjectState) error {
	if _, err := sqlx.NamedExecContext(ctx, e, upsertStateQuery, fromState(st)); err != nil {
		return fmt.Errorf("save state %s: %w", st.Project, err)
	}
	slog.Debug("state saved", "project", st.Project, "fingerprint", st.LastFingerprint)
	return nil
}

func fromState(st *ProjectState) dbProjectState {
	var sentAt string
	if !st.LastSendAt.IsZero() {
		sentAt = st.LastSendAt.UTC().Format(time.RFC3339Nano)
	}
	return dbProjectState{
		Project:              st.Project,
		LastFingerprint:      st.LastFingerprint.String(),
		LastSendAt:           sentAt,
		PendingCommitMessage: st.PendingCommitMessage,
		CooldownSeconds:      ClampCooldown(st.CooldownSeconds),
		AutoSend:             st.AutoSend,
		EndpointURL:          st.EndpointURL,
		ChangeKinds:          strings.Join(st.ChangeKinds, ","),
	}
}

func (r dbProjectState) toState() (*ProjectState, error) {
	st := &ProjectState{
		Project:              r.Project,
		LastFingerprint:      fingerprint.Fingerprint(r.LastFingerprint),
		PendingCommitMessage: r.PendingCommitMessage,
		CooldownSeconds:      ClampCooldown(r.CooldownSeconds),
		AutoSend:             r.AutoSend,
		EndpointURL:          r.EndpointURL,
	}

	if r.LastSendAt != "" {
		t, err := time.Parse(time.RFC3339Nano, r.LastSendAt)
		if err != nil {
			return nil, fmt.Errorf("parse last_send_at for %s: %w", r.Project, err)
		}
		st.LastSendAt = t
	}

	if r.ChangeKinds != "" {
		st.ChangeKinds = strings.Split(r.ChangeKinds, ",")
	}

	return st, nil
}
