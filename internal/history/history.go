// Package history keeps a SQLite ledger of orchestrator sessions and their
// state transitions, so an operator can see how past bring-ups ended.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"

	"voiceboot/internal/common/fsutil"
	"voiceboot/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	model      TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	exit_code  INTEGER,
	error      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS transitions (
	session_id TEXT NOT NULL REFERENCES sessions(id),
	seq        INTEGER NOT NULL,
	state      TEXT NOT NULL,
	at         INTEGER NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, seq)
);
`

// ErrUnknownSession is returned when a session id is not in the store.
var ErrUnknownSession = errors.New("unknown session")

// Store is an open history database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := fsutil.EnsureParent(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; transitions are tiny and sequential.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Session is an open session handle.
type Session struct {
	store *Store
	id    string
}

// ID returns the session UUID.
func (s *Session) ID() string { return s.id }

// BeginSession records a new session for model.
func (s *Store) BeginSession(ctx context.Context, model string) (*Session, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, model, started_at) VALUES (?, ?, ?)`,
		id, model, s.now().UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &Session{store: s, id: id}, nil
}

// RecordTransition appends a state change to the session.
func (ss *Session) RecordTransition(ctx context.Context, state string, at time.Time, detail string) error {
	if at.IsZero() {
		at = ss.store.now()
	}
	_, err := ss.store.db.ExecContext(ctx,
		`INSERT INTO transitions (session_id, seq, state, at, detail)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transitions WHERE session_id = ?), ?, ?, ?)`,
		ss.id, ss.id, state, at.UnixMilli(), detail,
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// End closes the session with its exit code and error text.
func (ss *Session) End(ctx context.Context, exitCode int, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := ss.store.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, exit_code = ?, error = ? WHERE id = ?`,
		ss.store.now().UnixMilli(), exitCode, msg, ss.id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: %w", ss.id, ErrUnknownSession)
	}
	return nil
}

// Recent returns up to n sessions, newest first, with their transitions.
func (s *Store) Recent(ctx context.Context, n int) ([]types.Session, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model, started_at, ended_at, exit_code, error
		 FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	var out []types.Session
	for rows.Next() {
		var (
			sess     types.Session
			started  int64
			ended    sql.NullInt64
			exitCode sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.Model, &started, &ended, &exitCode, &sess.Error); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			sess.EndedAt = time.UnixMilli(ended.Int64)
		}
		sess.ExitCode = int(exitCode.Int64)
		out = append(out, sess)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		trs, err := s.transitions(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Transitions = trs
	}
	return out, nil
}

func (s *Store) transitions(ctx context.Context, sessionID string) ([]types.Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, state, at, detail FROM transitions WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()
	var out []types.Transition
	for rows.Next() {
		var (
			tr types.Transition
			at int64
		)
		if err := rows.Scan(&tr.Seq, &tr.State, &at, &tr.Detail); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.At = time.UnixMilli(at)
		out = append(out, tr)
	}
	return out, rows.Err()
}
