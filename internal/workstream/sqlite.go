package workstream

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/dylanbstorey/arawn/pkg/models"
)

// SQLiteManager persists sessions to a SQLite database, keyed by session id
// and indexed by workstream.
type SQLiteManager struct {
	db *sql.DB
}

// NewSQLiteManager opens (or creates) the session database at path. Empty
// path means in-memory.
func NewSQLiteManager(path string) (*SQLiteManager, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("workstream: failed to open session database: %w", err)
	}

	m := &SQLiteManager{db: db}
	if err := m.init(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *SQLiteManager) init() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			workstream_id TEXT NOT NULL,
			data TEXT NOT NULL,
			ended_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("workstream: failed to create sessions table: %w", err)
	}
	_, err = m.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_workstream ON sessions(workstream_id)`)
	if err != nil {
		return fmt.Errorf("workstream: failed to create index: %w", err)
	}
	return nil
}

// LoadSession returns the persisted session, or nil when unknown.
func (m *SQLiteManager) LoadSession(ctx context.Context, id models.SessionID) (*models.Session, error) {
	var data string
	err := m.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workstream: load failed: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("workstream: corrupt session record %s: %w", id, err)
	}
	return &session, nil
}

// SaveSession upserts the serialized session.
func (m *SQLiteManager) SaveSession(ctx context.Context, id models.SessionID, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("workstream: serialize failed: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workstream_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workstream_id = excluded.workstream_id,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		id, session.WorkstreamID, string(data), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("workstream: save failed: %w", err)
	}
	return nil
}

// EndSession stamps the session ended. The record is retained.
func (m *SQLiteManager) EndSession(ctx context.Context, id models.SessionID) error {
	_, err := m.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("workstream: end failed: %w", err)
	}
	return nil
}

// WorkstreamID returns the workstream a session belongs to.
func (m *SQLiteManager) WorkstreamID(ctx context.Context, sessionID models.SessionID) (string, error) {
	var wsID string
	err := m.db.QueryRowContext(ctx, `SELECT workstream_id FROM sessions WHERE id = ?`, sessionID).Scan(&wsID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("workstream: workstream lookup failed: %w", err)
	}
	return wsID, nil
}

// Close closes the database.
func (m *SQLiteManager) Close() error {
	return m.db.Close()
}
