package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/flowline-dev/flowline/flow"
)

// LibSQLStore implements Checkpointer on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path. The path should
// be a file URI, e.g. "file:/path/to/checkpoints.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	s := &LibSQLStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LibSQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS checkpoints (
		execution_id TEXT PRIMARY KEY,
		workflow     TEXT NOT NULL,
		status       TEXT NOT NULL,
		document     TEXT NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	return nil
}

func (s *LibSQLStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.ExecutionID == "" {
		return flow.NewError(flow.ErrCodeStore, "snapshot needs an execution ID")
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	raw, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (execution_id, workflow, status, document, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET
		   status=excluded.status, document=excluded.document, updated_at=excluded.updated_at`,
		snap.ExecutionID, snap.Workflow, string(snap.Status), string(raw), snap.UpdatedAt,
	)
	if err != nil {
		return flow.NewErrorf(flow.ErrCodeStore, "save checkpoint: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) Load(ctx context.Context, executionID string) (*Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM checkpoints WHERE execution_id = ?`, executionID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, flow.NewErrorf(flow.ErrCodeStore, "snapshot not found: %s", executionID)
	}
	if err != nil {
		return nil, flow.NewErrorf(flow.ErrCodeStore, "load checkpoint: %s", err.Error()).WithCause(err)
	}
	return DecodeSnapshot([]byte(raw))
}

func (s *LibSQLStore) Delete(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE execution_id = ?`, executionID)
	if err != nil {
		return flow.NewErrorf(flow.ErrCodeStore, "delete checkpoint: %s", err.Error()).WithCause(err)
	}
	return nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }
