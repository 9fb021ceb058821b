package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/flow"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "checkpoints.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLibSQLStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(context.Background(), sampleSnapshot()))

	snap, err := s.Load(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "pipeline", snap.Workflow)
	assert.Equal(t, flow.StepCompleted, snap.Steps["fetch"].Status)
}

func TestLibSQLStore_SaveUpserts(t *testing.T) {
	s := newTestStore(t)

	snap := sampleSnapshot()
	require.NoError(t, s.Save(context.Background(), snap))

	snap.Status = ExecutionFailed
	snap.Error = "step parse failed"
	require.NoError(t, s.Save(context.Background(), snap))

	loaded, err := s.Load(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, loaded.Status)
	assert.Equal(t, "step parse failed", loaded.Error)
}

func TestLibSQLStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeStore, flow.CodeOf(err))
}

func TestLibSQLStore_Delete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(context.Background(), sampleSnapshot()))
	require.NoError(t, s.Delete(context.Background(), "exec-1"))

	_, err := s.Load(context.Background(), "exec-1")
	require.Error(t, err)
}

func TestLibSQLStore_RejectsMissingExecutionID(t *testing.T) {
	s := newTestStore(t)

	err := s.Save(context.Background(), &Snapshot{})
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeStore, flow.CodeOf(err))
}
