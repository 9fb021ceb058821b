package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/flow"
)

func TestMemoryStore_SaveLoadDelete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), sampleSnapshot()))

	snap, err := s.Load(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "pipeline", snap.Workflow)

	require.NoError(t, s.Delete(context.Background(), "exec-1"))
	_, err = s.Load(context.Background(), "exec-1")
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeStore, flow.CodeOf(err))
}

func TestMemoryStore_SaveOverwrites(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	snap := sampleSnapshot()
	require.NoError(t, s.Save(context.Background(), snap))

	snap.Status = ExecutionCompleted
	require.NoError(t, s.Save(context.Background(), snap))

	loaded, err := s.Load(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, loaded.Status)
	assert.Len(t, s.ExecutionIDs(), 1)
}

func TestMemoryStore_RejectsMissingExecutionID(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	err := s.Save(context.Background(), &Snapshot{})
	require.Error(t, err)
	assert.Equal(t, flow.ErrCodeStore, flow.CodeOf(err))
}

func TestMemoryStore_LoadIsolatedFromLaterMutation(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	snap := sampleSnapshot()
	require.NoError(t, s.Save(context.Background(), snap))
	snap.Workflow = "mutated"

	loaded, err := s.Load(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "pipeline", loaded.Workflow)
}
