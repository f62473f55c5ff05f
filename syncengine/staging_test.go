package syncengine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageUploadCommitRoundTrip(t *testing.T) {
	dir := t.TempDir()
	area, err := NewStagingArea(dir)
	require.NoError(t, err)

	id, err := area.StageUpload("/a.txt", []byte("hello"), ChangeCreate)
	require.NoError(t, err)
	require.Len(t, area.List(), 1)

	data, err := area.Payload(id)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, area.Commit(id))
	require.Empty(t, area.List())

	_, err = area.Payload(id)
	require.Error(t, err)
}

func TestStagingAreaSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	area, err := NewStagingArea(dir)
	require.NoError(t, err)

	_, err = area.StageUpload("/a.txt", []byte("hello"), ChangeCreate)
	require.NoError(t, err)
	_, err = area.StageDelete("/b.txt")
	require.NoError(t, err)

	reloaded, err := NewStagingArea(dir)
	require.NoError(t, err)
	require.Len(t, reloaded.List(), 2)
}

func TestCleanupOrphanedPayload(t *testing.T) {
	dir := t.TempDir()
	area, err := NewStagingArea(dir)
	require.NoError(t, err)

	id, err := area.StageUpload("/a.txt", []byte("hello"), ChangeCreate)
	require.NoError(t, err)

	// Drop the registry entry directly without going through Commit, to
	// simulate a crash that left the payload file behind.
	area.mu.Lock()
	delete(area.entries, id)
	area.mu.Unlock()

	require.NoError(t, area.CleanupOrphaned())
	_, err = os.Stat(payloadPath(dir, id))
	require.True(t, os.IsNotExist(err), "orphaned payload file must be removed")
}

func TestRollbackIsEquivalentToCommit(t *testing.T) {
	dir := t.TempDir()
	area, err := NewStagingArea(dir)
	require.NoError(t, err)

	id, err := area.StageUpload("/a.txt", []byte("hello"), ChangeCreate)
	require.NoError(t, err)
	require.NoError(t, area.Rollback(id))
	require.Empty(t, area.List())
}
