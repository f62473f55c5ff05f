package syncengine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *SyncState {
	t.Helper()
	s, err := NewSyncState(filepath.Join(t.TempDir(), "sync_state.json"))
	require.NoError(t, err)
	return s
}

func TestLocalWriteTransitions(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.OnLocalWrite("/a.txt", "etag-1"))
	require.Equal(t, StatusLocalModified, s.Get("/a.txt").Status)

	require.NoError(t, s.OnRemoteChangeObserved("/a.txt", "remote-1"))
	require.Equal(t, StatusConflicted, s.Get("/a.txt").Status, "local write then remote change must conflict")
}

func TestRemoteChangeOnSyncedBecomesRemoteModified(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.OnRemoteChangeObserved("/a.txt", "remote-1"))
	require.Equal(t, StatusRemoteModified, s.Get("/a.txt").Status)
}

func TestSyncLifecycleSuccess(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.OnLocalWrite("/a.txt", "local-1"))

	prior, err := s.BeginSync("/a.txt")
	require.NoError(t, err)
	require.Equal(t, StatusLocalModified, prior)
	require.Equal(t, StatusSyncing, s.Get("/a.txt").Status)

	require.NoError(t, s.FinishSyncSuccess("/a.txt", "remote-2"))
	entry := s.Get("/a.txt")
	require.Equal(t, StatusSynced, entry.Status)
	require.Equal(t, 0, entry.FailureCount)
	require.Equal(t, "remote-2", entry.LastKnownRemote)
}

func TestSyncLifecycleFailureAndRetry(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.OnLocalWrite("/a.txt", "local-1"))
	_, err := s.BeginSync("/a.txt")
	require.NoError(t, err)

	require.NoError(t, s.FinishSyncError("/a.txt", errBoom))
	entry := s.Get("/a.txt")
	require.Equal(t, StatusFailed, entry.Status)
	require.Equal(t, 1, entry.FailureCount)

	status, err := s.AdmitRetry("/a.txt", 3)
	require.NoError(t, err)
	require.Equal(t, StatusLocalModified, status)
}

func TestAdmitRetryRefusesAtMax(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.OnLocalWrite("/a.txt", "local-1"))
	for i := 0; i < 3; i++ {
		_, err := s.BeginSync("/a.txt")
		require.NoError(t, err)
		require.NoError(t, s.FinishSyncError("/a.txt", errBoom))
		if i < 2 {
			_, err = s.AdmitRetry("/a.txt", 3)
			require.NoError(t, err)
		}
	}
	_, err := s.AdmitRetry("/a.txt", 3)
	require.Error(t, err)
}

func TestResolveConflictRequiresConflictedStatus(t *testing.T) {
	s := newTestState(t)
	err := s.ResolveConflict("/a.txt", "remote-1")
	require.Error(t, err)

	require.NoError(t, s.OnLocalWrite("/a.txt", "local-1"))
	require.NoError(t, s.OnRemoteChangeObserved("/a.txt", "remote-1"))
	require.NoError(t, s.ResolveConflict("/a.txt", "remote-1"))
	require.Equal(t, StatusSynced, s.Get("/a.txt").Status)
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

var errBoom = sentinelErr("boom")
