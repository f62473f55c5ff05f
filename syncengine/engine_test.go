package syncengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"axiomvault/cryptocore"
	"axiomvault/storageprovider"
	"axiomvault/vault"
)

func newTestEngine(t *testing.T) (*Engine, *vault.VaultSession, storageprovider.StorageProvider) {
	t.Helper()
	provider := storageprovider.NewMemoryProvider()
	cfg, master, err := vault.NewVaultConfig("vault-1", "correct horse battery staple", "memory", nil, cryptocore.ModerateParams())
	require.NoError(t, err)
	master.Zero()

	ctx := context.Background()
	session, err := vault.Unlock(ctx, cfg, "correct horse battery staple", provider)
	require.NoError(t, err)

	dir := t.TempDir()
	staging, err := NewStagingArea(dir)
	require.NoError(t, err)
	state, err := NewSyncState(filepath.Join(dir, "sync_state.json"))
	require.NoError(t, err)

	engineCfg := DefaultConfig()
	engineCfg.Retry.InitialDelay = 0
	engine := NewEngine(session, provider, staging, state, engineCfg, nil)
	return engine, session, provider
}

func TestSyncFullDrainsCleanUpload(t *testing.T) {
	engine, session, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := session.CreateFile(ctx, vault.ParseVaultPath("/a.txt"), []byte("placeholder"))
	require.NoError(t, err)

	_, err = engine.Staging.StageUpload("/a.txt", []byte("new content"), ChangeUpdate)
	require.NoError(t, err)
	require.NoError(t, engine.State.OnLocalWrite("/a.txt", "local-etag"))

	counters, err := engine.SyncFull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counters.FilesSynced)
	require.Empty(t, engine.Staging.List())

	data, err := session.ReadFile(ctx, vault.ParseVaultPath("/a.txt"))
	require.NoError(t, err)
	require.Equal(t, "new content", string(data))
	require.Equal(t, StatusSynced, engine.State.Get("/a.txt").Status)
}

func TestSyncFullDrainsStagedDelete(t *testing.T) {
	engine, session, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := session.CreateFile(ctx, vault.ParseVaultPath("/a.txt"), []byte("x"))
	require.NoError(t, err)

	_, err = engine.Staging.StageDelete("/a.txt")
	require.NoError(t, err)

	counters, err := engine.SyncFull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counters.FilesSynced)

	require.False(t, session.Exists(ctx, vault.ParseVaultPath("/a.txt")))
}

func TestSyncFullCreatesNewStagedFile(t *testing.T) {
	engine, session, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Staging.StageUpload("/new.txt", []byte("brand new"), ChangeCreate)
	require.NoError(t, err)
	require.NoError(t, engine.State.OnLocalWrite("/new.txt", "local-etag"))

	counters, err := engine.SyncFull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counters.FilesSynced)

	data, err := session.ReadFile(ctx, vault.ParseVaultPath("/new.txt"))
	require.NoError(t, err)
	require.Equal(t, "brand new", string(data))
}

// TestSyncFullAutoResolvesConflictPreferLocal mirrors S5's three-etag setup
// (local moved, remote moved, both away from the last-known baseline)
// through the real engine/state machine, not just the ContentSource mock in
// conflict_test.go: drainOne must detect the conflict, auto-resolve it with
// PreferLocal, and actually commit the staged change instead of leaking it.
func TestSyncFullAutoResolvesConflictPreferLocal(t *testing.T) {
	engine, session, _ := newTestEngine(t)
	engine.Config.AutoResolveConflicts = true
	engine.Config.DefaultStrategy = PreferLocal
	ctx := context.Background()

	_, err := session.CreateFile(ctx, vault.ParseVaultPath("/a.txt"), []byte("v0"))
	require.NoError(t, err)

	// Establish a prior successful sync with a baseline remote etag that is
	// neither the live remote etag nor the staged local etag, so both sides
	// read as "moved" once drainOne re-fetches the real remote metadata.
	require.NoError(t, engine.State.FinishSyncSuccess("/a.txt", "baseline-etag"))
	_, err = engine.Staging.StageUpload("/a.txt", []byte("v1-local"), ChangeUpdate)
	require.NoError(t, err)
	require.NoError(t, engine.State.OnLocalWrite("/a.txt", "stale-local-etag"))

	counters, err := engine.SyncFull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counters.ConflictsFound)
	require.Equal(t, 1, counters.FilesSynced)
	require.Empty(t, engine.Staging.List())

	data, err := session.ReadFile(ctx, vault.ParseVaultPath("/a.txt"))
	require.NoError(t, err)
	require.Equal(t, "v1-local", string(data))
	require.Equal(t, StatusSynced, engine.State.Get("/a.txt").Status)
}

// TestSyncFullAutoResolvesConflictKeepBoth mirrors S5 with the KeepBoth
// strategy: the renamed conflict copy must appear alongside the original
// path adopting the remote side, both ending Synced.
func TestSyncFullAutoResolvesConflictKeepBoth(t *testing.T) {
	engine, session, _ := newTestEngine(t)
	engine.Config.AutoResolveConflicts = true
	engine.Config.DefaultStrategy = KeepBoth
	ctx := context.Background()

	_, err := session.CreateFile(ctx, vault.ParseVaultPath("/note.txt"), []byte("remote-content"))
	require.NoError(t, err)

	require.NoError(t, engine.State.FinishSyncSuccess("/note.txt", "baseline-etag"))
	_, err = engine.Staging.StageUpload("/note.txt", []byte("local-content"), ChangeUpdate)
	require.NoError(t, err)
	require.NoError(t, engine.State.OnLocalWrite("/note.txt", "stale-local-etag"))

	counters, err := engine.SyncFull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counters.ConflictsFound)
	require.Empty(t, engine.Staging.List())

	// The original path adopted the remote side untouched.
	data, err := session.ReadFile(ctx, vault.ParseVaultPath("/note.txt"))
	require.NoError(t, err)
	require.Equal(t, "remote-content", string(data))
	require.Equal(t, StatusSynced, engine.State.Get("/note.txt").Status)

	// Exactly one conflict-copy path was created, carrying the local content.
	var copyPath string
	for _, e := range engine.State.All() {
		if e.Path != "/note.txt" {
			copyPath = e.Path
		}
	}
	require.NotEmpty(t, copyPath)
	require.Contains(t, copyPath, "note_conflict_")
	copyData, err := session.ReadFile(ctx, vault.ParseVaultPath(copyPath))
	require.NoError(t, err)
	require.Equal(t, "local-content", string(copyData))
	require.Equal(t, StatusSynced, engine.State.Get(copyPath).Status)
}

func TestSyncPathsRestrictsToNamedPaths(t *testing.T) {
	engine, session, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := session.CreateFile(ctx, vault.ParseVaultPath("/a.txt"), []byte("a"))
	require.NoError(t, err)
	_, err = session.CreateFile(ctx, vault.ParseVaultPath("/b.txt"), []byte("b"))
	require.NoError(t, err)

	_, err = engine.Staging.StageUpload("/a.txt", []byte("a2"), ChangeUpdate)
	require.NoError(t, err)
	_, err = engine.Staging.StageUpload("/b.txt", []byte("b2"), ChangeUpdate)
	require.NoError(t, err)

	require.NoError(t, engine.SyncPaths(ctx, []string{"/a.txt"}))

	remaining := engine.Staging.List()
	require.Len(t, remaining, 1)
	require.Equal(t, "/b.txt", remaining[0].Path)
}
