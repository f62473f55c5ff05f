package syncengine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"axiomvault/storageprovider"
	"axiomvault/vault"
	"axiomvault/vaulterr"
)

// Counters summarizes the outcome of a sync pass.
type Counters struct {
	FilesSynced    int
	FilesFailed    int
	ConflictsFound int
	Duration       time.Duration
}

// Config tunes a single Engine instance.
type Config struct {
	AutoResolveConflicts bool
	DefaultStrategy      ConflictStrategy
	Retry                RetryConfig
}

func DefaultConfig() Config {
	return Config{
		AutoResolveConflicts: false,
		DefaultStrategy:      Manual,
		Retry:                DefaultRetryConfig(),
	}
}

// Engine orchestrates staging, conflict detection/resolution, and the
// four-phase sync pipeline against a single vault session. Its Provider is
// the same storage backend the vault session writes content blobs to; the
// engine's job is reconciling locally staged edits against concurrent
// remote changes on that same backend.
type Engine struct {
	Session  *vault.VaultSession
	Provider storageprovider.StorageProvider
	Staging  *StagingArea
	State    *SyncState
	Config   Config

	retry *RetryExecutor
	store SyncStateStore
	log   *logrus.Entry

	LastFullSync time.Time
}

// NewEngine wires a sync engine around an unlocked vault session. store may
// be nil, in which case SyncEntry rows are only persisted via SyncState's
// local JSON document.
func NewEngine(session *vault.VaultSession, provider storageprovider.StorageProvider, staging *StagingArea, state *SyncState, cfg Config, store SyncStateStore) *Engine {
	return &Engine{
		Session:  session,
		Provider: provider,
		Staging:  staging,
		State:    state,
		Config:   cfg,
		retry:    NewRetryExecutor(cfg.Retry),
		store:    store,
		log:      logrus.WithField("component", "sync_engine"),
	}
}

// SyncFull runs the four-phase pipeline over every staged change and every
// tracked path.
func (e *Engine) SyncFull(ctx context.Context) (Counters, error) {
	start := time.Now()
	counters := Counters{}

	// Phase 1: drain staging.
	for _, change := range e.Staging.List() {
		if err := ctx.Err(); err != nil {
			return counters, vaulterr.NetworkWrap(err, "sync full: context cancelled")
		}
		if err := e.drainOne(ctx, change, &counters); err != nil {
			e.log.WithError(err).WithField("path", change.Path).Warn("drain staging: change left unresolved")
		}
	}

	// Phase 2: probe remote for every tracked path.
	tracked := e.State.All()
	for _, entry := range tracked {
		if err := e.probeOne(ctx, entry.Path); err != nil {
			e.log.WithError(err).WithField("path", entry.Path).Warn("probe remote: metadata fetch failed")
		}
	}

	// Phase 3: pull remote changes.
	for _, entry := range e.State.All() {
		if entry.Status != StatusRemoteModified {
			continue
		}
		if err := e.pullOne(ctx, entry.Path); err != nil {
			counters.FilesFailed++
			e.log.WithError(err).WithField("path", entry.Path).Warn("pull remote changes: failed")
			continue
		}
		counters.FilesSynced++
	}

	// Phase 4: mark last_full_sync, persist to the optional backing store.
	e.LastFullSync = time.Now().UTC()
	counters.Duration = time.Since(start)
	if e.store != nil {
		if err := e.store.PersistAll(ctx, e.State.All()); err != nil {
			e.log.WithError(err).Warn("optional sync-state backing store persist failed")
		}
	}
	return counters, nil
}

// SyncPaths performs steps 1-3 restricted to the named paths.
func (e *Engine) SyncPaths(ctx context.Context, paths []string) error {
	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		wanted[p] = true
	}

	for _, change := range e.Staging.List() {
		if !wanted[change.Path] {
			continue
		}
		var counters Counters
		if err := e.drainOne(ctx, change, &counters); err != nil {
			e.log.WithError(err).WithField("path", change.Path).Warn("sync paths: drain failed")
		}
	}
	for _, p := range paths {
		if err := e.probeOne(ctx, p); err != nil {
			e.log.WithError(err).WithField("path", p).Warn("sync paths: probe failed")
			continue
		}
		entry := e.State.Get(p)
		if entry.Status == StatusRemoteModified {
			if err := e.pullOne(ctx, p); err != nil {
				e.log.WithError(err).WithField("path", p).Warn("sync paths: pull failed")
			}
		}
	}
	return nil
}

func (e *Engine) drainOne(ctx context.Context, change StagedChange, counters *Counters) error {
	if change.Kind == ChangeDelete {
		return e.drainDelete(ctx, change, counters)
	}

	vaultPath := vault.ParseVaultPath(change.Path)
	entry := e.State.Get(change.Path)

	remoteMeta, fetchErr := e.fetchRemoteMetadata(ctx, vaultPath)
	conflict := false
	remoteEtag := entry.RemoteEtag
	switch {
	case fetchErr == nil:
		remoteEtag = remoteMeta.ETag
		// A path with no established baseline yet (never synced
		// successfully) has nothing to conflict against: the first sync
		// always adopts whatever is on the provider as the new baseline.
		if entry.LastKnownRemote != "" {
			conflict = HasConflict(entry.LocalEtag, remoteEtag, entry.LastKnownRemote)
		}
	case vaulterr.Is(fetchErr, vaulterr.NotFound):
		// No remote object yet: nothing to conflict with.
	default:
		return fetchErr
	}

	if conflict {
		counters.ConflictsFound++
		if e.Config.AutoResolveConflicts {
			data, err := e.Staging.Payload(change.ID)
			if err != nil {
				return err
			}
			result, err := Resolve(ctx, e.Config.DefaultStrategy, change.Path, data, e, time.Now())
			if err != nil {
				_ = e.State.FinishSyncError(change.Path, err)
				return err
			}
			// The entry here is still LocalModified (drain runs before
			// phase 2's probe ever observes the remote side), never
			// Conflicted, so ResolveConflict's "must be Conflicted"
			// precondition would reject it even though Resolve already
			// did the authoritative upload/adopt. Finalize straight to
			// Synced with the etag Resolve produced instead.
			if err := e.State.FinishSyncSuccess(change.Path, result.RemoteEtag); err != nil {
				return err
			}
			if result.CopyPath != "" {
				if err := e.State.FinishSyncSuccess(result.CopyPath, result.CopyEtag); err != nil {
					return err
				}
			}
			counters.FilesSynced++
			return e.Staging.Commit(change.ID)
		}
		return e.State.OnRemoteChangeObserved(change.Path, remoteEtag)
	}

	data, err := e.Staging.Payload(change.ID)
	if err != nil {
		return err
	}
	newEtag, err := e.uploadToVault(ctx, vaultPath, data, change.Kind)
	if err != nil {
		_ = e.State.FinishSyncError(change.Path, err)
		counters.FilesFailed++
		return err
	}
	if err := e.State.FinishSyncSuccess(change.Path, newEtag); err != nil {
		return err
	}
	counters.FilesSynced++
	return e.Staging.Commit(change.ID)
}

func (e *Engine) drainDelete(ctx context.Context, change StagedChange, counters *Counters) error {
	vaultPath := vault.ParseVaultPath(change.Path)
	err := e.retry.Run(ctx, func(ctx context.Context) error {
		return e.Session.DeleteFile(ctx, vaultPath)
	})
	if err != nil && !vaulterr.Is(err, vaulterr.NotFound) {
		_ = e.State.FinishSyncError(change.Path, err)
		counters.FilesFailed++
		return err
	}
	if err := e.State.FinishSyncSuccess(change.Path, ""); err != nil {
		return err
	}
	counters.FilesSynced++
	return e.Staging.Commit(change.ID)
}

// probeOne fetches remote metadata for path via the retry executor and
// updates the tracked entry's etag/status.
func (e *Engine) probeOne(ctx context.Context, path string) error {
	vaultPath := vault.ParseVaultPath(path)
	meta, err := e.fetchRemoteMetadata(ctx, vaultPath)
	if err != nil {
		if vaulterr.Is(err, vaulterr.NotFound) {
			return nil
		}
		return err
	}
	entry := e.State.Get(path)
	if meta.ETag == entry.RemoteEtag {
		return nil
	}
	return e.State.OnRemoteChangeObserved(path, meta.ETag)
}

// pullOne downloads path's current remote content and hands it to the
// vault engine for re-encryption into the local tree. The clean-update
// case (remote moved, local didn't) overwrites via UpdateFile; a
// simultaneously-dirty local side was already folded into Conflicted by
// OnRemoteChangeObserved/OnLocalWrite and is left for conflict resolution
// instead of being silently clobbered here.
func (e *Engine) pullOne(ctx context.Context, path string) error {
	entry := e.State.Get(path)
	if entry.Status != StatusRemoteModified {
		return nil
	}
	if _, err := e.State.BeginSync(path); err != nil {
		return err
	}

	vaultPath := vault.ParseVaultPath(path)
	var data []byte
	err := e.retry.Run(ctx, func(ctx context.Context) error {
		// The encrypted-name derivation is deterministic from the shared
		// master key and tree position, so the same storage object backs
		// this path regardless of which device wrote it: a plain
		// ReadFile through the local session decrypts it correctly.
		d, rerr := e.Session.ReadFile(ctx, vaultPath)
		if rerr != nil {
			return rerr
		}
		data = d
		return nil
	})
	if err != nil {
		_ = e.State.FinishSyncError(path, err)
		return err
	}

	if _, err := e.Session.UpdateFile(ctx, vaultPath, data); err != nil {
		_ = e.State.FinishSyncError(path, err)
		return err
	}
	meta, err := e.fetchRemoteMetadata(ctx, vaultPath)
	if err != nil {
		_ = e.State.FinishSyncError(path, err)
		return err
	}
	return e.State.FinishSyncSuccess(path, meta.ETag)
}

func (e *Engine) fetchRemoteMetadata(ctx context.Context, p vault.VaultPath) (storageprovider.Metadata, error) {
	nodeMeta, err := e.Session.Metadata(ctx, p)
	if err != nil {
		return storageprovider.Metadata{}, err
	}
	var result storageprovider.Metadata
	err = e.retry.Run(ctx, func(ctx context.Context) error {
		m, merr := e.Provider.GetMetadata(ctx, vault.DataDirPrefix+nodeMeta.EncryptedName)
		if merr != nil {
			return merr
		}
		result = m
		return nil
	})
	return result, err
}

func (e *Engine) uploadToVault(ctx context.Context, p vault.VaultPath, data []byte, kind ChangeType) (string, error) {
	var opErr error
	err := e.retry.Run(ctx, func(ctx context.Context) error {
		switch kind {
		case ChangeCreate:
			if e.Session.Exists(ctx, p) {
				_, opErr = e.Session.UpdateFile(ctx, p, data)
			} else {
				_, opErr = e.Session.CreateFile(ctx, p, data)
			}
		case ChangeUpdate:
			_, opErr = e.Session.UpdateFile(ctx, p, data)
		}
		return opErr
	})
	if err != nil {
		return "", err
	}
	meta, err := e.fetchRemoteMetadata(ctx, p)
	if err != nil {
		return "", err
	}
	return meta.ETag, nil
}

// RecordLocalWrite stages a local file create/update so SyncFull/SyncPaths
// picks it up, and marks the path LocalModified. Callers that write
// straight through Session.CreateFile/UpdateFile (the HTTP handlers, which
// have no business reaching into staging/state themselves) call this right
// after their write succeeds.
func (e *Engine) RecordLocalWrite(ctx context.Context, path string, kind ChangeType, data []byte) error {
	if _, err := e.Staging.StageUpload(path, data, kind); err != nil {
		return err
	}
	localEtag := ""
	if meta, err := e.fetchRemoteMetadata(ctx, vault.ParseVaultPath(path)); err == nil {
		localEtag = meta.ETag
	} else if !vaulterr.Is(err, vaulterr.NotFound) {
		return err
	}
	return e.State.OnLocalWrite(path, localEtag)
}

// RecordLocalDelete stages a local delete and marks the path LocalModified.
func (e *Engine) RecordLocalDelete(path string) error {
	if _, err := e.Staging.StageDelete(path); err != nil {
		return err
	}
	return e.State.OnLocalWrite(path, "")
}

// RecordTreeChange marks path LocalModified without staging a content blob.
// Directory structure lives entirely in the tree manifest that every vault
// operation already persists; there is no separate per-directory content
// blob to enqueue in Staging the way there is for a file create/update.
func (e *Engine) RecordTreeChange(path string) error {
	return e.State.OnLocalWrite(path, "")
}

// ContentSource implementation, used by Resolve during conflict handling.

func (e *Engine) UploadLocal(ctx context.Context, path string, data []byte) (string, error) {
	// ChangeCreate, not ChangeUpdate: KeepBoth calls this against a
	// brand-new conflict-copy path that has no tree node yet, so
	// uploadToVault must be allowed to fall back to CreateFile.
	return e.uploadToVault(ctx, vault.ParseVaultPath(path), data, ChangeCreate)
}

func (e *Engine) AdoptRemote(ctx context.Context, path string) (string, error) {
	if err := e.pullPath(ctx, vault.ParseVaultPath(path)); err != nil {
		return "", err
	}
	meta, err := e.fetchRemoteMetadata(ctx, vault.ParseVaultPath(path))
	if err != nil {
		return "", err
	}
	return meta.ETag, nil
}

func (e *Engine) DownloadRemote(ctx context.Context, path string) ([]byte, error) {
	return e.Session.ReadFile(ctx, vault.ParseVaultPath(path))
}

func (e *Engine) Exists(ctx context.Context, path string) (bool, error) {
	return e.Session.Exists(ctx, vault.ParseVaultPath(path)), nil
}

func (e *Engine) pullPath(ctx context.Context, p vault.VaultPath) error {
	plain, err := e.Session.ReadFile(ctx, p)
	if err != nil {
		return err
	}
	_, err = e.Session.UpdateFile(ctx, p, plain)
	return err
}
