// Package httpapi adapts the Gin HTTP surface to vault.VaultSession and
// syncengine.Engine: one unlocked vault per logged-in user, reconciled
// against its backing storage by its own sync engine and scheduler.
package httpapi

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"axiomvault/config"
	"axiomvault/storageprovider"
	"axiomvault/syncengine"
	"axiomvault/vault"
	"axiomvault/vaulterr"
)

var log = logrus.WithField("component", "httpapi")

// LiveVault bundles everything a request handler needs for one
// authenticated user's open vault.
type LiveVault struct {
	Session   *vault.VaultSession
	Engine    *syncengine.Engine
	Scheduler *syncengine.SyncScheduler

	cancel context.CancelFunc
}

// VaultManager owns the lifecycle of every currently-unlocked vault. At
// most one LiveVault exists per user at a time, matching the no
// concurrent-multi-writer scope of a personal vault.
type VaultManager struct {
	cfg *config.Config

	mu   sync.Mutex
	live map[string]*LiveVault // userID -> LiveVault

	store syncengine.SyncStateStore
}

func NewVaultManager(cfg *config.Config, store syncengine.SyncStateStore) *VaultManager {
	return &VaultManager{
		cfg:   cfg,
		live:  make(map[string]*LiveVault),
		store: store,
	}
}

func (m *VaultManager) userDir(userID string) string {
	return filepath.Join(m.cfg.BaseDir, userID)
}

func (m *VaultManager) stagingDir(userID string) string {
	return filepath.Join(m.cfg.BaseDir, "_staging", userID)
}

// ProvisionVault creates a brand-new vault for userID, deriving its key
// hierarchy from password, and persists the config to the user's provider
// root. Implements auth.VaultProvisioner.
func (m *VaultManager) ProvisionVault(ctx context.Context, userID, password string) (string, error) {
	vaultID := uuid.NewString()
	provider, err := storageprovider.NewLocalProvider(m.userDir(userID))
	if err != nil {
		return "", err
	}

	cfg, master, err := vault.NewVaultConfig(vaultID, password, "local", nil, m.cfg.KdfParams())
	if err != nil {
		return "", err
	}
	master.Zero()

	data, err := vault.MarshalConfig(cfg)
	if err != nil {
		return "", err
	}
	if _, err := provider.Upload(ctx, vault.ConfigStoragePath, data); err != nil {
		return "", err
	}
	log.WithFields(logrus.Fields{"user_id": userID, "vault_id": vaultID}).Info("vault provisioned")
	return vaultID, nil
}

// Open unlocks userID's vault with password, starting its sync engine and
// scheduler, and registers it as the live vault for that user. If the user
// already has a live vault, that one is returned unchanged and password is
// not checked again.
func (m *VaultManager) Open(ctx context.Context, userID, password string) (*LiveVault, error) {
	m.mu.Lock()
	if existing, ok := m.live[userID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	provider, err := storageprovider.NewLocalProvider(m.userDir(userID))
	if err != nil {
		return nil, err
	}
	exists, err := provider.Exists(ctx, vault.ConfigStoragePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, vaulterr.NotFoundf("no vault provisioned for user %q", userID)
	}
	raw, err := provider.Download(ctx, vault.ConfigStoragePath)
	if err != nil {
		return nil, err
	}
	cfg, err := vault.UnmarshalConfig(raw)
	if err != nil {
		return nil, err
	}

	session, err := vault.Unlock(ctx, cfg, password, provider)
	if err != nil {
		return nil, err
	}

	staging, err := syncengine.NewStagingArea(m.stagingDir(userID))
	if err != nil {
		session.Lock()
		return nil, err
	}
	state, err := syncengine.NewSyncState(filepath.Join(m.stagingDir(userID), "sync_state.json"))
	if err != nil {
		session.Lock()
		return nil, err
	}

	engineCfg := syncengine.DefaultConfig()
	engine := syncengine.NewEngine(session, provider, staging, state, engineCfg, m.store)
	scheduler := syncengine.NewSyncScheduler(engine, m.cfg.SyncMode, m.cfg.SyncInterval)

	runCtx, cancel := context.WithCancel(context.Background())
	go scheduler.Run(runCtx)

	lv := &LiveVault{Session: session, Engine: engine, Scheduler: scheduler, cancel: cancel}

	m.mu.Lock()
	m.live[userID] = lv
	m.mu.Unlock()

	log.WithField("user_id", userID).Info("vault unlocked")
	return lv, nil
}

// Get returns the already-open LiveVault for userID, if any.
func (m *VaultManager) Get(userID string) (*LiveVault, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lv, ok := m.live[userID]
	return lv, ok
}

// Close locks userID's vault, stops its scheduler, and drops it from the
// live set.
func (m *VaultManager) Close(userID string) {
	m.mu.Lock()
	lv, ok := m.live[userID]
	if ok {
		delete(m.live, userID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	lv.Scheduler.Enqueue(syncengine.SyncRequest{Kind: syncengine.RequestShutdown})
	lv.cancel()
	lv.Session.Lock()
	log.WithField("user_id", userID).Info("vault locked")
}
