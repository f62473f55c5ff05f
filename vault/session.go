package vault

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"axiomvault/cryptocore"
	"axiomvault/storageprovider"
	"axiomvault/vaulterr"
)

// SessionState is either Active (key material loaded) or Locked.
type SessionState string

const (
	StateActive SessionState = "active"
	StateLocked SessionState = "locked"
)

// VaultSession holds the unlocked key material and mediates every vault
// operation. Tree access is guarded by a readers-writer lock;
// readers (list, read) hold it shared, mutators hold it exclusive.
type VaultSession struct {
	Handle string
	Config *VaultConfig

	keyMu     sync.Mutex
	masterKey *cryptocore.MasterKey
	state     SessionState

	Provider storageprovider.StorageProvider

	treeMu sync.RWMutex
	tree   *VaultTree

	orphanMu sync.Mutex
	orphans  []string

	log *logrus.Entry
}

// Unlock verifies the password, derives the master key, loads (or
// initializes) the tree, and returns an Active session.
func Unlock(ctx context.Context, cfg *VaultConfig, password string, provider storageprovider.StorageProvider) (*VaultSession, error) {
	ok, master, err := VerifyPassword(cfg, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, vaulterr.NotPermittedf("incorrect password")
	}

	s := &VaultSession{
		Handle:    uuid.NewString(),
		Config:    cfg,
		masterKey: master,
		state:     StateActive,
		Provider:  provider,
		log:       logrus.WithFields(logrus.Fields{"component": "vault", "vault_id": cfg.ID}),
	}

	tree, err := s.loadOrInitTree(ctx)
	if err != nil {
		master.Zero()
		return nil, err
	}
	s.tree = tree

	orphans, err := s.loadOrphans(ctx)
	if err != nil {
		s.log.WithError(err).Warn("failed to load orphan list, starting empty")
		orphans = nil
	}
	s.orphans = orphans

	return s, nil
}

func (s *VaultSession) loadOrInitTree(ctx context.Context) (*VaultTree, error) {
	exists, err := s.Provider.Exists(ctx, TreeStoragePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return NewVaultTree(), nil
	}
	blob, err := s.Provider.Download(ctx, TreeStoragePath)
	if err != nil {
		return nil, err
	}
	plaintext, err := cryptocore.Decrypt(s.masterKey.Bytes(), blob)
	if err != nil {
		return nil, err
	}
	return TreeFromJSON(plaintext)
}

func (s *VaultSession) loadOrphans(ctx context.Context) ([]string, error) {
	exists, err := s.Provider.Exists(ctx, OrphansStoragePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	blob, err := s.Provider.Download(ctx, OrphansStoragePath)
	if err != nil {
		return nil, err
	}
	plaintext, err := cryptocore.Decrypt(s.masterKey.Bytes(), blob)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(plaintext, &names); err != nil {
		return nil, vaulterr.SerializationWrap(err, "unmarshal orphan list")
	}
	return names, nil
}

// saveTreeLocked persists the tree blob. Caller must hold treeMu (any
// mode, since this only reads the tree under the lock the caller already
// has).
func (s *VaultSession) saveTreeLocked(ctx context.Context) error {
	plaintext, err := s.tree.ToJSON()
	if err != nil {
		return err
	}
	key, err := s.masterKeyBytes()
	if err != nil {
		return err
	}
	blob, err := cryptocore.Encrypt(key, plaintext)
	if err != nil {
		return err
	}
	_, err = s.Provider.Upload(ctx, TreeStoragePath, blob)
	return err
}

func (s *VaultSession) saveOrphans(ctx context.Context) error {
	s.orphanMu.Lock()
	names := append([]string(nil), s.orphans...)
	s.orphanMu.Unlock()

	plaintext, err := json.Marshal(names)
	if err != nil {
		return vaulterr.SerializationWrap(err, "marshal orphan list")
	}
	blob, err := cryptocore.Encrypt(s.masterKey.Bytes(), plaintext)
	if err != nil {
		return err
	}
	_, err = s.Provider.Upload(ctx, OrphansStoragePath, blob)
	return err
}

// recordOrphan appends an encrypted name to the orphan list after a
// provider-side delete failed after the tree removal already committed.
func (s *VaultSession) recordOrphan(ctx context.Context, encryptedName string) {
	s.orphanMu.Lock()
	s.orphans = append(s.orphans, encryptedName)
	s.orphanMu.Unlock()
	if err := s.saveOrphans(ctx); err != nil {
		s.log.WithError(err).Error("failed to persist orphan list")
	}
}

// SweepOrphans retries provider deletion for every blob recorded as
// orphaned. Never invoked automatically; a caller (CLI, scheduled
// maintenance job) must request it explicitly.
func (s *VaultSession) SweepOrphans(ctx context.Context) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	s.orphanMu.Lock()
	pending := append([]string(nil), s.orphans...)
	s.orphanMu.Unlock()

	var remaining []string
	for _, encryptedName := range pending {
		err := s.Provider.Delete(ctx, DataDirPrefix+encryptedName)
		if err != nil && !vaulterr.Is(err, vaulterr.NotFound) {
			s.log.WithError(err).WithField("blob", encryptedName).Warn("orphan sweep: delete still failing")
			remaining = append(remaining, encryptedName)
			continue
		}
		s.log.WithField("blob", encryptedName).Info("orphan sweep: reclaimed blob")
	}

	s.orphanMu.Lock()
	s.orphans = remaining
	s.orphanMu.Unlock()
	return s.saveOrphans(ctx)
}

func (s *VaultSession) requireActive() error {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if s.state != StateActive || s.masterKey == nil {
		return vaulterr.NotPermittedf("session is locked")
	}
	return nil
}

// masterKeyBytes returns the live master key bytes for use inside a single
// synchronous operation. Callers must not retain the slice.
func (s *VaultSession) masterKeyBytes() ([]byte, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if s.state != StateActive || s.masterKey == nil {
		return nil, vaulterr.NotPermittedf("session is locked")
	}
	return s.masterKey.Bytes(), nil
}

// Lock zeroizes the master key and transitions to Locked.
// Further operations requiring the key fail with NotPermitted.
func (s *VaultSession) Lock() {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if s.masterKey != nil {
		s.masterKey.Zero()
		s.masterKey = nil
	}
	s.state = StateLocked
}

// State reports whether the session is Active or Locked.
func (s *VaultSession) State() SessionState {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	return s.state
}

// ChangePassword is permitted only when Active; re-derives using a fresh
// salt and swaps the master key atomically inside the session.
func (s *VaultSession) ChangePassword(ctx context.Context, newPassword string) error {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if s.state != StateActive || s.masterKey == nil {
		return vaulterr.NotPermittedf("session is locked")
	}
	newMaster, err := ChangePassword(s.Config, newPassword)
	if err != nil {
		return err
	}

	s.treeMu.RLock()
	plaintext, err := s.tree.ToJSON()
	s.treeMu.RUnlock()
	if err != nil {
		newMaster.Zero()
		return err
	}
	blob, err := cryptocore.Encrypt(newMaster.Bytes(), plaintext)
	if err != nil {
		newMaster.Zero()
		return err
	}
	if _, err := s.Provider.Upload(ctx, TreeStoragePath, blob); err != nil {
		newMaster.Zero()
		return err
	}

	if _, err := s.Provider.Upload(ctx, ConfigStoragePath, mustMarshalConfig(s.Config)); err != nil {
		newMaster.Zero()
		return err
	}

	// The orphan list is AEAD-encrypted under the master key exactly like
	// the tree blob, so it must be rewrapped here too: otherwise the next
	// Unlock derives the new master key, fails to decrypt the still-old-key
	// orphans.json, and loadOrphans silently resets the list to empty,
	// leaking those blobs forever instead of leaving them swept.
	s.orphanMu.Lock()
	orphanNames := append([]string(nil), s.orphans...)
	s.orphanMu.Unlock()
	orphanPlaintext, err := json.Marshal(orphanNames)
	if err != nil {
		newMaster.Zero()
		return vaulterr.SerializationWrap(err, "marshal orphan list")
	}
	orphanBlob, err := cryptocore.Encrypt(newMaster.Bytes(), orphanPlaintext)
	if err != nil {
		newMaster.Zero()
		return err
	}
	if _, err := s.Provider.Upload(ctx, OrphansStoragePath, orphanBlob); err != nil {
		newMaster.Zero()
		return err
	}

	s.masterKey.Zero()
	s.masterKey = newMaster
	return nil
}

func mustMarshalConfig(cfg *VaultConfig) []byte {
	data, err := MarshalConfig(cfg)
	if err != nil {
		// MarshalConfig only fails on a non-serializable VaultConfig, which
		// would be a programmer error, not a runtime condition callers
		// should recover from.
		panic(err)
	}
	return data
}
