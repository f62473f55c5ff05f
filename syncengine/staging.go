package syncengine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"axiomvault/vaulterr"
)

// ChangeType distinguishes a staged upload from a staged deletion.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// StagedChange is one pending local mutation waiting to be synced.
type StagedChange struct {
	ID        string     `json:"id"`
	Path      string     `json:"path"`
	Kind      ChangeType `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
}

// StagingArea is a local-disk staging directory plus a JSON registry of
// pending changes. The registry is always written atomically (temp file
// then rename) so a crash mid-write never leaves a torn registry, unlike a
// direct in-place overwrite.
type StagingArea struct {
	baseDir      string
	registryPath string

	mu      sync.Mutex
	entries map[string]StagedChange
}

func payloadPath(baseDir, id string) string {
	return filepath.Join(baseDir, "staging", id)
}

// NewStagingArea opens (or initializes) a staging area rooted at baseDir.
func NewStagingArea(baseDir string) (*StagingArea, error) {
	stagingDir := filepath.Join(baseDir, "staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, vaulterr.IoWrap(err, "create staging dir")
	}
	s := &StagingArea{
		baseDir:      baseDir,
		registryPath: filepath.Join(baseDir, "staging_registry.json"),
		entries:      make(map[string]StagedChange),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StagingArea) load() error {
	data, err := os.ReadFile(s.registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return vaulterr.IoWrap(err, "read staging registry")
	}
	var entries []StagedChange
	if err := json.Unmarshal(data, &entries); err != nil {
		return vaulterr.SerializationWrap(err, "unmarshal staging registry")
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return nil
}

// persistLocked writes the registry via temp-file-then-rename. Caller must
// hold s.mu.
func (s *StagingArea) persistLocked() error {
	list := make([]StagedChange, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return vaulterr.SerializationWrap(err, "marshal staging registry")
	}
	tmp := s.registryPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return vaulterr.IoWrap(err, "write staging registry temp file")
	}
	if err := os.Rename(tmp, s.registryPath); err != nil {
		return vaulterr.IoWrap(err, "rename staging registry into place")
	}
	return nil
}

// StageUpload copies data into the staging directory and records a
// Create/Update StagedChange.
func (s *StagingArea) StageUpload(path string, data []byte, kind ChangeType) (string, error) {
	if kind != ChangeCreate && kind != ChangeUpdate {
		return "", vaulterr.InvalidInputf("stage upload kind must be create or update, got %q", kind)
	}
	id := uuid.NewString()
	if err := os.WriteFile(payloadPath(s.baseDir, id), data, 0o644); err != nil {
		return "", vaulterr.IoWrap(err, "write staged payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = StagedChange{ID: id, Path: path, Kind: kind, CreatedAt: time.Now().UTC()}
	if err := s.persistLocked(); err != nil {
		os.Remove(payloadPath(s.baseDir, id))
		delete(s.entries, id)
		return "", err
	}
	return id, nil
}

// StageDelete records a Delete-kind change with no payload.
func (s *StagingArea) StageDelete(path string) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = StagedChange{ID: id, Path: path, Kind: ChangeDelete, CreatedAt: time.Now().UTC()}
	if err := s.persistLocked(); err != nil {
		delete(s.entries, id)
		return "", err
	}
	return id, nil
}

// Payload returns the staged bytes for an upload/update change.
func (s *StagingArea) Payload(id string) ([]byte, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return nil, vaulterr.NotFoundf("no staged change %q", id)
	}
	if entry.Kind == ChangeDelete {
		return nil, vaulterr.InvalidInputf("staged change %q has no payload", id)
	}
	data, err := os.ReadFile(payloadPath(s.baseDir, id))
	if err != nil {
		return nil, vaulterr.IoWrap(err, "read staged payload %q", id)
	}
	return data, nil
}

// Commit removes the payload and registry entry for id.
func (s *StagingArea) Commit(id string) error {
	return s.dispose(id)
}

// Rollback is equivalent disposal to Commit: both discard the staged
// change, the only difference being caller intent.
func (s *StagingArea) Rollback(id string) error {
	return s.dispose(id)
}

func (s *StagingArea) dispose(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return vaulterr.NotFoundf("no staged change %q", id)
	}
	delete(s.entries, id)
	if err := s.persistLocked(); err != nil {
		return err
	}
	os.Remove(payloadPath(s.baseDir, id))
	return nil
}

// List returns a snapshot of every currently staged change.
func (s *StagingArea) List() []StagedChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StagedChange, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// CleanupOrphaned sweeps payload files that no registry entry references,
// e.g. left behind by a crash between StageUpload's disk write and its
// registry persist.
func (s *StagingArea) CleanupOrphaned() error {
	stagingDir := filepath.Join(s.baseDir, "staging")
	files, err := os.ReadDir(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return vaulterr.IoWrap(err, "list staging dir")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		if _, ok := s.entries[f.Name()]; ok {
			continue
		}
		os.Remove(filepath.Join(stagingDir, f.Name()))
	}
	return nil
}
