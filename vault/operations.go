package vault

import (
	"bytes"
	"context"
	"time"

	"axiomvault/cryptocore"
	"axiomvault/vaulterr"
)

// StreamThreshold is the content size above which operations switch from
// single-shot AEAD to the streaming codec. It is a package-wide setting,
// shared by every session; tests lower it to force the streaming path.
var StreamThreshold int64 = 1 << 20 // 1 MiB; main replaces it with a non-zero config.StreamThresholdBytes

func (s *VaultSession) directoryKeyFor(nodeID string) (*cryptocore.DirectoryKey, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if s.state != StateActive || s.masterKey == nil {
		return nil, vaulterr.NotPermittedf("session is locked")
	}
	return cryptocore.DeriveDirectoryKey(s.masterKey, nodeID)
}

func (s *VaultSession) fileKeyFor(encryptedName string) (*cryptocore.FileKey, error) {
	key, err := s.masterKeyBytes()
	if err != nil {
		return nil, err
	}
	var mk cryptocore.MasterKey
	copy(mk.Bytes(), key)
	return cryptocore.DeriveFileKey(&mk, encryptedName)
}

// singleShotTag marks a content blob encrypted with the single-shot AEAD
// rather than the streaming codec: a single-shot blob's first byte is the
// first byte of a random nonce and can't reliably be told apart from a
// stream header by inspection alone, so every blob this package writes
// carries an explicit one-byte tag ahead of its body.
const singleShotTag = 0xFF

func (s *VaultSession) encryptContentTagged(content []byte, fileKey *cryptocore.FileKey) ([]byte, error) {
	if int64(len(content)) <= StreamThreshold {
		ct, err := cryptocore.Encrypt(fileKey.Bytes(), content)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(ct)+1)
		out = append(out, singleShotTag)
		out = append(out, ct...)
		return out, nil
	}
	// EncryptStream's own header already leads with cryptocore.StreamVersion
	// (see stream.go), which is what decryptContentTagged dispatches on; no
	// extra tag byte is prepended here.
	var body bytes.Buffer
	if err := cryptocore.EncryptStream(fileKey.Bytes(), bytes.NewReader(content), &body, cryptocore.DefaultChunkSize); err != nil {
		return nil, err
	}
	return body.Bytes(), nil
}

func decryptContentTagged(blob []byte, fileKey *cryptocore.FileKey) ([]byte, error) {
	if len(blob) == 0 {
		return nil, vaulterr.Cryptof("empty content blob")
	}
	if blob[0] == singleShotTag {
		return cryptocore.Decrypt(fileKey.Bytes(), blob[1:])
	}
	if blob[0] == cryptocore.StreamVersion {
		var out bytes.Buffer
		if err := cryptocore.DecryptStream(fileKey.Bytes(), bytes.NewReader(blob), &out); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
	return nil, vaulterr.Cryptof("unrecognized content blob tag %d", blob[0])
}

// CreateFile creates a new file node and its content blob under the atomicity protocol:
// (1) mutate the in-memory tree under an exclusive lock, (2) upload content,
// (3) persist the tree, (4) release the lock. A failure in step 2 rolls
// back step 1 since no provider state has changed yet; a failure in step 3
// surfaces but the new node stays in the in-memory tree and the uploaded
// blob is left in place (it becomes reachable once a later save succeeds;
// it is not added to the orphan list SweepOrphans works from).
func (s *VaultSession) CreateFile(ctx context.Context, path VaultPath, content []byte) (*TreeNode, error) {
	if len(path) == 0 {
		return nil, vaulterr.InvalidInputf("cannot create file at root")
	}
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	parent, err := s.tree.GetParent(path)
	if err != nil {
		return nil, err
	}
	if parent.GetChild(path.Name()) != nil {
		return nil, vaulterr.AlreadyExistsf("%q already exists", path)
	}

	dirKey, err := s.directoryKeyFor(parent.ID)
	if err != nil {
		return nil, err
	}
	encryptedName, err := cryptocore.EncryptName(dirKey, parent.ID, path.Name())
	if err != nil {
		return nil, err
	}

	node, err := s.tree.CreateFile(path, encryptedName, int64(len(content)))
	if err != nil {
		return nil, err
	}

	fileKey, err := s.fileKeyFor(encryptedName)
	if err != nil {
		_ = s.tree.Remove(path)
		return nil, err
	}
	blob, err := s.encryptContentTagged(content, fileKey)
	if err != nil {
		_ = s.tree.Remove(path)
		return nil, err
	}
	if _, err := s.Provider.Upload(ctx, DataDirPrefix+encryptedName, blob); err != nil {
		// Step (2) failed before any provider state changed relative to
		// this file: roll back the tree mutation.
		_ = s.tree.Remove(path)
		return nil, err
	}

	if err := s.saveTreeLocked(ctx); err != nil {
		return nil, err
	}
	return node, nil
}

// ReadFile decrypts and returns a file's content.
func (s *VaultSession) ReadFile(ctx context.Context, path VaultPath) ([]byte, error) {
	s.treeMu.RLock()
	node, err := s.tree.GetNode(path)
	s.treeMu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !node.IsFile() {
		return nil, vaulterr.InvalidInputf("%q is a directory", path)
	}

	fileKey, err := s.fileKeyFor(node.Metadata.EncryptedName)
	if err != nil {
		return nil, err
	}
	blob, err := s.Provider.Download(ctx, DataDirPrefix+node.Metadata.EncryptedName)
	if err != nil {
		return nil, err
	}
	return decryptContentTagged(blob, fileKey)
}

// UpdateFile overwrites a file's content: re-encrypts under the same
// FileKey (derivation depends only on encrypted_name, unchanged by an
// update), overwrites the blob, and updates size/modified_at.
func (s *VaultSession) UpdateFile(ctx context.Context, path VaultPath, content []byte) (*TreeNode, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	node, err := s.tree.GetNode(path)
	if err != nil {
		return nil, err
	}
	if !node.IsFile() {
		return nil, vaulterr.InvalidInputf("%q is a directory", path)
	}

	fileKey, err := s.fileKeyFor(node.Metadata.EncryptedName)
	if err != nil {
		return nil, err
	}
	blob, err := s.encryptContentTagged(content, fileKey)
	if err != nil {
		return nil, err
	}
	if _, err := s.Provider.Upload(ctx, DataDirPrefix+node.Metadata.EncryptedName, blob); err != nil {
		return nil, err
	}

	size := int64(len(content))
	node.Metadata.Size = &size
	node.Metadata.ModifiedAt = time.Now().UTC()
	node.Metadata.ETag = newETag()

	if err := s.saveTreeLocked(ctx); err != nil {
		return nil, err
	}
	return node, nil
}

// DeleteFile removes a file node and its content blob, including the orphan-blob
// handling: if the provider delete
// fails after the tree removal is committed, the blob's encrypted name is
// recorded for a later explicit SweepOrphans call rather than silently
// lost.
func (s *VaultSession) DeleteFile(ctx context.Context, path VaultPath) error {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	node, err := s.tree.GetNode(path)
	if err != nil {
		return err
	}
	if !node.IsFile() {
		return vaulterr.InvalidInputf("%q is a directory", path)
	}
	encryptedName := node.Metadata.EncryptedName

	if err := s.tree.Remove(path); err != nil {
		return err
	}
	if err := s.saveTreeLocked(ctx); err != nil {
		// Tree mutation not yet durable: put the node back so in-memory
		// state matches what's on the provider.
		parent, perr := s.tree.GetParent(path)
		if perr == nil {
			_ = parent.AddChild(node)
		}
		return err
	}

	if err := s.Provider.Delete(ctx, DataDirPrefix+encryptedName); err != nil {
		s.log.WithError(err).WithField("path", path.String()).Warn("delete_file: provider delete failed after tree commit, recording orphan")
		s.recordOrphan(ctx, encryptedName)
	}
	return nil
}

// CreateDirectory creates a new directory node. No storage blob is
// created for the directory itself.
func (s *VaultSession) CreateDirectory(ctx context.Context, path VaultPath) (*TreeNode, error) {
	if len(path) == 0 {
		return nil, vaulterr.InvalidInputf("cannot create directory at root")
	}
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	parent, err := s.tree.GetParent(path)
	if err != nil {
		return nil, err
	}
	if parent.GetChild(path.Name()) != nil {
		return nil, vaulterr.AlreadyExistsf("%q already exists", path)
	}

	dirKey, err := s.directoryKeyFor(parent.ID)
	if err != nil {
		return nil, err
	}
	encryptedName, err := cryptocore.EncryptName(dirKey, parent.ID, path.Name())
	if err != nil {
		return nil, err
	}

	node, err := s.tree.CreateDirectory(path, encryptedName)
	if err != nil {
		return nil, err
	}
	if err := s.saveTreeLocked(ctx); err != nil {
		_ = s.tree.Remove(path)
		return nil, err
	}
	return node, nil
}

// DeleteDirectory removes an empty directory node: requires directory
// and empty.
func (s *VaultSession) DeleteDirectory(ctx context.Context, path VaultPath) error {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	node, err := s.tree.GetNode(path)
	if err != nil {
		return err
	}
	if !node.IsDirectory() {
		return vaulterr.InvalidInputf("%q is a file", path)
	}
	if len(node.Children) > 0 {
		return vaulterr.InvalidInputf("directory %q is not empty", path)
	}
	if err := s.tree.Remove(path); err != nil {
		return err
	}
	return s.saveTreeLocked(ctx)
}

// ListDirectory is read-only and returns
// (name, is_dir, size?) triples.
func (s *VaultSession) ListDirectory(ctx context.Context, path VaultPath) ([]ChildInfo, error) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	return s.tree.List(path)
}

// Exists reports whether a logical path is present in the tree.
func (s *VaultSession) Exists(ctx context.Context, path VaultPath) bool {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	return s.tree.Exists(path)
}

// Metadata returns the node metadata at path.
func (s *VaultSession) Metadata(ctx context.Context, path VaultPath) (NodeMetadata, error) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	node, err := s.tree.GetNode(path)
	if err != nil {
		return NodeMetadata{}, err
	}
	return node.Metadata, nil
}

func newETag() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
