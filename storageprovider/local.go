package storageprovider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"axiomvault/vaulterr"
)

// LocalProvider implements StorageProvider against a local filesystem root.
// The etag is "{modified_unix_nano}-{size}" so an unchanged path always
// yields the same etag across reads.
type LocalProvider struct {
	root string
}

func NewLocalProvider(root string) (*LocalProvider, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, vaulterr.IoWrap(err, "create provider root %q", root)
	}
	return &LocalProvider{root: root}, nil
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) toFsPath(storagePath string) (string, error) {
	cleaned := filepath.Clean("/" + storagePath)
	if cleaned == "/" {
		return p.root, nil
	}
	full := filepath.Join(p.root, cleaned)
	if !strings.HasPrefix(full, p.root) {
		return "", vaulterr.InvalidInputf("storage path escapes provider root: %q", storagePath)
	}
	return full, nil
}

func metadataFor(storagePath, fsPath string, info os.FileInfo) Metadata {
	etag := fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size())
	return Metadata{
		ID:          storagePath,
		Name:        filepath.Base(storagePath),
		Size:        info.Size(),
		IsDirectory: info.IsDir(),
		Modified:    info.ModTime(),
		ETag:        etag,
	}
}

func (p *LocalProvider) Upload(ctx context.Context, path string, data []byte) (Metadata, error) {
	return p.UploadStream(ctx, path, bytes.NewReader(data))
}

func (p *LocalProvider) UploadStream(ctx context.Context, path string, r io.Reader) (Metadata, error) {
	fsPath, err := p.toFsPath(path)
	if err != nil {
		return Metadata{}, err
	}
	if err := os.MkdirAll(filepath.Dir(fsPath), 0o755); err != nil {
		return Metadata{}, vaulterr.IoWrap(err, "mkdir for %q", path)
	}
	tmp := fsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Metadata{}, vaulterr.IoWrap(err, "open temp file for %q", path)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return Metadata{}, vaulterr.IoWrap(err, "write %q", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return Metadata{}, vaulterr.IoWrap(err, "sync %q", path)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return Metadata{}, vaulterr.IoWrap(err, "close %q", path)
	}
	if err := os.Rename(tmp, fsPath); err != nil {
		return Metadata{}, vaulterr.IoWrap(err, "rename into place %q", path)
	}
	info, err := os.Stat(fsPath)
	if err != nil {
		return Metadata{}, vaulterr.IoWrap(err, "stat %q", path)
	}
	return metadataFor(path, fsPath, info), nil
}

func (p *LocalProvider) Download(ctx context.Context, path string) ([]byte, error) {
	fsPath, err := p.toFsPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vaulterr.NotFoundf("no such storage object: %q", path)
		}
		return nil, vaulterr.IoWrap(err, "read %q", path)
	}
	return data, nil
}

func (p *LocalProvider) DownloadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	fsPath, err := p.toFsPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vaulterr.NotFoundf("no such storage object: %q", path)
		}
		return nil, vaulterr.IoWrap(err, "open %q", path)
	}
	return f, nil
}

func (p *LocalProvider) Exists(ctx context.Context, path string) (bool, error) {
	fsPath, err := p.toFsPath(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fsPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, vaulterr.IoWrap(err, "stat %q", path)
}

func (p *LocalProvider) Delete(ctx context.Context, path string) error {
	fsPath, err := p.toFsPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fsPath); err != nil {
		if os.IsNotExist(err) {
			return vaulterr.NotFoundf("no such storage object: %q", path)
		}
		return vaulterr.IoWrap(err, "delete %q", path)
	}
	return nil
}

func (p *LocalProvider) List(ctx context.Context, path string) ([]Metadata, error) {
	fsPath, err := p.toFsPath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vaulterr.NotFoundf("no such storage directory: %q", path)
		}
		return nil, vaulterr.IoWrap(err, "list %q", path)
	}
	out := make([]Metadata, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		childStoragePath := strings.TrimSuffix(path, "/") + "/" + e.Name()
		out = append(out, metadataFor(childStoragePath, filepath.Join(fsPath, e.Name()), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *LocalProvider) GetMetadata(ctx context.Context, path string) (Metadata, error) {
	fsPath, err := p.toFsPath(path)
	if err != nil {
		return Metadata{}, err
	}
	info, err := os.Stat(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, vaulterr.NotFoundf("no such storage object: %q", path)
		}
		return Metadata{}, vaulterr.IoWrap(err, "stat %q", path)
	}
	return metadataFor(path, fsPath, info), nil
}

func (p *LocalProvider) CreateDir(ctx context.Context, path string) (Metadata, error) {
	fsPath, err := p.toFsPath(path)
	if err != nil {
		return Metadata{}, err
	}
	if err := os.MkdirAll(fsPath, 0o755); err != nil {
		return Metadata{}, vaulterr.IoWrap(err, "mkdir %q", path)
	}
	info, err := os.Stat(fsPath)
	if err != nil {
		return Metadata{}, vaulterr.IoWrap(err, "stat %q", path)
	}
	return metadataFor(path, fsPath, info), nil
}

func (p *LocalProvider) DeleteDir(ctx context.Context, path string) error {
	fsPath, err := p.toFsPath(path)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(fsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return vaulterr.NotFoundf("no such storage directory: %q", path)
		}
		return vaulterr.IoWrap(err, "readdir %q", path)
	}
	if len(entries) > 0 {
		return vaulterr.AlreadyExistsf("directory not empty: %q", path)
	}
	if err := os.Remove(fsPath); err != nil {
		return vaulterr.IoWrap(err, "rmdir %q", path)
	}
	return nil
}

func (p *LocalProvider) Rename(ctx context.Context, from, to string) (Metadata, error) {
	fromFs, err := p.toFsPath(from)
	if err != nil {
		return Metadata{}, err
	}
	toFs, err := p.toFsPath(to)
	if err != nil {
		return Metadata{}, err
	}
	if err := os.MkdirAll(filepath.Dir(toFs), 0o755); err != nil {
		return Metadata{}, vaulterr.IoWrap(err, "mkdir for rename target %q", to)
	}
	if err := os.Rename(fromFs, toFs); err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, vaulterr.NotFoundf("no such storage object: %q", from)
		}
		return Metadata{}, vaulterr.IoWrap(err, "rename %q -> %q", from, to)
	}
	info, err := os.Stat(toFs)
	if err != nil {
		return Metadata{}, vaulterr.IoWrap(err, "stat %q", to)
	}
	return metadataFor(to, toFs, info), nil
}

func (p *LocalProvider) Copy(ctx context.Context, from, to string) (Metadata, error) {
	data, err := p.Download(ctx, from)
	if err != nil {
		return Metadata{}, err
	}
	return p.Upload(ctx, to, data)
}
