package storageprovider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"axiomvault/vaulterr"
)

// object pairs an in-memory blob with the etag it was stamped with at
// write time, so re-reading an unchanged path always yields the same etag
// regardless of how many other paths have been written since.
type object struct {
	data []byte
	etag string
}

// MemoryProvider is an in-memory StorageProvider, used by tests that need
// a fast, hermetic backend instead of a real filesystem or network target.
type MemoryProvider struct {
	mu      sync.Mutex
	objects map[string]object
	seq     int64
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{objects: make(map[string]object)}
}

func (p *MemoryProvider) Name() string { return "memory" }

func (p *MemoryProvider) Upload(ctx context.Context, path string, data []byte) (Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := append([]byte(nil), data...)
	p.seq++
	p.objects[path] = object{data: cp, etag: fmt.Sprintf("seq-%d", p.seq)}
	return p.metadataLocked(path), nil
}

func (p *MemoryProvider) UploadStream(ctx context.Context, path string, r io.Reader) (Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Metadata{}, vaulterr.IoWrap(err, "read upload stream for %q", path)
	}
	return p.Upload(ctx, path, data)
}

func (p *MemoryProvider) Download(ctx context.Context, path string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[path]
	if !ok {
		return nil, vaulterr.NotFoundf("no such storage object: %q", path)
	}
	return append([]byte(nil), obj.data...), nil
}

func (p *MemoryProvider) DownloadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	data, err := p.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *MemoryProvider) Exists(ctx context.Context, path string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.objects[path]
	return ok, nil
}

func (p *MemoryProvider) Delete(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[path]; !ok {
		return vaulterr.NotFoundf("no such storage object: %q", path)
	}
	delete(p.objects, path)
	return nil
}

func (p *MemoryProvider) List(ctx context.Context, path string) ([]Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := strings.TrimSuffix(path, "/") + "/"
	var out []Metadata
	for k := range p.objects {
		if strings.HasPrefix(k, prefix) && !strings.Contains(strings.TrimPrefix(k, prefix), "/") {
			out = append(out, p.metadataLocked(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *MemoryProvider) GetMetadata(ctx context.Context, path string) (Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[path]; !ok {
		return Metadata{}, vaulterr.NotFoundf("no such storage object: %q", path)
	}
	return p.metadataLocked(path), nil
}

func (p *MemoryProvider) metadataLocked(path string) Metadata {
	obj := p.objects[path]
	parts := strings.Split(path, "/")
	name := parts[len(parts)-1]
	return Metadata{
		ID:       path,
		Name:     name,
		Size:     int64(len(obj.data)),
		Modified: time.Now().UTC(),
		ETag:     obj.etag,
	}
}

func (p *MemoryProvider) CreateDir(ctx context.Context, path string) (Metadata, error) {
	return Metadata{ID: path, Name: path, IsDirectory: true, Modified: time.Now().UTC()}, nil
}

func (p *MemoryProvider) DeleteDir(ctx context.Context, path string) error {
	return nil
}

func (p *MemoryProvider) Rename(ctx context.Context, from, to string) (Metadata, error) {
	p.mu.Lock()
	obj, ok := p.objects[from]
	if !ok {
		p.mu.Unlock()
		return Metadata{}, vaulterr.NotFoundf("no such storage object: %q", from)
	}
	delete(p.objects, from)
	p.seq++
	obj.etag = fmt.Sprintf("seq-%d", p.seq)
	p.objects[to] = obj
	meta := p.metadataLocked(to)
	p.mu.Unlock()
	return meta, nil
}

func (p *MemoryProvider) Copy(ctx context.Context, from, to string) (Metadata, error) {
	data, err := p.Download(ctx, from)
	if err != nil {
		return Metadata{}, err
	}
	return p.Upload(ctx, to, data)
}
