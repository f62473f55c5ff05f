// Package storageprovider defines the capability contract the vault core
// consumes, and provides a local-filesystem implementor.
package storageprovider

import (
	"context"
	"io"
	"time"
)

// Metadata describes an object at a storage path.
type Metadata struct {
	ID           string
	Name         string
	Size         int64
	IsDirectory  bool
	Modified     time.Time
	ETag         string
	ProviderData map[string]string
}

// StorageProvider is the narrow capability set every backing store must
// implement. Paths here are storage paths (e.g. "d/abc123", "m/tree.json"),
// never logical vault paths.
type StorageProvider interface {
	Name() string
	Upload(ctx context.Context, path string, data []byte) (Metadata, error)
	UploadStream(ctx context.Context, path string, r io.Reader) (Metadata, error)
	Download(ctx context.Context, path string) ([]byte, error)
	DownloadStream(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, path string) ([]Metadata, error)
	GetMetadata(ctx context.Context, path string) (Metadata, error)
	CreateDir(ctx context.Context, path string) (Metadata, error)
	DeleteDir(ctx context.Context, path string) error
	Rename(ctx context.Context, from, to string) (Metadata, error)
	Copy(ctx context.Context, from, to string) (Metadata, error)
}

// ConflictAware is an optional capability a provider can implement to
// expose a cheap "has this changed since etag X" check without a full
// metadata round-trip. The sync engine does not check for it: it always
// reads etags through GetMetadata.
type ConflictAware interface {
	HasChanged(ctx context.Context, path string, sinceETag string) (bool, error)
}
