package syncengine

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"axiomvault/vaulterr"
)

// ConflictStrategy picks how a detected conflict is resolved.
type ConflictStrategy string

const (
	PreferLocal  ConflictStrategy = "prefer_local"
	PreferRemote ConflictStrategy = "prefer_remote"
	KeepBoth     ConflictStrategy = "keep_both"
	Manual       ConflictStrategy = "manual"
)

// ConflictInfo describes a detected three-way etag divergence.
type ConflictInfo struct {
	Path            string
	LocalEtag       string
	RemoteEtag      string
	LastKnownRemote string
}

// HasConflict reports whether both sides moved since the last successful
// sync: local differs from remote, and remote differs from the baseline.
// If only one side moved it's a clean update, not a conflict.
func HasConflict(localEtag, remoteEtag, lastKnownRemote string) bool {
	return localEtag != remoteEtag && remoteEtag != lastKnownRemote
}

// ExistsChecker reports whether a path already has a blob on the provider,
// used to disambiguate generated conflict-copy names.
type ExistsChecker func(candidatePath string) (bool, error)

// GenerateConflictPath builds the "{stem}_conflict_{YYYYMMDD_HHMMSS}{ext}"
// name KeepBoth resolution uses, appending a monotonic disambiguator if the
// generated name already exists.
func GenerateConflictPath(original string, now time.Time, exists ExistsChecker) (string, error) {
	dir := path.Dir(original)
	base := path.Base(original)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stamp := now.UTC().Format("20060102_150405")

	candidateName := fmt.Sprintf("%s_conflict_%s%s", stem, stamp, ext)
	candidate := joinConflictPath(dir, candidateName)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			candidateName = fmt.Sprintf("%s_conflict_%s_%s%s", stem, stamp, strconv.Itoa(attempt), ext)
			candidate = joinConflictPath(dir, candidateName)
		}
		if exists == nil {
			return candidate, nil
		}
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

func joinConflictPath(dir, name string) string {
	if dir == "." || dir == "" || dir == "/" {
		return name
	}
	return dir + "/" + name
}

// ContentSource supplies the local staged bytes and performs the remote
// adoption side-effects a resolution strategy needs. Implemented by the
// sync engine.
type ContentSource interface {
	UploadLocal(ctx context.Context, path string, data []byte) (remoteEtag string, err error)
	AdoptRemote(ctx context.Context, path string) (remoteEtag string, err error)
	DownloadRemote(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ResolveResult reports every path a resolution touched. KeepBoth is the
// only strategy that produces a second path (the renamed local copy); for
// every other strategy CopyPath is empty and only Path/RemoteEtag matter.
type ResolveResult struct {
	Path       string
	RemoteEtag string
	CopyPath   string
	CopyEtag   string
}

// Resolve applies strategy to a conflicted path and returns every
// (path, etag) pair that needs recording against SyncState — KeepBoth
// ends with both the original path and its conflict-copy Synced, so the
// caller must update both, not just the original.
func Resolve(ctx context.Context, strategy ConflictStrategy, conflictPath string, localData []byte, src ContentSource, now time.Time) (ResolveResult, error) {
	switch strategy {
	case PreferLocal:
		etag, err := src.UploadLocal(ctx, conflictPath, localData)
		if err != nil {
			return ResolveResult{}, err
		}
		return ResolveResult{Path: conflictPath, RemoteEtag: etag}, nil

	case PreferRemote:
		etag, err := src.AdoptRemote(ctx, conflictPath)
		if err != nil {
			return ResolveResult{}, err
		}
		return ResolveResult{Path: conflictPath, RemoteEtag: etag}, nil

	case KeepBoth:
		copyPath, err := GenerateConflictPath(conflictPath, now, func(candidate string) (bool, error) {
			return src.Exists(ctx, candidate)
		})
		if err != nil {
			return ResolveResult{}, err
		}
		copyEtag, err := src.UploadLocal(ctx, copyPath, localData)
		if err != nil {
			return ResolveResult{}, err
		}
		etag, err := src.AdoptRemote(ctx, conflictPath)
		if err != nil {
			return ResolveResult{}, err
		}
		return ResolveResult{Path: conflictPath, RemoteEtag: etag, CopyPath: copyPath, CopyEtag: copyEtag}, nil

	case Manual:
		return ResolveResult{}, vaulterr.Conflictf("conflict at %q left for manual resolution", conflictPath)

	default:
		return ResolveResult{}, vaulterr.InvalidInputf("unknown conflict strategy %q", strategy)
	}
}
