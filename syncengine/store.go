package syncengine

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"axiomvault/vaulterr"
)

func upsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		UpdateAll: true,
	}
}

// SyncStateStore is an optional backing store for SyncEntry rows, used
// alongside (never instead of) SyncState's local JSON document.
type SyncStateStore interface {
	PersistAll(ctx context.Context, entries []SyncEntry) error
}

// syncEntryRow is the gorm model backing SyncEntry persistence.
type syncEntryRow struct {
	Path            string `gorm:"primaryKey"`
	Status          string
	PriorStatus     string
	LocalEtag       string
	RemoteEtag      string
	LastKnownRemote string
	FailureCount    int
	LastError       string
	LastSyncedAt    time.Time
	UpdatedAt       time.Time
}

func (syncEntryRow) TableName() string { return "sync_entries" }

// GormSyncStateStore mirrors every SyncFull pass's SyncEntry set into
// Postgres via gorm, giving operators a queryable view of sync status
// across vaults without requiring Postgres for the engine's core
// behavior — the local JSON document remains authoritative.
type GormSyncStateStore struct {
	db *gorm.DB
}

func NewGormSyncStateStore(db *gorm.DB) (*GormSyncStateStore, error) {
	if err := db.AutoMigrate(&syncEntryRow{}); err != nil {
		return nil, vaulterr.StorageWrap(err, "migrate sync_entries table")
	}
	return &GormSyncStateStore{db: db}, nil
}

func (s *GormSyncStateStore) PersistAll(ctx context.Context, entries []SyncEntry) error {
	for _, e := range entries {
		row := syncEntryRow{
			Path:            e.Path,
			Status:          string(e.Status),
			PriorStatus:     string(e.PriorStatus),
			LocalEtag:       e.LocalEtag,
			RemoteEtag:      e.RemoteEtag,
			LastKnownRemote: e.LastKnownRemote,
			FailureCount:    e.FailureCount,
			LastError:       e.LastError,
			LastSyncedAt:    e.LastSyncedAt,
			UpdatedAt:       time.Now().UTC(),
		}
		err := s.db.WithContext(ctx).
			Clauses(upsertClause()).
			Create(&row).Error
		if err != nil {
			return vaulterr.StorageWrap(err, "upsert sync_entries row for %q", e.Path)
		}
	}
	return nil
}
