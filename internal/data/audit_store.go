package data

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"

	"CareFlow/internal/conf"
	"CareFlow/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Audit store names accepted by audit.store.
const (
	AuditStoreSQLite = "sqlite"
	AuditStoreMySQL  = "mysql"
	AuditStoreFile   = "file"
)

// AuditStore is an ordered, append-only audit event store.
type AuditStore interface {
	Append(ctx context.Context, events []*model.AuditEvent) error
	Last(ctx context.Context) (*model.AuditEvent, error)
	Before(ctx context.Context, seq int64) (*model.AuditEvent, error)
	Range(ctx context.Context, r model.TimeRange) ([]*model.AuditEvent, error)
	Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditEvent, error)
}

// AuditStores are the three audit destinations: the primary store, the
// daily file mirror and the escalation sink.
type AuditStores struct {
	Primary AuditStore
	// Mirror is nil when the primary store already is the file store.
	Mirror     *FileAuditRepo
	Escalation *FileAuditRepo
}

// NewAuditStores opens the stores selected by audit.store.
func NewAuditStores(c *conf.Audit, d *conf.Data, logger log.Logger) (*AuditStores, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data/audit"))

	if c == nil || c.FallbackDir == "" {
		return nil, nil, fmt.Errorf("audit fallback directory is required")
	}

	escalation, err := NewFileAuditRepo(filepath.Join(c.FallbackDir, "escalations"))
	if err != nil {
		return nil, nil, err
	}
	mirror, err := NewFileAuditRepo(c.FallbackDir)
	if err != nil {
		return nil, nil, err
	}

	stores := &AuditStores{Escalation: escalation, Mirror: mirror}
	cleanup := func() {}

	switch c.Store {
	case AuditStoreFile:
		stores.Primary = mirror
		stores.Mirror = nil
	case AuditStoreMySQL:
		db, dbCleanup, err := NewMySQLClient(d, logger)
		if err != nil {
			return nil, nil, err
		}
		repo, err := NewGormAuditRepo(db)
		if err != nil {
			dbCleanup()
			return nil, nil, err
		}
		stores.Primary = repo
		cleanup = dbCleanup
	case AuditStoreSQLite, "":
		repo, closeDB, err := OpenSQLiteAuditRepo(c.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		stores.Primary = repo
		cleanup = func() {
			if err := closeDB(); err != nil {
				helper.Errorf("failed to close audit database: %v", err)
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown audit store %q", c.Store)
	}

	helper.Infow("msg", "audit stores ready", "store", c.Store, "fallback_dir", c.FallbackDir)
	return stores, cleanup, nil
}

func encodeDataAccessed(d *model.DataDescriptor) (string, error) {
	if d == nil {
		return "", nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode data descriptor: %w", err)
	}
	return string(raw), nil
}

func decodeDataAccessed(s string) (*model.DataDescriptor, error) {
	if s == "" {
		return nil, nil
	}
	var d model.DataDescriptor
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("failed to decode data descriptor: %w", err)
	}
	return &d, nil
}

// keepNewest trims events (ordered by Seq) to the last limit entries.
func keepNewest(events []*model.AuditEvent, limit int) []*model.AuditEvent {
	if limit > 0 && len(events) > limit {
		return events[len(events)-limit:]
	}
	return events
}

func sortBySeq(events []*model.AuditEvent) {
	slices.SortFunc(events, func(a, b *model.AuditEvent) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
}
