package data

import (
	"context"
	"fmt"
	"time"

	"CareFlow/internal/model"

	"gorm.io/gorm"
)

// AuditLogRow is the GORM model for the hipaa_audit_log table.
type AuditLogRow struct {
	Seq              int64     `gorm:"primaryKey;autoIncrement:false;column:seq"`
	EventID          string    `gorm:"column:event_id;size:36;not null;uniqueIndex"`
	Timestamp        time.Time `gorm:"column:ts;precision:6;not null;index"`
	EventKind        string    `gorm:"column:event_kind;size:40;not null;index"`
	ActorID          string    `gorm:"column:actor_id;size:128;not null;index"`
	SubjectID        string    `gorm:"column:subject_id;size:128;index"`
	SourceIP         string    `gorm:"column:source_ip;size:64"`
	Resource         string    `gorm:"column:resource;size:128;not null"`
	Action           string    `gorm:"column:action;size:128;not null"`
	Result           string    `gorm:"column:result;size:16;not null"`
	RiskLevel        string    `gorm:"column:risk_level;size:16;not null;index"`
	DataAccessed     string    `gorm:"column:data_accessed;type:text"`
	Metadata         string    `gorm:"column:metadata;type:text"`
	EncryptedDetails string    `gorm:"column:encrypted_details;type:mediumtext"`
	PreviousHash     string    `gorm:"column:previous_hash;size:64;not null"`
	Hash             string    `gorm:"column:hash;size:64;not null"`
}

// TableName specifies the table name for GORM
func (AuditLogRow) TableName() string {
	return "hipaa_audit_log"
}

func newAuditLogRow(e *model.AuditEvent) (*AuditLogRow, error) {
	data, err := encodeDataAccessed(e.DataAccessed)
	if err != nil {
		return nil, err
	}
	return &AuditLogRow{
		Seq:              e.Seq,
		EventID:          e.ID,
		Timestamp:        e.Timestamp.UTC(),
		EventKind:        string(e.Kind),
		ActorID:          e.ActorID,
		SubjectID:        e.SubjectID,
		SourceIP:         e.SourceIP,
		Resource:         e.Resource,
		Action:           e.Action,
		Result:           string(e.Result),
		RiskLevel:        string(e.RiskLevel),
		DataAccessed:     data,
		Metadata:         e.Metadata,
		EncryptedDetails: e.EncryptedDetails,
		PreviousHash:     e.PreviousHash,
		Hash:             e.Hash,
	}, nil
}

func (r *AuditLogRow) event() (*model.AuditEvent, error) {
	data, err := decodeDataAccessed(r.DataAccessed)
	if err != nil {
		return nil, fmt.Errorf("audit event %s: %w", r.EventID, err)
	}
	return &model.AuditEvent{
		ID:               r.EventID,
		Seq:              r.Seq,
		Timestamp:        r.Timestamp.UTC(),
		Kind:             model.EventKind(r.EventKind),
		ActorID:          r.ActorID,
		SubjectID:        r.SubjectID,
		SourceIP:         r.SourceIP,
		Resource:         r.Resource,
		Action:           r.Action,
		Result:           model.Result(r.Result),
		RiskLevel:        model.RiskLevel(r.RiskLevel),
		DataAccessed:     data,
		Metadata:         r.Metadata,
		EncryptedDetails: r.EncryptedDetails,
		PreviousHash:     r.PreviousHash,
		Hash:             r.Hash,
	}, nil
}

// GormAuditRepo stores audit events in MySQL through GORM.
type GormAuditRepo struct {
	db *gorm.DB
}

// NewGormAuditRepo migrates the audit table and returns the repository.
func NewGormAuditRepo(db *gorm.DB) (*GormAuditRepo, error) {
	if err := db.AutoMigrate(&AuditLogRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit table: %w", err)
	}
	return &GormAuditRepo{db: db}, nil
}

// Append writes events in one transaction.
func (r *GormAuditRepo) Append(ctx context.Context, events []*model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]*AuditLogRow, 0, len(events))
	for _, e := range events {
		row, err := newAuditLogRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 100).Error
	})
}

// Last returns the newest event, or nil.
func (r *GormAuditRepo) Last(ctx context.Context) (*model.AuditEvent, error) {
	return r.one(r.db.WithContext(ctx).Order("seq DESC"))
}

// Before returns the event with the highest seq below seq, or nil.
func (r *GormAuditRepo) Before(ctx context.Context, seq int64) (*model.AuditEvent, error) {
	return r.one(r.db.WithContext(ctx).Where("seq < ?", seq).Order("seq DESC"))
}

func (r *GormAuditRepo) one(q *gorm.DB) (*model.AuditEvent, error) {
	var rows []AuditLogRow
	if err := q.Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].event()
}

// Range returns events inside r ordered by seq.
func (r *GormAuditRepo) Range(ctx context.Context, tr model.TimeRange) ([]*model.AuditEvent, error) {
	return r.list(withRange(r.db.WithContext(ctx), tr).Order("seq ASC"))
}

// Query returns the newest events matching f, ordered by seq.
func (r *GormAuditRepo) Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditEvent, error) {
	q := withRange(r.db.WithContext(ctx), f.Range)
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.SubjectID != "" {
		q = q.Where("subject_id = ?", f.SubjectID)
	}
	if f.Kind != "" {
		q = q.Where("event_kind = ?", string(f.Kind))
	}
	if f.Resource != "" {
		q = q.Where("resource = ?", f.Resource)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	q = q.Order("seq DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	events, err := r.list(q)
	if err != nil {
		return nil, err
	}
	sortBySeq(events)
	return events, nil
}

func (r *GormAuditRepo) list(q *gorm.DB) ([]*model.AuditEvent, error) {
	var rows []AuditLogRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	events := make([]*model.AuditEvent, 0, len(rows))
	for i := range rows {
		e, err := rows[i].event()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func withRange(q *gorm.DB, tr model.TimeRange) *gorm.DB {
	if !tr.From.IsZero() {
		q = q.Where("ts >= ?", tr.From.UTC())
	}
	if !tr.To.IsZero() {
		q = q.Where("ts < ?", tr.To.UTC())
	}
	return q
}
