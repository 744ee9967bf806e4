package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"CareFlow/internal/model"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout sorts lexically in time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

const auditColumns = `seq, event_id, ts, event_kind, actor_id, subject_id, source_ip, resource, action,
	result, risk_level, data_accessed, metadata, encrypted_details, previous_hash, hash`

// SQLiteAuditRepo is an audit store backed by an embedded SQLite database.
type SQLiteAuditRepo struct {
	db *sql.DB
}

// OpenSQLiteAuditRepo opens (or creates) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLiteAuditRepo(path string) (*SQLiteAuditRepo, func() error, error) {
	if path == "" {
		path = "careflow-audit.db"
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, nil, fmt.Errorf("failed to create audit database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// one writer keeps appends ordered and avoids SQLITE_BUSY between our own connections
	db.SetMaxOpenConns(1)

	repo, err := NewSQLiteAuditRepo(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, db.Close, nil
}

// NewSQLiteAuditRepo initializes the schema in db and returns the repository.
// The caller imports the driver and owns db.
func NewSQLiteAuditRepo(db *sql.DB) (*SQLiteAuditRepo, error) {
	r := &SQLiteAuditRepo{db: db}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return r, nil
}

func (r *SQLiteAuditRepo) initSchema() error {
	_, err := r.db.Exec(`
		PRAGMA busy_timeout = 5000;
		CREATE TABLE IF NOT EXISTS hipaa_audit_log (
			seq INTEGER PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			ts TEXT NOT NULL,
			event_kind TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			subject_id TEXT NOT NULL DEFAULT '',
			source_ip TEXT NOT NULL DEFAULT '',
			resource TEXT NOT NULL,
			action TEXT NOT NULL,
			result TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			data_accessed TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			encrypted_details TEXT NOT NULL DEFAULT '',
			previous_hash TEXT NOT NULL,
			hash TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_ts ON hipaa_audit_log (ts);
		CREATE INDEX IF NOT EXISTS idx_audit_subject ON hipaa_audit_log (subject_id);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON hipaa_audit_log (actor_id);`,
	)
	return err
}

// Append writes events in one transaction.
func (r *SQLiteAuditRepo) Append(ctx context.Context, events []*model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO hipaa_audit_log (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		data, err := encodeDataAccessed(e.DataAccessed)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			e.Seq, e.ID, e.Timestamp.UTC().Format(sqliteTimeLayout), string(e.Kind), e.ActorID,
			e.SubjectID, e.SourceIP, e.Resource, e.Action, string(e.Result), string(e.RiskLevel),
			data, e.Metadata, e.EncryptedDetails, e.PreviousHash, e.Hash,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Last returns the newest event, or nil.
func (r *SQLiteAuditRepo) Last(ctx context.Context) (*model.AuditEvent, error) {
	return r.one(ctx, `SELECT `+auditColumns+` FROM hipaa_audit_log ORDER BY seq DESC LIMIT 1`)
}

// Before returns the event with the highest seq below seq, or nil.
func (r *SQLiteAuditRepo) Before(ctx context.Context, seq int64) (*model.AuditEvent, error) {
	return r.one(ctx, `SELECT `+auditColumns+` FROM hipaa_audit_log WHERE seq < ? ORDER BY seq DESC LIMIT 1`, seq)
}

func (r *SQLiteAuditRepo) one(ctx context.Context, query string, args ...any) (*model.AuditEvent, error) {
	events, err := r.list(ctx, query, args...)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return events[0], nil
}

// Range returns events inside tr ordered by seq.
func (r *SQLiteAuditRepo) Range(ctx context.Context, tr model.TimeRange) ([]*model.AuditEvent, error) {
	where, args := rangeClause(tr)
	return r.list(ctx, `SELECT `+auditColumns+` FROM hipaa_audit_log`+where+` ORDER BY seq ASC`, args...)
}

// Query returns the newest events matching f, ordered by seq.
func (r *SQLiteAuditRepo) Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditEvent, error) {
	where, args := rangeClause(f.Range)
	conds := []string{}
	if where != "" {
		conds = append(conds, strings.TrimPrefix(where, " WHERE "))
	}
	add := func(col, val string) {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	add("actor_id", f.ActorID)
	add("subject_id", f.SubjectID)
	add("event_kind", string(f.Kind))
	add("resource", f.Resource)
	add("action", f.Action)

	query := `SELECT ` + auditColumns + ` FROM hipaa_audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	events, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sortBySeq(events)
	return events, nil
}

func rangeClause(tr model.TimeRange) (string, []any) {
	var conds []string
	var args []any
	if !tr.From.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, tr.From.UTC().Format(sqliteTimeLayout))
	}
	if !tr.To.IsZero() {
		conds = append(conds, "ts < ?")
		args = append(args, tr.To.UTC().Format(sqliteTimeLayout))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *SQLiteAuditRepo) list(ctx context.Context, query string, args ...any) ([]*model.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer rows.Close()

	var events []*model.AuditEvent
	for rows.Next() {
		var (
			e                   model.AuditEvent
			ts, kind, res, risk string
			data                string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &ts, &kind, &e.ActorID, &e.SubjectID, &e.SourceIP,
			&e.Resource, &e.Action, &res, &risk, &data, &e.Metadata, &e.EncryptedDetails,
			&e.PreviousHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Timestamp, err = time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("audit event %s: bad timestamp %q: %w", e.ID, ts, err)
		}
		e.Kind = model.EventKind(kind)
		e.Result = model.Result(res)
		e.RiskLevel = model.RiskLevel(risk)
		if e.DataAccessed, err = decodeDataAccessed(data); err != nil {
			return nil, fmt.Errorf("audit event %s: %w", e.ID, err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
