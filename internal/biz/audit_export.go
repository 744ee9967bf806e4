package biz

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"CareFlow/internal/model"
)

// ExportFormat selects the ExportForReview encoding.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// ParseExportFormat accepts json or csv, case-insensitively.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
}

// undecryptable replaces details that fail to decrypt in an export.
const undecryptable = "[UNDECRYPTABLE]"

// ExportRow is one event in an export, with details decrypted.
type ExportRow struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	EventKind    string         `json:"eventKind"`
	ActorID      string         `json:"actorId"`
	SubjectID    string         `json:"subjectId,omitempty"`
	Resource     string         `json:"resource"`
	Action       string         `json:"action"`
	Result       string         `json:"result"`
	RiskLevel    string         `json:"riskLevel"`
	Hash         string         `json:"hash"`
	PreviousHash string         `json:"previousHash"`
	Details      map[string]any `json:"details,omitempty"`
}

var csvHeader = []string{
	"id", "timestamp", "eventKind", "actorId", "subjectId", "resource", "action",
	"result", "riskLevel", "hash", "previousHash", "details",
}

// Query returns stored events matching f. Details stay encrypted.
func (a *AuditLog) Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditEvent, error) {
	events, err := a.repo.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	return events, nil
}

// ExportForReview renders every event in r with decrypted details for an
// authorized reviewer. The export is itself recorded as a critical
// data_export event; if that record cannot be written no export is returned.
func (a *AuditLog) ExportForReview(ctx context.Context, r model.TimeRange, format ExportFormat, requestedBy string) ([]byte, error) {
	if format != FormatJSON && format != FormatCSV {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}

	if err := a.Flush(ctx); err != nil {
		a.log.Warnw("msg", "exporting with unflushed audit events", "error", err)
	}

	events, err := a.repo.Range(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit events: %w", err)
	}

	rows := make([]ExportRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, a.exportRow(e))
	}

	var blob []byte
	switch format {
	case FormatJSON:
		blob, err = json.MarshalIndent(rows, "", "  ")
	case FormatCSV:
		blob, err = encodeCSV(rows)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s export: %w", format, err)
	}

	if _, err := a.Record(ctx, Draft{
		Kind:      model.EventDataExport,
		ActorID:   requestedBy,
		Resource:  "audit_log",
		Action:    "audit_export",
		RiskLevel: model.RiskCritical,
		DataAccessed: &model.DataDescriptor{
			Fields:         []string{"details"},
			RecordCount:    len(rows),
			Classification: model.ClassPHI,
		},
		Metadata: map[string]any{
			"format":       string(format),
			"record_count": len(rows),
			"from":         formatRangeBound(r.From),
			"to":           formatRangeBound(r.To),
		},
	}); err != nil {
		return nil, fmt.Errorf("export refused, meta-audit event not recorded: %w", err)
	}

	a.log.Audit("audit export generated", "format", string(format), "records", len(rows), "requested_by", requestedBy)
	return blob, nil
}

func (a *AuditLog) exportRow(e *model.AuditEvent) ExportRow {
	row := ExportRow{
		ID:           e.ID,
		Timestamp:    e.Timestamp,
		EventKind:    string(e.Kind),
		ActorID:      e.ActorID,
		SubjectID:    e.SubjectID,
		Resource:     e.Resource,
		Action:       e.Action,
		Result:       string(e.Result),
		RiskLevel:    string(e.RiskLevel),
		Hash:         e.Hash,
		PreviousHash: e.PreviousHash,
	}
	if e.EncryptedDetails != "" {
		var details map[string]any
		if err := a.cipher.DecryptJSON(e.EncryptedDetails, &details); err != nil {
			a.log.Security("audit details could not be decrypted for export", "event_id", e.ID, "error", err)
			details = map[string]any{"error": undecryptable}
		}
		row.Details = details
	}
	return row
}

func encodeCSV(rows []ExportRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		details := ""
		if len(r.Details) > 0 {
			raw, err := json.Marshal(r.Details)
			if err != nil {
				return nil, err
			}
			details = string(raw)
		}
		record := []string{
			r.ID,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.EventKind,
			r.ActorID,
			r.SubjectID,
			r.Resource,
			r.Action,
			r.Result,
			r.RiskLevel,
			r.Hash,
			r.PreviousHash,
			details,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
