package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"CareFlow/internal/model"
)

const dayLayout = "2006-01-02"

// FileAuditRepo keeps audit events in daily JSON array files named
// <dir>/YYYY-MM-DD.json. It is the fallback mirror, the escalation sink and,
// with audit.store=file, the primary store.
type FileAuditRepo struct {
	dir string
	mu  sync.Mutex
}

// NewFileAuditRepo creates dir if needed.
func NewFileAuditRepo(dir string) (*FileAuditRepo, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory %s: %w", dir, err)
	}
	return &FileAuditRepo{dir: dir}, nil
}

// Dir returns the directory the files live in.
func (r *FileAuditRepo) Dir() string { return r.dir }

// Append adds events to the file of their UTC day. Each file is rewritten
// atomically, but a batch spanning midnight touches two files. Events whose
// seq is not above the newest one already in their file were written by an
// earlier, partially failed attempt and are skipped, so retrying a batch
// never duplicates them.
func (r *FileAuditRepo) Append(ctx context.Context, events []*model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	byDay := map[string][]*model.AuditEvent{}
	var days []string
	for _, e := range events {
		day := e.Timestamp.UTC().Format(dayLayout)
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], e)
	}

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return err
		}
		existing, err := r.readDay(day)
		if err != nil {
			return err
		}
		fresh := newerThan(byDay[day], maxSeq(existing))
		if len(fresh) == 0 {
			continue
		}
		if err := r.writeDay(day, append(existing, fresh...)); err != nil {
			return err
		}
	}
	return nil
}

// Mirror copies a persisted batch into the daily files.
func (r *FileAuditRepo) Mirror(ctx context.Context, events []*model.AuditEvent) error {
	return r.Append(ctx, events)
}

// Last returns the newest event, or nil.
func (r *FileAuditRepo) Last(ctx context.Context) (*model.AuditEvent, error) {
	return r.Before(ctx, 0)
}

// Before returns the event with the highest seq below seq, or nil. A seq of
// zero or less means no upper bound.
func (r *FileAuditRepo) Before(_ context.Context, seq int64) (*model.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	days, err := r.days()
	if err != nil {
		return nil, err
	}
	for i := len(days) - 1; i >= 0; i-- {
		events, err := r.readDay(days[i])
		if err != nil {
			return nil, err
		}
		var best *model.AuditEvent
		for _, e := range events {
			if seq > 0 && e.Seq >= seq {
				continue
			}
			if best == nil || e.Seq > best.Seq {
				best = e
			}
		}
		if best != nil {
			return best, nil
		}
	}
	return nil, nil
}

// Range returns events inside tr ordered by seq.
func (r *FileAuditRepo) Range(_ context.Context, tr model.TimeRange) ([]*model.AuditEvent, error) {
	return r.collect(tr, func(e *model.AuditEvent) bool { return tr.Contains(e.Timestamp) })
}

// Query returns the newest events matching f, ordered by seq.
func (r *FileAuditRepo) Query(_ context.Context, f model.AuditFilter) ([]*model.AuditEvent, error) {
	events, err := r.collect(f.Range, f.Matches)
	if err != nil {
		return nil, err
	}
	return keepNewest(events, f.Limit), nil
}

func (r *FileAuditRepo) collect(tr model.TimeRange, keep func(*model.AuditEvent) bool) ([]*model.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	days, err := r.days()
	if err != nil {
		return nil, err
	}
	var out []*model.AuditEvent
	for _, day := range days {
		if !dayOverlaps(day, tr) {
			continue
		}
		events, err := r.readDay(day)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if keep(e) {
				out = append(out, e)
			}
		}
	}
	sortBySeq(out)
	return out, nil
}

func dayOverlaps(day string, tr model.TimeRange) bool {
	start, err := time.Parse(dayLayout, day)
	if err != nil {
		return false
	}
	end := start.Add(24 * time.Hour)
	if !tr.From.IsZero() && !end.After(tr.From) {
		return false
	}
	if !tr.To.IsZero() && !start.Before(tr.To) {
		return false
	}
	return true
}

// days lists the day files in ascending order.
func maxSeq(events []*model.AuditEvent) int64 {
	var top int64
	for _, e := range events {
		top = max(top, e.Seq)
	}
	return top
}

func newerThan(events []*model.AuditEvent, seq int64) []*model.AuditEvent {
	out := make([]*model.AuditEvent, 0, len(events))
	for _, e := range events {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

func (r *FileAuditRepo) days() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit directory: %w", err)
	}
	var days []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		day := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse(dayLayout, day); err != nil {
			continue
		}
		days = append(days, day)
	}
	slices.Sort(days)
	return days, nil
}

func (r *FileAuditRepo) path(day string) string {
	return filepath.Join(r.dir, day+".json")
}

func (r *FileAuditRepo) readDay(day string) ([]*model.AuditEvent, error) {
	raw, err := os.ReadFile(r.path(day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audit file %s: %w", day, err)
	}
	var events []*model.AuditEvent
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("failed to decode audit file %s: %w", day, err)
	}
	return events, nil
}

func (r *FileAuditRepo) writeDay(day string, events []*model.AuditEvent) error {
	raw, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode audit file %s: %w", day, err)
	}
	tmp, err := os.CreateTemp(r.dir, day+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write audit file %s: %w", day, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write audit file %s: %w", day, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync audit file %s: %w", day, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close audit file %s: %w", day, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to protect audit file %s: %w", day, err)
	}
	return os.Rename(tmp.Name(), r.path(day))
}
