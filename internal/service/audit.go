package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"CareFlow/internal/biz"
	"CareFlow/internal/model"
	pkglog "CareFlow/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

const maxQueryLimit = 1000

// TimeRangeRequest is an RFC 3339 [from, to) window. Empty bounds are open.
type TimeRangeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ExportRequest asks for a decrypted export.
type ExportRequest struct {
	TimeRangeRequest
	Format string `json:"format"`
}

// ExportReply is an export document with its content type.
type ExportReply struct {
	ContentType string
	Body        []byte
}

// QueryEventsReply lists stored events. Details stay encrypted.
type QueryEventsReply struct {
	Events []*model.AuditEvent `json:"events"`
	Count  int                 `json:"count"`
}

// AuditService exposes the audit log to reviewers.
type AuditService struct {
	audit   *biz.AuditLog
	limiter *biz.RateLimiterUseCase
	logger  *log.Helper
}

// NewAuditService creates an AuditService.
func NewAuditService(audit *biz.AuditLog, limiter *biz.RateLimiterUseCase, logger log.Logger) *AuditService {
	return &AuditService{
		audit:   audit,
		limiter: limiter,
		logger:  log.NewHelper(log.With(logger, "module", "service/audit")),
	}
}

// QueryEvents returns events matching the filter.
func (s *AuditService) QueryEvents(ctx context.Context, req *model.AuditFilter) (*QueryEventsReply, error) {
	events, err := s.audit.Query(ctx, *req)
	if err != nil {
		return nil, toKratosError(err)
	}
	return &QueryEventsReply{Events: events, Count: len(events)}, nil
}

// VerifyIntegrity checks the chain over the requested window.
func (s *AuditService) VerifyIntegrity(ctx context.Context, req *TimeRangeRequest) (*biz.IntegrityReport, error) {
	r, err := req.parse()
	if err != nil {
		return nil, err
	}
	report, err := s.audit.VerifyIntegrity(ctx, r)
	if err != nil {
		return nil, toKratosError(err)
	}
	return report, nil
}

// ExportForReview returns a decrypted export for the calling actor.
func (s *AuditService) ExportForReview(ctx context.Context, req *ExportRequest) (*ExportReply, error) {
	r, err := req.parse()
	if err != nil {
		return nil, err
	}
	format, err := biz.ParseExportFormat(req.Format)
	if err != nil {
		return nil, toKratosError(err)
	}
	actor := pkglog.GetActorID(ctx)
	if err := s.limiter.CheckExport(ctx, actor); err != nil {
		return nil, toKratosError(err)
	}
	body, err := s.audit.ExportForReview(ctx, r, format, actor)
	if err != nil {
		s.logger.Errorw("msg", "export failed", "format", format, "error", err)
		return nil, toKratosError(err)
	}
	reply := &ExportReply{ContentType: "application/json", Body: body}
	if format == biz.FormatCSV {
		reply.ContentType = "text/csv"
	}
	return reply, nil
}

// ComplianceReport summarizes the requested window.
func (s *AuditService) ComplianceReport(ctx context.Context, req *TimeRangeRequest) (*biz.ComplianceReport, error) {
	r, err := req.parse()
	if err != nil {
		return nil, err
	}
	report, err := s.audit.ComplianceReport(ctx, r)
	if err != nil {
		return nil, toKratosError(err)
	}
	return report, nil
}

func (r *TimeRangeRequest) parse() (model.TimeRange, error) {
	var (
		out model.TimeRange
		err error
	)
	if out.From, err = parseTime("from", r.From); err != nil {
		return out, err
	}
	if out.To, err = parseTime("to", r.To); err != nil {
		return out, err
	}
	if !out.From.IsZero() && !out.To.IsZero() && !out.From.Before(out.To) {
		return out, kerrors.BadRequest(ReasonValidation, "from must be before to")
	}
	return out, nil
}

func parseTime(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, kerrors.BadRequest(ReasonValidation, fmt.Sprintf("%s must be RFC 3339", name))
	}
	return t.UTC(), nil
}

// filterFromQuery decodes GET /v1/audit/events parameters.
func filterFromQuery(q url.Values) (*model.AuditFilter, error) {
	r, err := (&TimeRangeRequest{From: q.Get("from"), To: q.Get("to")}).parse()
	if err != nil {
		return nil, err
	}
	f := &model.AuditFilter{
		ActorID:   q.Get("actor_id"),
		SubjectID: q.Get("subject_id"),
		Kind:      model.EventKind(q.Get("kind")),
		Resource:  q.Get("resource"),
		Action:    q.Get("action"),
		Range:     r,
		Limit:     100,
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, kerrors.BadRequest(ReasonValidation, fmt.Sprintf("unknown event kind %q", f.Kind))
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, kerrors.BadRequest(ReasonValidation, "limit must be a positive integer")
		}
		f.Limit = min(n, maxQueryLimit)
	}
	return f, nil
}
