package biz

import (
	"context"
	"fmt"
	"math"
	"time"

	"CareFlow/internal/model"

	"github.com/google/uuid"
)

// IntegrityReport is the result of a chain verification.
type IntegrityReport struct {
	Range      model.TimeRange `json:"range"`
	Valid      bool            `json:"valid"`
	Checked    int             `json:"checked"`
	BrokenAt   []string        `json:"brokenAt"`
	VerifiedAt time.Time       `json:"verifiedAt"`
}

// Err returns an *IntegrityError for an invalid report, nil otherwise.
func (r *IntegrityReport) Err() error {
	if r == nil || r.Valid {
		return nil
	}
	return &IntegrityError{BrokenAt: r.BrokenAt}
}

// Score is the share of events before the first break, in percent.
func (r *IntegrityReport) Score() float64 {
	if r == nil || r.Checked == 0 {
		return 100
	}
	return float64(r.Checked-len(r.BrokenAt)) / float64(r.Checked) * 100
}

// VerifyIntegrity recomputes every stored hash in r and checks each
// previous-hash link. The first bad event and every event after it are
// reported as broken. A broken chain is escalated, never repaired. The
// verification itself is recorded as a system_access event.
func (a *AuditLog) VerifyIntegrity(ctx context.Context, r model.TimeRange) (*IntegrityReport, error) {
	if err := a.Flush(ctx); err != nil {
		a.log.Warnw("msg", "verifying with unflushed audit events", "error", err)
	}

	events, err := a.repo.Range(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit events: %w", err)
	}

	report := &IntegrityReport{
		Range:      r,
		Valid:      true,
		Checked:    len(events),
		BrokenAt:   []string{},
		VerifiedAt: a.now().UTC(),
	}

	if len(events) > 0 {
		expectedPrev, linked, err := a.predecessorHash(ctx, events[0])
		if err != nil {
			return nil, err
		}
		for i, e := range events {
			if !linked || e.PreviousHash != expectedPrev || !hashMatches(a.signer, e) {
				report.Valid = false
				for _, broken := range events[i:] {
					report.BrokenAt = append(report.BrokenAt, broken.ID)
				}
				break
			}
			expectedPrev = e.Hash
		}
	}

	result := model.ResultSuccess
	if !report.Valid {
		result = model.ResultFailure
		a.metrics.IncIntegrityFailure()
		a.escalate(ctx, "audit_integrity_failure", map[string]any{
			"from":         formatRangeBound(r.From),
			"to":           formatRangeBound(r.To),
			"checked":      report.Checked,
			"broken_count": len(report.BrokenAt),
			"first_broken": report.BrokenAt[0],
		})
	}

	if _, err := a.Record(ctx, Draft{
		Kind:     model.EventSystemAccess,
		Resource: "audit_log",
		Action:   "verify_integrity",
		Result:   result,
		Metadata: map[string]any{
			"from":         formatRangeBound(r.From),
			"to":           formatRangeBound(r.To),
			"checked":      report.Checked,
			"valid":        report.Valid,
			"broken_count": len(report.BrokenAt),
		},
	}); err != nil {
		a.log.Warnw("msg", "failed to record integrity verification", "error", err)
	}

	return report, nil
}

// predecessorHash returns the hash the first event in a range must link to.
// linked is false when a predecessor should exist but is missing.
func (a *AuditLog) predecessorHash(ctx context.Context, first *model.AuditEvent) (string, bool, error) {
	if first.Seq <= 1 {
		return "", true, nil
	}
	pred, err := a.repo.Before(ctx, first.Seq)
	if err != nil {
		return "", false, fmt.Errorf("failed to load predecessor of seq %d: %w", first.Seq, err)
	}
	if pred == nil || pred.Seq != first.Seq-1 {
		return "", false, nil
	}
	return pred.Hash, true, nil
}

// ComplianceReport summarizes audit activity over a period.
type ComplianceReport struct {
	ReportID       string                  `json:"reportId"`
	GeneratedAt    time.Time               `json:"generatedAt"`
	Range          model.TimeRange         `json:"range"`
	TotalEvents    int                     `json:"totalEvents"`
	ByKind         map[model.EventKind]int `json:"byKind"`
	ByRisk         map[model.RiskLevel]int `json:"byRisk"`
	HighRiskEvents int                     `json:"highRiskEvents"`
	FailedEvents   int                     `json:"failedEvents"`
	UniqueActors   int                     `json:"uniqueActors"`
	PHIAccesses    int                     `json:"phiAccesses"`
	IntegrityValid bool                    `json:"integrityValid"`
	IntegrityScore float64                 `json:"integrityScore"`
	Escalations    int                     `json:"escalations"`
	Integrity      *IntegrityReport        `json:"integrity"`
	Results        map[model.Result]int    `json:"results"`
}

// ComplianceReport counts events in r by kind, risk and result and attaches
// an integrity verification of the same range.
func (a *AuditLog) ComplianceReport(ctx context.Context, r model.TimeRange) (*ComplianceReport, error) {
	integrity, err := a.VerifyIntegrity(ctx, r)
	if err != nil {
		return nil, err
	}

	events, err := a.repo.Range(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit events: %w", err)
	}

	report := &ComplianceReport{
		ReportID:       uuid.NewString(),
		GeneratedAt:    a.now().UTC(),
		Range:          r,
		ByKind:         map[model.EventKind]int{},
		ByRisk:         map[model.RiskLevel]int{},
		Results:        map[model.Result]int{},
		IntegrityValid: integrity.Valid,
		IntegrityScore: math.Round(integrity.Score()*100) / 100,
		Integrity:      integrity,
	}

	actors := map[string]struct{}{}
	for _, e := range events {
		report.TotalEvents++
		report.ByKind[e.Kind]++
		report.ByRisk[e.RiskLevel]++
		report.Results[e.Result]++
		actors[e.ActorID] = struct{}{}
		if e.RiskLevel == model.RiskHigh || e.RiskLevel == model.RiskCritical {
			report.HighRiskEvents++
		}
		if e.Result == model.ResultFailure {
			report.FailedEvents++
		}
		if e.Kind == model.EventPHIAccess {
			report.PHIAccesses++
		}
	}
	report.UniqueActors = len(actors)

	escalations, err := a.Escalations(ctx, r)
	if err != nil {
		a.log.Warnw("msg", "failed to count escalations", "error", err)
	} else {
		report.Escalations = len(escalations)
	}

	a.log.Audit("compliance report generated",
		"report_id", report.ReportID,
		"total_events", report.TotalEvents,
		"high_risk", report.HighRiskEvents,
		"integrity_score", report.IntegrityScore,
	)
	return report, nil
}
