package biz

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"CareFlow/internal/model"
	"CareFlow/pkg/crypto"
)

const hashTimeLayout = "2006-01-02T15:04:05.000000Z"

// hashFields is the canonical input of an event hash: every field except Hash.
func hashFields(e *model.AuditEvent) map[string]any {
	var data any
	if e.DataAccessed != nil {
		fields := e.DataAccessed.Fields
		if fields == nil {
			fields = []string{}
		}
		data = map[string]any{
			"fields":         fields,
			"recordCount":    e.DataAccessed.RecordCount,
			"classification": string(e.DataAccessed.Classification),
		}
	}
	return map[string]any{
		"id":               e.ID,
		"seq":              e.Seq,
		"timestamp":        e.Timestamp.UTC().Format(hashTimeLayout),
		"eventKind":        string(e.Kind),
		"actorId":          e.ActorID,
		"subjectId":        e.SubjectID,
		"sourceIp":         e.SourceIP,
		"resource":         e.Resource,
		"action":           e.Action,
		"result":           string(e.Result),
		"riskLevel":        string(e.RiskLevel),
		"dataAccessed":     data,
		"metadata":         e.Metadata,
		"encryptedDetails": e.EncryptedDetails,
		"previousHash":     e.PreviousHash,
	}
}

func eventHash(signer *crypto.Signer, e *model.AuditEvent) (string, error) {
	sum, err := signer.SumFields(hashFields(e))
	if err != nil {
		return "", fmt.Errorf("failed to hash audit event %s: %w", e.ID, err)
	}
	return sum, nil
}

func hashMatches(signer *crypto.Signer, e *model.AuditEvent) bool {
	sum, err := eventHash(signer, e)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sum), []byte(e.Hash)) == 1
}

// redactedKeys are replaced before details are encrypted.
var redactedKeys = []string{"password", "ssn", "credit_card", "bank_account"}

func redactDetails(details map[string]any) map[string]any {
	out := make(map[string]any, len(details))
	for k, v := range details {
		if slices.Contains(redactedKeys, strings.ToLower(k)) && v != nil && v != "" {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

// assessRisk grades a draft that did not set its own risk level.
func assessRisk(d Draft) model.RiskLevel {
	switch d.Kind {
	case model.EventPHIAccess:
		if d.DataAccessed != nil {
			for _, f := range d.DataAccessed.Fields {
				if strings.EqualFold(f, "ssn") {
					return model.RiskHigh
				}
			}
		}
	case model.EventAuthentication, model.EventAuthorizationFailure:
		if d.Result == model.ResultFailure {
			return model.RiskMedium
		}
	case model.EventPHIModification:
		if strings.EqualFold(d.Action, "delete") {
			return model.RiskHigh
		}
	case model.EventPHIDeletion:
		return model.RiskHigh
	case model.EventAIInteraction:
		return model.RiskMedium
	case model.EventCritical:
		return model.RiskCritical
	}
	return model.RiskLow
}

// escalationSink is a separate chained sequence written synchronously, one
// event at a time, bypassing the queue.
type escalationSink struct {
	mu       sync.Mutex
	repo     AuditRepo
	head     chainHead
	restored bool
}

func (s *escalationSink) write(ctx context.Context, a *AuditLog, e *model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.restored {
		last, err := s.repo.Last(ctx)
		if err != nil {
			return fmt.Errorf("failed to restore escalation chain: %w", err)
		}
		if last != nil {
			s.head = chainHead{seq: last.Seq, hash: last.Hash}
		}
		s.restored = true
	}

	if err := a.seal(e, s.head); err != nil {
		return err
	}
	if err := s.repo.Append(ctx, []*model.AuditEvent{e}); err != nil {
		return err
	}
	s.head = chainHead{seq: e.Seq, hash: e.Hash}
	return nil
}

// escalate writes a critical event to the escalation sink, logs it at
// security level and pushes an alert. It never returns an error: if the sink
// itself fails the full event goes to the security log.
func (a *AuditLog) escalate(ctx context.Context, reason string, details map[string]any) {
	ctx = context.WithoutCancel(ctx)
	a.metrics.IncEscalation(reason)

	event, err := a.prepare(ctx, Draft{
		Kind:      model.EventCritical,
		ActorID:   "system",
		Resource:  "audit_log",
		Action:    reason,
		Result:    model.ResultFailure,
		RiskLevel: model.RiskCritical,
		Metadata:  details,
	})
	if err == nil {
		err = a.escalation.write(ctx, a, event)
	}
	if err != nil {
		a.log.Security("audit escalation sink failed", "reason", reason, "details", details, "error", err)
	} else {
		a.log.Security("audit escalation recorded", "reason", reason, "escalation_id", event.ID, "details", details)
	}

	if a.alerts != nil {
		msg := &model.BroadcastMessage{
			Type:      model.BroadcastAuditAlert,
			Data:      map[string]any{"reason": reason, "details": details},
			Timestamp: a.now().UTC(),
			Priority:  model.PriorityHigh,
		}
		if err := a.alerts.Broadcast(ctx, msg); err != nil {
			a.log.Warnw("msg", "audit alert broadcast failed", "reason", reason, "error", err)
		}
	}
}

// Escalations returns escalation events within r.
func (a *AuditLog) Escalations(ctx context.Context, r model.TimeRange) ([]*model.AuditEvent, error) {
	return a.escalation.repo.Range(ctx, r)
}

func formatRangeBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
