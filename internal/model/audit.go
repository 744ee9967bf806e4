// Package model holds the domain types shared by the biz and data layers.
package model

import (
	"time"
)

// EventKind classifies an audit event.
type EventKind string

const (
	EventPHIAccess            EventKind = "phi_access"
	EventPHIModification      EventKind = "phi_modification"
	EventPHICreation          EventKind = "phi_creation"
	EventPHIDeletion          EventKind = "phi_deletion"
	EventAuthentication       EventKind = "user_authentication"
	EventAuthorizationFailure EventKind = "authorization_failure"
	EventDataExport           EventKind = "data_export"
	EventSystemAccess         EventKind = "system_access"
	EventWorkflowAction       EventKind = "workflow_action"
	EventAIInteraction        EventKind = "ai_interaction"
	EventRealtime             EventKind = "realtime_event"
	EventCritical             EventKind = "critical_event"
	EventBulkOperation        EventKind = "bulk_operation"
	EventIntegration          EventKind = "integration_event"
)

var knownKinds = map[EventKind]struct{}{
	EventPHIAccess: {}, EventPHIModification: {}, EventPHICreation: {}, EventPHIDeletion: {},
	EventAuthentication: {}, EventAuthorizationFailure: {}, EventDataExport: {}, EventSystemAccess: {},
	EventWorkflowAction: {}, EventAIInteraction: {}, EventRealtime: {}, EventCritical: {},
	EventBulkOperation: {}, EventIntegration: {},
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// Result is the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPartial Result = "partial"
)

// Valid reports whether r is a known result.
func (r Result) Valid() bool {
	return r == ResultSuccess || r == ResultFailure || r == ResultPartial
}

// RiskLevel grades an audit event.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh || r == RiskCritical
}

// Classification is the sensitivity class of accessed data.
type Classification string

const (
	ClassPublic       Classification = "public"
	ClassInternal     Classification = "internal"
	ClassConfidential Classification = "confidential"
	ClassRestricted   Classification = "restricted"
	ClassPHI          Classification = "phi"
)

// DataDescriptor describes which classified data an event touched.
type DataDescriptor struct {
	Fields         []string       `json:"fields"`
	RecordCount    int            `json:"recordCount"`
	Classification Classification `json:"classification"`
}

// AuditEvent is one immutable, hash-chained audit record. The JSON form is
// the in-memory schema and the daily fallback file schema.
type AuditEvent struct {
	ID           string          `json:"id"`
	Seq          int64           `json:"seq"`
	Timestamp    time.Time       `json:"timestamp"`
	Kind         EventKind       `json:"eventKind"`
	ActorID      string          `json:"actorId"`
	SubjectID    string          `json:"subjectId,omitempty"`
	SourceIP     string          `json:"sourceIp,omitempty"`
	Resource     string          `json:"resource"`
	Action       string          `json:"action"`
	Result       Result          `json:"result"`
	RiskLevel    RiskLevel       `json:"riskLevel"`
	DataAccessed *DataDescriptor `json:"dataAccessed,omitempty"`
	// Metadata is a canonical JSON object, or empty.
	Metadata string `json:"metadata,omitempty"`
	// EncryptedDetails is base64 AES-GCM ciphertext of the redacted details.
	EncryptedDetails string `json:"encryptedDetails,omitempty"`
	PreviousHash     string `json:"previousHash"`
	Hash             string `json:"hash"`
}

// TimeRange is a half-open [From, To) interval. Zero bounds are open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// AuditFilter selects events for Query. Empty fields match everything.
type AuditFilter struct {
	ActorID   string
	SubjectID string
	Kind      EventKind
	Resource  string
	Action    string
	Range     TimeRange
	// Limit keeps the newest Limit events. Zero means no limit.
	Limit int
}

// Matches reports whether e satisfies every non-empty criterion.
func (f AuditFilter) Matches(e *AuditEvent) bool {
	switch {
	case f.ActorID != "" && e.ActorID != f.ActorID:
		return false
	case f.SubjectID != "" && e.SubjectID != f.SubjectID:
		return false
	case f.Kind != "" && e.Kind != f.Kind:
		return false
	case f.Resource != "" && e.Resource != f.Resource:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	}
	return f.Range.Contains(e.Timestamp)
}
