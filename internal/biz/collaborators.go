package biz

import (
	"context"

	"CareFlow/internal/model"
	"CareFlow/pkg/predict"
)

// RecordStore is the external client record store (a CRM in production).
type RecordStore interface {
	Create(ctx context.Context, module string, fields map[string]any) (string, error)
	Update(ctx context.Context, module, id string, fields map[string]any) (bool, error)
	// Get returns nil, nil when the record does not exist.
	Get(ctx context.Context, module, id string) (*model.Record, error)
	AddTags(ctx context.Context, module, id string, tags []string) (bool, error)
	Search(ctx context.Context, module string, criteria map[string]any) ([]*model.Record, error)
}

// Notifier delivers templated messages.
type Notifier interface {
	Send(ctx context.Context, channel model.Channel, template, recipient string, mergeFields map[string]any) (bool, error)
}

// Predictor scores and personalizes.
type Predictor interface {
	Predict(ctx context.Context, modelName string, payload map[string]any) (*predict.Result, error)
}

// CalendarScheduler finds and books meeting slots.
type CalendarScheduler interface {
	// FindSlot returns nil, nil when no slot is available.
	FindSlot(ctx context.Context, attendees []string, durationMinutes int, preferences map[string]any) (*model.Slot, error)
	CreateEvent(ctx context.Context, event *model.CalendarEvent) (string, error)
}

// Broadcaster fans workflow events out to live sessions.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg *model.BroadcastMessage) error
}

// WorkflowRepo persists workflow instances.
type WorkflowRepo interface {
	// Get returns nil, nil when the client has no workflow.
	Get(ctx context.Context, clientID string) (*model.WorkflowInstance, error)
	// Create stores inst unless one already exists for the client.
	Create(ctx context.Context, inst *model.WorkflowInstance) (bool, error)
	Save(ctx context.Context, inst *model.WorkflowInstance) error
	// PendingAdvances lists instances whose auto-advance has not run yet.
	PendingAdvances(ctx context.Context) ([]*model.WorkflowInstance, error)
}

// AuditRepo is a durable, ordered audit event store.
type AuditRepo interface {
	// Append writes events atomically and in order.
	Append(ctx context.Context, events []*model.AuditEvent) error
	// Last returns the event with the highest Seq, or nil when empty.
	Last(ctx context.Context) (*model.AuditEvent, error)
	// Before returns the event immediately preceding seq, or nil.
	Before(ctx context.Context, seq int64) (*model.AuditEvent, error)
	// Range returns events in the range ordered by Seq.
	Range(ctx context.Context, r model.TimeRange) ([]*model.AuditEvent, error)
	Query(ctx context.Context, f model.AuditFilter) ([]*model.AuditEvent, error)
}

// AuditMirror receives a copy of every persisted batch.
type AuditMirror interface {
	Mirror(ctx context.Context, events []*model.AuditEvent) error
}
