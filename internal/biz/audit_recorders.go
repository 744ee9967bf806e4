package biz

import (
	"context"

	"CareFlow/internal/model"
)

// LogPHIAccess records a read of PHI fields for a client.
func (a *AuditLog) LogPHIAccess(ctx context.Context, actorID, clientID, resource string, fields []string, sourceIP string) error {
	_, err := a.Record(ctx, Draft{
		Kind:      model.EventPHIAccess,
		ActorID:   actorID,
		SubjectID: clientID,
		SourceIP:  sourceIP,
		Resource:  resource,
		Action:    "read",
		DataAccessed: &model.DataDescriptor{
			Fields:         fields,
			RecordCount:    1,
			Classification: model.ClassPHI,
		},
		Metadata: map[string]any{"access_method": "portal"},
	})
	return err
}

// LogPHIModification records a create, update or delete of PHI fields.
// Old and new values go into the encrypted details.
func (a *AuditLog) LogPHIModification(ctx context.Context, actorID, clientID, resource, action string, fields []string, oldValues, newValues map[string]any, sourceIP string) error {
	kind := model.EventPHIModification
	switch action {
	case "create":
		kind = model.EventPHICreation
	case "delete":
		kind = model.EventPHIDeletion
	}
	_, err := a.Record(ctx, Draft{
		Kind:      kind,
		ActorID:   actorID,
		SubjectID: clientID,
		SourceIP:  sourceIP,
		Resource:  resource,
		Action:    action,
		DataAccessed: &model.DataDescriptor{
			Fields:         fields,
			RecordCount:    1,
			Classification: model.ClassPHI,
		},
		Details: map[string]any{
			"old_values":    redactDetails(oldValues),
			"new_values":    redactDetails(newValues),
			"change_reason": "user_modification",
		},
	})
	return err
}

// LogAuthentication records a login, logout or token refresh.
func (a *AuditLog) LogAuthentication(ctx context.Context, actorID, action string, result model.Result, sourceIP string, metadata map[string]any) error {
	_, err := a.Record(ctx, Draft{
		Kind:     model.EventAuthentication,
		ActorID:  actorID,
		SourceIP: sourceIP,
		Resource: "authentication_system",
		Action:   action,
		Result:   result,
		Metadata: metadata,
	})
	return err
}

// LogWorkflowEvent records a workflow engine event for a client.
func (a *AuditLog) LogWorkflowEvent(ctx context.Context, clientID, action string, result model.Result, metadata map[string]any) (*model.AuditEvent, error) {
	return a.Record(ctx, Draft{
		Kind:      model.EventWorkflowAction,
		ActorID:   "system",
		SubjectID: clientID,
		Resource:  "workflow_engine",
		Action:    action,
		Result:    result,
		RiskLevel: model.RiskLow,
		Metadata:  metadata,
	})
}

// LogAIInteraction records a call to the prediction service about a client.
func (a *AuditLog) LogAIInteraction(ctx context.Context, clientID, interactionType string, result model.Result, metadata map[string]any) error {
	_, err := a.Record(ctx, Draft{
		Kind:      model.EventAIInteraction,
		ActorID:   "system",
		SubjectID: clientID,
		Resource:  "prediction_service",
		Action:    interactionType,
		Result:    result,
		Metadata:  metadata,
	})
	return err
}

// LogCriticalEvent records a security event that is persisted before
// returning and pushed as an alert.
func (a *AuditLog) LogCriticalEvent(ctx context.Context, actorID, eventType string, details map[string]any, sourceIP string) error {
	_, err := a.Record(ctx, Draft{
		Kind:      model.EventCritical,
		ActorID:   actorID,
		SourceIP:  sourceIP,
		Resource:  "security_system",
		Action:    eventType,
		RiskLevel: model.RiskCritical,
		Metadata:  details,
	})
	if a.alerts != nil {
		msg := &model.BroadcastMessage{
			Type:      model.BroadcastAuditAlert,
			Data:      map[string]any{"event": eventType},
			Timestamp: a.now().UTC(),
			Priority:  model.PriorityHigh,
		}
		if berr := a.alerts.Broadcast(ctx, msg); berr != nil {
			a.log.Warnw("msg", "critical event alert broadcast failed", "event", eventType, "error", berr)
		}
	}
	return err
}
