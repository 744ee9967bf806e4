package biz

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"time"

	"CareFlow/internal/model"

	"golang.org/x/sync/errgroup"
)

// executeLocked runs phase for inst. The caller holds the client lock.
func (uc *WorkflowUsecase) executeLocked(ctx context.Context, inst *model.WorkflowInstance, phase *PhaseDefinition, trigger string) (*PhaseExecutionResult, error) {
	clientID := inst.ClientID
	uc.scheduler.Cancel(clientID)

	rec, err := uc.records.Get(ctx, model.ModuleContacts, clientID)
	if err == nil && rec == nil {
		err = fmt.Errorf("client %s not found", clientID)
	}
	if err != nil {
		err = collabErr("record_store", "get", err)
		uc.phaseError(ctx, clientID, phase.ID, err)
		return nil, err
	}

	now := uc.now().UTC()
	statusErrors := uc.updateClientStatus(ctx, clientID, phase, now)

	var history []map[string]any
	for _, a := range phase.Actions {
		if a.Personalize {
			history = uc.interactionHistory(ctx, clientID)
			break
		}
	}

	results := uc.runActions(ctx, clientID, phase, rec, history)

	inst.CurrentPhase = phase.ID
	inst.PhaseEnteredAt = now
	inst.Completed = false
	inst.Version++
	inst.UpdatedAt = now
	inst.AutoAdvanceAt = nil
	inst.History = append(inst.History, model.PhaseTransition{
		Phase:     phase.ID,
		EnteredAt: now,
		Trigger:   trigger,
		Actions:   results,
	})

	var timeout time.Duration
	if phase.AutoAdvance {
		timeout = uc.opts.DefaultTimeout
		if phase.TimeoutHours > 0 {
			timeout = time.Duration(phase.TimeoutHours) * uc.opts.hour
		}
		at := now.Add(timeout)
		inst.AutoAdvanceAt = &at
	}

	if err := uc.repo.Save(ctx, inst); err != nil {
		err = fmt.Errorf("failed to save workflow: %w", err)
		uc.phaseError(ctx, clientID, phase.ID, err)
		return nil, err
	}

	out := &PhaseExecutionResult{
		ClientID:      clientID,
		WorkflowID:    inst.WorkflowID,
		Phase:         phase.ID,
		PhaseName:     phase.Name,
		Status:        phase.Status,
		Result:        summarize(results),
		Actions:       results,
		StatusErrors:  statusErrors,
		AutoAdvanceAt: inst.AutoAdvanceAt,
	}
	if phase.AutoAdvance {
		out.NextPhase = phase.ID + 1
		uc.scheduler.Schedule(clientID, phase.ID, phase.ID+1, inst.Version, timeout)
	}

	summary := make([]map[string]any, len(results))
	for i, r := range results {
		summary[i] = map[string]any{"index": r.Index, "action": r.ActionType, "success": r.Success, "skipped": r.Skipped, "error": r.Error}
	}
	event, err := uc.audit.LogWorkflowEvent(ctx, clientID, "phase_executed", out.Result, map[string]any{
		"workflow_id":    inst.WorkflowID,
		"phase":          phase.ID,
		"phase_name":     phase.Name,
		"trigger":        trigger,
		"auto_advance":   phase.AutoAdvance,
		"action_results": summary,
		"status_errors":  statusErrors,
		"version":        inst.Version,
	})
	if err != nil {
		uc.log.Warnw("msg", "failed to record phase execution", "client_id", clientID, "phase", phase.ID, "error", err)
	} else if event != nil {
		out.AuditEventID = event.ID
	}
	uc.metrics.IncPhaseExecution(strconv.Itoa(phase.ID), string(out.Result))

	uc.broadcast(ctx, model.BroadcastPhaseProgress, clientID, model.PriorityNormal, map[string]any{
		"phase":      phase.ID,
		"phase_name": phase.Name,
		"status":     phase.Status,
		"result":     string(out.Result),
		"progress":   progressPercent(phase.ID),
	})

	uc.log.Workflow("phase executed", "client_id", clientID, "phase", phase.ID, "result", string(out.Result), "trigger", trigger)
	return out, nil
}

// updateClientStatus writes the phase status and tags to the client record.
// Failures are reported, not fatal.
func (uc *WorkflowUsecase) updateClientStatus(ctx context.Context, clientID string, phase *PhaseDefinition, now time.Time) []string {
	var problems []string
	ok, err := uc.records.Update(ctx, model.ModuleContacts, clientID, map[string]any{
		"Lead_Status":      phase.Status,
		"Workflow_Phase":   phase.ID,
		"Phase_Start_Time": now.Format(time.RFC3339),
	})
	switch {
	case err != nil:
		problems = append(problems, collabErr("record_store", "update", err).Error())
	case !ok:
		problems = append(problems, "record_store.update: status not updated")
	}

	if len(phase.Tags) > 0 {
		ok, err := uc.records.AddTags(ctx, model.ModuleContacts, clientID, phase.Tags)
		switch {
		case err != nil:
			problems = append(problems, collabErr("record_store", "add_tags", err).Error())
		case !ok:
			problems = append(problems, "record_store.add_tags: tags not added")
		}
	}

	for _, p := range problems {
		uc.log.Warnw("msg", "client status update failed", "client_id", clientID, "phase", phase.ID, "error", p)
	}
	return problems
}

// runActions executes every action concurrently. One failure never stops the
// others; results keep declaration order.
func (uc *WorkflowUsecase) runActions(ctx context.Context, clientID string, phase *PhaseDefinition, rec *model.Record, history []map[string]any) []model.ActionResult {
	results := make([]model.ActionResult, len(phase.Actions))
	var g errgroup.Group
	for i, action := range phase.Actions {
		g.Go(func() error {
			results[i] = uc.runAction(ctx, clientID, phase.ID, i, action, rec, history)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (uc *WorkflowUsecase) runAction(ctx context.Context, clientID string, phaseID, index int, action ActionDef, rec *model.Record, history []map[string]any) (result model.ActionResult) {
	result = model.ActionResult{Index: index, ActionType: action.Name}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("action panicked: %v", r)
		}
		uc.recordAction(ctx, clientID, phaseID, action, result)
	}()

	for _, flag := range action.Requires {
		if !rec.Bool(flag) {
			result.Skipped = true
			result.Success = true
			result.Output = map[string]any{"skipped_reason": "requires " + flag}
			return result
		}
	}

	params := maps.Clone(action.Params)
	if params == nil {
		params = map[string]any{}
	}
	if action.Personalize {
		params = uc.personalize(ctx, clientID, action, rec, params, history)
	}
	if action.DelayMinutes > 0 {
		at := uc.now().UTC().Add(time.Duration(action.DelayMinutes) * time.Minute).Format(time.RFC3339)
		switch action.Kind {
		case ActionEmail, ActionSMS, ActionPush, ActionTeamNotify:
			params["send_at"] = at
		default:
			params["start_after"] = at
		}
	}

	out, err := uc.actions.Execute(ctx, &ActionRequest{
		ClientID: clientID,
		Phase:    phaseID,
		Action:   action,
		Params:   params,
		Record:   rec,
	})
	if err != nil {
		result.Error = err.Error()
		uc.metrics.IncActionFailure(string(action.Kind))
		uc.log.Warnw("msg", "action failed", "client_id", clientID, "phase", phaseID, "action", action.Name, "error", err)
		return result
	}
	result.Success = true
	result.Output = out
	uc.log.Action("action executed", "client_id", clientID, "phase", phaseID, "action", action.Name)
	return result
}

func (uc *WorkflowUsecase) recordAction(ctx context.Context, clientID string, phaseID int, action ActionDef, r model.ActionResult) {
	res := model.ResultSuccess
	if !r.Success {
		res = model.ResultFailure
	}
	meta := map[string]any{
		"phase":    phaseID,
		"action":   action.Name,
		"kind":     string(action.Kind),
		"priority": string(action.Priority),
		"skipped":  r.Skipped,
	}
	if r.Error != "" {
		meta["error"] = r.Error
	}
	if _, err := uc.audit.LogWorkflowEvent(ctx, clientID, "action_"+action.Name, res, meta); err != nil {
		uc.log.Warnw("msg", "failed to record action", "client_id", clientID, "action", action.Name, "error", err)
	}

	if action.Kind == ActionAIAnalysis || action.Kind == ActionProviderMatching {
		if err := uc.audit.LogAIInteraction(ctx, clientID, action.Name, res, meta); err != nil {
			uc.log.Warnw("msg", "failed to record ai interaction", "client_id", clientID, "action", action.Name, "error", err)
		}
	}
}

// personalize asks the predictor to tailor params. Any failure returns the
// original params unchanged.
func (uc *WorkflowUsecase) personalize(ctx context.Context, clientID string, action ActionDef, rec *model.Record, params map[string]any, history []map[string]any) map[string]any {
	if uc.predictor == nil {
		return params
	}
	res, err := uc.predictor.Predict(ctx, "client_personalization", map[string]any{
		"client_profile":          rec.Fields,
		"action_type":             action.Name,
		"action_kind":             string(action.Kind),
		"historical_interactions": history,
	})
	if err != nil || res == nil {
		uc.log.Warnw("msg", "personalization failed, using original params", "client_id", clientID, "action", action.Name, "error", err)
		if aerr := uc.audit.LogAIInteraction(ctx, clientID, "client_personalization", model.ResultFailure, map[string]any{"action": action.Name}); aerr != nil {
			uc.log.Warnw("msg", "failed to record ai interaction", "client_id", clientID, "error", aerr)
		}
		return params
	}

	out := maps.Clone(params)
	out["personalization"] = res.Prediction
	out["personalization_confidence"] = res.Confidence
	if action.Kind == ActionProviderMatching {
		criteria := map[string]any{}
		if existing, ok := params["matching_criteria"].(map[string]any); ok {
			maps.Copy(criteria, existing)
		}
		for _, key := range []string{"personality_importance", "experience_importance", "location_importance"} {
			if v, ok := res.Prediction[key]; ok {
				criteria[key] = v
			}
		}
		out["matching_criteria"] = criteria
	}
	return out
}

// interactionHistory returns the client's most recent audit events in a
// form safe to send to the predictor.
func (uc *WorkflowUsecase) interactionHistory(ctx context.Context, clientID string) []map[string]any {
	events, err := uc.audit.Query(ctx, model.AuditFilter{SubjectID: clientID, Limit: uc.opts.HistoryLimit})
	if err != nil {
		uc.log.Warnw("msg", "failed to load interaction history", "client_id", clientID, "error", err)
		return nil
	}
	history := make([]map[string]any, 0, len(events))
	for _, e := range events {
		history = append(history, map[string]any{
			"timestamp": e.Timestamp.Format(time.RFC3339),
			"eventKind": string(e.Kind),
			"action":    e.Action,
			"result":    string(e.Result),
		})
	}
	return history
}

func (uc *WorkflowUsecase) phaseError(ctx context.Context, clientID string, phaseID int, err error) {
	uc.metrics.IncPhaseExecution(strconv.Itoa(phaseID), "error")
	if _, aerr := uc.audit.LogWorkflowEvent(ctx, clientID, "phase_error", model.ResultFailure, map[string]any{
		"phase": phaseID,
		"error": err.Error(),
	}); aerr != nil {
		uc.log.Warnw("msg", "failed to record phase error", "client_id", clientID, "error", aerr)
	}
	uc.log.Errorw("msg", "phase execution failed", "client_id", clientID, "phase", phaseID, "error", err)
}

// summarize folds action results into one outcome. Skipped actions count as
// successes.
func summarize(results []model.ActionResult) model.Result {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	switch {
	case failed == 0:
		return model.ResultSuccess
	case failed == len(results):
		return model.ResultFailure
	default:
		return model.ResultPartial
	}
}
