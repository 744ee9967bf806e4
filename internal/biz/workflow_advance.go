package biz

import (
	"context"
	"fmt"

	"CareFlow/internal/model"
)

// AdvanceOutcome says what an advance call did.
type AdvanceOutcome string

const (
	OutcomeAdvanced        AdvanceOutcome = "advanced"
	OutcomeBranched        AdvanceOutcome = "branched"
	OutcomePaused          AdvanceOutcome = "paused"
	OutcomeWaiting         AdvanceOutcome = "waiting"
	OutcomeCompleted       AdvanceOutcome = "completed"
	OutcomeAlreadyAdvanced AdvanceOutcome = "already_advanced"
)

// AdvanceResult is the outcome of AdvanceWorkflow.
type AdvanceResult struct {
	ClientID  string                `json:"clientId"`
	Outcome   AdvanceOutcome        `json:"outcome"`
	FromPhase int                   `json:"fromPhase"`
	ToPhase   int                   `json:"toPhase"`
	Condition *Condition            `json:"condition,omitempty"`
	Completed bool                  `json:"completed"`
	Phase     *PhaseExecutionResult `json:"phase,omitempty"`
}

// AdvanceWorkflow moves the client forward. Without a trigger, or when the
// current phase has no conditions, it advances to the next phase. With a
// trigger the first matching condition decides; no match leaves the client
// waiting. Advancing past the last phase marks the workflow completed.
//
// The instance is read before the client lock is taken. If another call
// moved it in the meantime this call does nothing, so concurrent advances
// move a client one phase, not two.
func (uc *WorkflowUsecase) AdvanceWorkflow(ctx context.Context, clientID string, trigger map[string]any) (*AdvanceResult, error) {
	branchOverride, err := triggerBranchTarget(trigger)
	if err != nil {
		return nil, err
	}

	snapshot, err := uc.load(ctx, clientID)
	if err != nil {
		return nil, err
	}

	unlock, err := uc.locks.Lock(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inst, err := uc.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	res := &AdvanceResult{ClientID: clientID, FromPhase: snapshot.CurrentPhase, ToPhase: inst.CurrentPhase, Completed: inst.Completed}
	if inst.CurrentPhase != snapshot.CurrentPhase || inst.Version != snapshot.Version {
		res.Outcome = OutcomeAlreadyAdvanced
		uc.metrics.IncAdvance(string(res.Outcome))
		uc.log.Workflow("advance skipped, workflow already moved", "client_id", clientID, "from", snapshot.CurrentPhase, "now", inst.CurrentPhase)
		return res, nil
	}

	phase, err := uc.catalog.Phase(inst.CurrentPhase)
	if err != nil {
		return nil, err
	}

	target := inst.CurrentPhase + 1
	outcome := OutcomeAdvanced
	if len(trigger) > 0 && len(phase.Conditions) > 0 {
		cond := firstMatch(phase.Conditions, trigger)
		if cond == nil {
			res.Outcome = OutcomeWaiting
			uc.metrics.IncAdvance(string(res.Outcome))
			uc.log.Workflow("no advance condition matched", "client_id", clientID, "phase", inst.CurrentPhase)
			return res, nil
		}
		res.Condition = cond
		switch cond.Effect {
		case EffectPause:
			res.Outcome = OutcomePaused
			uc.metrics.IncAdvance(string(res.Outcome))
			uc.recordTransition(ctx, clientID, "workflow_paused", map[string]any{
				"phase":    inst.CurrentPhase,
				"field":    cond.Field,
				"operator": string(cond.Operator),
			})
			return res, nil
		case EffectBranch:
			outcome = OutcomeBranched
			target = cond.BranchTo
			if branchOverride > 0 {
				target = branchOverride
			}
		}
	}

	return uc.transitionLocked(ctx, inst, target, outcome, res)
}

// transitionLocked moves inst to target. The caller holds the client lock.
func (uc *WorkflowUsecase) transitionLocked(ctx context.Context, inst *model.WorkflowInstance, target int, outcome AdvanceOutcome, res *AdvanceResult) (*AdvanceResult, error) {
	from := inst.CurrentPhase
	res.FromPhase = from

	if target > MaxPhase {
		uc.scheduler.Cancel(inst.ClientID)
		inst.Completed = true
		inst.AutoAdvanceAt = nil
		inst.Version++
		inst.UpdatedAt = uc.now().UTC()
		if err := uc.repo.Save(ctx, inst); err != nil {
			return nil, fmt.Errorf("failed to save workflow: %w", err)
		}
		res.Outcome = OutcomeCompleted
		res.ToPhase = from
		res.Completed = true
		uc.metrics.IncAdvance(string(res.Outcome))
		uc.recordTransition(ctx, inst.ClientID, "workflow_completed", map[string]any{
			"workflow_id": inst.WorkflowID,
			"phase":       from,
		})
		uc.broadcast(ctx, model.BroadcastWorkflowCompleted, inst.ClientID, model.PriorityNormal, map[string]any{"phase": from})
		return res, nil
	}

	phase, err := uc.catalog.Phase(target)
	if err != nil {
		return nil, err
	}
	trigger := string(outcome)
	if outcome == OutcomeAdvanced {
		trigger = "advance"
	} else if outcome == OutcomeBranched {
		trigger = "branch"
	}
	exec, err := uc.executeLocked(ctx, inst, phase, trigger)
	if err != nil {
		return nil, err
	}

	res.Outcome = outcome
	res.ToPhase = target
	res.Completed = false
	res.Phase = exec
	uc.metrics.IncAdvance(string(outcome))

	meta := map[string]any{
		"workflow_id": inst.WorkflowID,
		"from":        from,
		"to":          target,
		"outcome":     string(outcome),
	}
	if res.Condition != nil {
		meta["field"] = res.Condition.Field
		meta["effect"] = string(res.Condition.Effect)
	}
	uc.recordTransition(ctx, inst.ClientID, "workflow_advanced", meta)
	uc.broadcast(ctx, model.BroadcastWorkflowAdvanced, inst.ClientID, model.PriorityNormal, map[string]any{"from": from, "to": target})
	return res, nil
}

// RestoreSchedules re-arms the auto-advance timers recorded on persisted
// instances. It runs at startup, since timers do not survive a restart.
// Advances that fell due while the process was down fire right away.
func (uc *WorkflowUsecase) RestoreSchedules(ctx context.Context) (int, error) {
	instances, err := uc.repo.PendingAdvances(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending auto-advances: %w", err)
	}

	now := uc.now()
	restored, overdue := 0, 0
	for _, inst := range instances {
		if inst.AutoAdvanceAt == nil || inst.Completed || inst.CurrentPhase >= MaxPhase {
			continue
		}
		delay := inst.AutoAdvanceAt.Sub(now)
		if delay < 0 {
			delay = 0
			overdue++
		}
		uc.scheduler.Schedule(inst.ClientID, inst.CurrentPhase, inst.CurrentPhase+1, inst.Version, delay)
		restored++
	}
	uc.log.Scheduler("auto-advances restored", "count", restored, "overdue", overdue)
	return restored, nil
}

// onAutoAdvance is the scheduler callback.
func (uc *WorkflowUsecase) onAutoAdvance(clientID string, from, to int, version int64) {
	ctx := context.Background()
	res, err := uc.advanceTo(ctx, clientID, from, to, version)
	if err != nil {
		uc.log.Errorw("msg", "auto-advance failed", "client_id", clientID, "from", from, "to", to, "error", err)
		return
	}
	uc.log.Scheduler("auto-advance handled", "client_id", clientID, "outcome", string(res.Outcome))
}

// advanceTo moves the client from phase from to phase to, unless the
// workflow has moved since the advance was scheduled. Reaching a phase that
// was already reached is a no-op.
func (uc *WorkflowUsecase) advanceTo(ctx context.Context, clientID string, from, to int, version int64) (*AdvanceResult, error) {
	unlock, err := uc.locks.Lock(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inst, err := uc.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	res := &AdvanceResult{ClientID: clientID, FromPhase: from, ToPhase: inst.CurrentPhase, Completed: inst.Completed}
	if inst.CurrentPhase != from || inst.Completed || (version > 0 && inst.Version != version) {
		res.Outcome = OutcomeAlreadyAdvanced
		uc.metrics.IncAdvance(string(res.Outcome))
		return res, nil
	}
	return uc.transitionLocked(ctx, inst, to, OutcomeAdvanced, res)
}

func (uc *WorkflowUsecase) recordTransition(ctx context.Context, clientID, action string, meta map[string]any) {
	if _, err := uc.audit.LogWorkflowEvent(ctx, clientID, action, model.ResultSuccess, meta); err != nil {
		uc.log.Warnw("msg", "failed to record workflow transition", "client_id", clientID, "action", action, "error", err)
	}
}

func firstMatch(conds []Condition, trigger map[string]any) *Condition {
	for i := range conds {
		if conds[i].Matches(trigger) {
			c := conds[i]
			return &c
		}
	}
	return nil
}

// triggerBranchTarget reads an optional branch_to override from a trigger.
func triggerBranchTarget(trigger map[string]any) (int, error) {
	raw, ok := trigger["branch_to"]
	if !ok || raw == nil {
		return 0, nil
	}
	f, ok := toFloat(raw)
	if !ok || f != float64(int(f)) || int(f) < 1 || int(f) > MaxPhase {
		return 0, fmt.Errorf("%w: branch_to must be a phase number within 1..%d", ErrValidation, MaxPhase)
	}
	return int(f), nil
}
