package model

import "time"

// ActionResult is the outcome of one phase action.
type ActionResult struct {
	Index      int            `json:"index"`
	ActionType string         `json:"actionType"`
	Success    bool           `json:"success"`
	Skipped    bool           `json:"skipped,omitempty"`
	Error      string         `json:"error,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
}

// PhaseTransition is one entry of a workflow's history.
type PhaseTransition struct {
	Phase     int            `json:"phase"`
	EnteredAt time.Time      `json:"enteredAt"`
	Trigger   string         `json:"trigger"`
	Actions   []ActionResult `json:"actions,omitempty"`
}

// WorkflowInstance is the per-client state machine.
type WorkflowInstance struct {
	WorkflowID     string            `json:"workflowId"`
	ClientID       string            `json:"clientId"`
	CurrentPhase   int               `json:"currentPhase"`
	PhaseEnteredAt time.Time         `json:"phaseEnteredAt"`
	AutoAdvanceAt  *time.Time        `json:"autoAdvanceAt,omitempty"`
	Completed      bool              `json:"completed"`
	Version        int64             `json:"version"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	History        []PhaseTransition `json:"history"`
}

// Clone returns a deep copy so cached instances are never shared.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	c := *w
	if w.AutoAdvanceAt != nil {
		t := *w.AutoAdvanceAt
		c.AutoAdvanceAt = &t
	}
	c.History = make([]PhaseTransition, len(w.History))
	for i, h := range w.History {
		h.Actions = append([]ActionResult(nil), h.Actions...)
		c.History[i] = h
	}
	return &c
}
