package biz

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// MaxPhase is the last phase of the client lifecycle. It has no successor.
const MaxPhase = 18

// ActionKind is the closed set of action types a phase may declare.
type ActionKind string

const (
	ActionEmail            ActionKind = "email"
	ActionSMS              ActionKind = "sms"
	ActionPush             ActionKind = "push"
	ActionTeamNotify       ActionKind = "team_notify"
	ActionRecordUpdate     ActionKind = "record_update"
	ActionRecordCreate     ActionKind = "record_create"
	ActionTask             ActionKind = "task"
	ActionCalendar         ActionKind = "calendar"
	ActionProviderMatching ActionKind = "provider_matching"
	ActionAIAnalysis       ActionKind = "ai_analysis"
)

// ActionKinds lists every supported kind.
var ActionKinds = []ActionKind{
	ActionEmail, ActionSMS, ActionPush, ActionTeamNotify, ActionRecordUpdate,
	ActionRecordCreate, ActionTask, ActionCalendar, ActionProviderMatching, ActionAIAnalysis,
}

func (k ActionKind) valid() bool {
	for _, known := range ActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Priority orders actions for the people who act on them.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Operator compares a trigger field against a condition value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Effect is what a matching condition does to the workflow.
type Effect string

const (
	EffectAdvance Effect = "advance"
	EffectBranch  Effect = "branch"
	EffectPause   Effect = "pause"
)

// Condition is an advance rule evaluated against a trigger payload.
type Condition struct {
	Field    string   `yaml:"field" json:"field"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    any      `yaml:"value" json:"value"`
	Effect   Effect   `yaml:"effect" json:"effect"`
	// BranchTo is the default target of a branch effect. A trigger may
	// override it with its own branch_to field.
	BranchTo int `yaml:"branch_to,omitempty" json:"branchTo,omitempty"`
}

// Matches reports whether trigger satisfies the condition. A missing field
// never matches.
func (c Condition) Matches(trigger map[string]any) bool {
	got, ok := trigger[c.Field]
	if !ok || got == nil {
		return false
	}
	switch c.Operator {
	case OpEquals:
		return valuesEqual(got, c.Value)
	case OpContains:
		return contains(got, c.Value)
	case OpGreaterThan:
		a, okA := toFloat(got)
		b, okB := toFloat(c.Value)
		return okA && okB && a > b
	case OpLessThan:
		a, okA := toFloat(got)
		b, okB := toFloat(c.Value)
		return okA && okB && a < b
	}
	return false
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	return reflect.DeepEqual(a, b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(strings.ToLower(h), strings.ToLower(n))
	case []any:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true
			}
		}
	case []string:
		n, ok := needle.(string)
		if !ok {
			return false
		}
		for _, item := range h {
			if item == n {
				return true
			}
		}
	}
	return false
}

// toFloat accepts numbers but not numeric strings, so "10" never equals 10.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	}
	return 0, false
}

// ActionDef is one side-effecting step of a phase.
type ActionDef struct {
	// Name identifies the action in results and audit events.
	Name         string     `yaml:"name" json:"name"`
	Kind         ActionKind `yaml:"kind" json:"kind"`
	Template     string     `yaml:"template,omitempty" json:"template,omitempty"`
	Priority     Priority   `yaml:"priority" json:"priority"`
	DelayMinutes int        `yaml:"delay_minutes,omitempty" json:"delayMinutes,omitempty"`
	Personalize  bool       `yaml:"personalize,omitempty" json:"personalize,omitempty"`
	// Requires lists boolean client record fields that must all be true.
	Requires []string       `yaml:"requires,omitempty" json:"requires,omitempty"`
	Params   map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// PhaseDefinition is one static stage of the client lifecycle.
type PhaseDefinition struct {
	ID           int         `yaml:"id" json:"id"`
	Name         string      `yaml:"name" json:"name"`
	Description  string      `yaml:"description" json:"description"`
	Status       string      `yaml:"status" json:"status"`
	Tags         []string    `yaml:"tags" json:"tags"`
	AutoAdvance  bool        `yaml:"auto_advance,omitempty" json:"autoAdvance"`
	TimeoutHours int         `yaml:"timeout_hours,omitempty" json:"timeoutHours,omitempty"`
	Triggers     []string    `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Conditions   []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Actions      []ActionDef `yaml:"actions" json:"actions"`
}

// NextActions returns the action names in declaration order.
func (p *PhaseDefinition) NextActions() []string {
	names := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		names[i] = a.Name
	}
	return names
}

func (p *PhaseDefinition) validate(position int) error {
	var problems fieldErrors
	if p.ID != position {
		problems.add("phase at position %d has id %d", position, p.ID)
	}
	if strings.TrimSpace(p.Name) == "" {
		problems.add("phase %d: name is required", p.ID)
	}
	if strings.TrimSpace(p.Status) == "" {
		problems.add("phase %d: status is required", p.ID)
	}
	if p.TimeoutHours < 0 {
		problems.add("phase %d: timeout_hours must not be negative", p.ID)
	}
	if p.ID == MaxPhase && p.AutoAdvance {
		problems.add("phase %d: the last phase cannot auto-advance", p.ID)
	}
	if len(p.Actions) == 0 {
		problems.add("phase %d: at least one action is required", p.ID)
	}

	names := make(map[string]struct{}, len(p.Actions))
	for i, a := range p.Actions {
		if a.Name == "" {
			problems.add("phase %d action %d: name is required", p.ID, i)
		} else if _, dup := names[a.Name]; dup {
			problems.add("phase %d: duplicate action name %q", p.ID, a.Name)
		}
		names[a.Name] = struct{}{}
		if !a.Kind.valid() {
			problems.add("phase %d action %q: unknown kind %q", p.ID, a.Name, a.Kind)
		}
		if !a.Priority.valid() {
			problems.add("phase %d action %q: unknown priority %q", p.ID, a.Name, a.Priority)
		}
		if a.DelayMinutes < 0 {
			problems.add("phase %d action %q: delay_minutes must not be negative", p.ID, a.Name)
		}
		switch a.Kind {
		case ActionEmail, ActionSMS, ActionPush, ActionTeamNotify:
			if a.Template == "" {
				problems.add("phase %d action %q: template is required for %s", p.ID, a.Name, a.Kind)
			}
		case ActionRecordCreate:
			if m, _ := a.Params["module"].(string); m == "" {
				problems.add("phase %d action %q: params.module is required", p.ID, a.Name)
			}
		}
	}

	for i, c := range p.Conditions {
		if c.Field == "" {
			problems.add("phase %d condition %d: field is required", p.ID, i)
		}
		switch c.Operator {
		case OpEquals, OpContains, OpGreaterThan, OpLessThan:
		default:
			problems.add("phase %d condition %d: unknown operator %q", p.ID, i, c.Operator)
		}
		switch c.Effect {
		case EffectAdvance, EffectPause:
		case EffectBranch:
			if c.BranchTo < 1 || c.BranchTo > MaxPhase {
				problems.add("phase %d condition %d: branch_to must be within 1..%d", p.ID, i, MaxPhase)
			}
		default:
			problems.add("phase %d condition %d: unknown effect %q", p.ID, i, c.Effect)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
