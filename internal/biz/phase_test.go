package biz

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPhaseCatalog_LoadsEmbeddedTable(t *testing.T) {
	c, err := NewPhaseCatalog()
	require.NoError(t, err)

	assert.Equal(t, MaxPhase, c.Len())
	assert.Equal(t, 1, c.Version())

	phases := c.Phases()
	for i, p := range phases {
		assert.Equal(t, i+1, p.ID)
		assert.NotEmpty(t, p.Actions, "phase %d", p.ID)
	}
	assert.False(t, phases[MaxPhase-1].AutoAdvance)

	first, err := c.Phase(1)
	require.NoError(t, err)
	assert.Equal(t, "Lead Captured", first.Name)
	assert.Equal(t, []string{"send_welcome_email", "create_crm_lead", "notify_team", "schedule_follow_up"}, first.NextActions())
}

func TestPhaseCatalog_PhaseBounds(t *testing.T) {
	c, err := NewPhaseCatalog()
	require.NoError(t, err)

	for _, n := range []int{-1, 0, MaxPhase + 1} {
		_, err := c.Phase(n)
		assert.ErrorIs(t, err, ErrPhaseNotFound, "phase %d", n)
	}
}

func TestPhaseCatalog_PhasesIsACopy(t *testing.T) {
	c, err := NewPhaseCatalog()
	require.NoError(t, err)

	phases := c.Phases()
	phases[0] = nil
	p, err := c.Phase(1)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestLoadPhaseCatalog_Rejects(t *testing.T) {
	base := string(defaultPhases)

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "  \n", "empty"},
		{"bad version", strings.Replace(base, "version: 1", "version: 2", 1), "unsupported version"},
		{"unknown action kind", strings.Replace(base, "kind: email", "kind: fax", 1), "unknown kind"},
		{"unknown operator", strings.Replace(base, "operator: equals", "operator: roughly", 1), "unknown operator"},
		{"unknown effect", strings.Replace(base, "effect: advance", "effect: teleport", 1), "unknown effect"},
		{"unknown key", strings.Replace(base, "auto_advance: true", "auto_advanse: true", 1), "decode"},
		{"missing template", strings.Replace(base, "\n        template: welcome_new_client", "", 1), "template is required"},
		{"missing phases", "version: 1\nphases: []\n", "expected 18 phases"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPhaseCatalog([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidCatalog)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPhaseDefinition_ValidateLastPhaseCannotAutoAdvance(t *testing.T) {
	p := &PhaseDefinition{
		ID:          MaxPhase,
		Name:        "Client Retention",
		Status:      "Alumni",
		AutoAdvance: true,
		Actions:     []ActionDef{{Name: "thanks", Kind: ActionEmail, Template: "thanks", Priority: PriorityLow}},
	}
	err := p.validate(MaxPhase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot auto-advance")
}

func TestPhaseDefinition_ValidateActions(t *testing.T) {
	p := &PhaseDefinition{
		ID:     3,
		Name:   "Consultation Scheduled",
		Status: "Scheduled",
		Actions: []ActionDef{
			{Name: "dup", Kind: ActionTask, Priority: PriorityNormal},
			{Name: "dup", Kind: ActionTask, Priority: "whenever"},
			{Name: "new_row", Kind: ActionRecordCreate, Priority: PriorityLow, DelayMinutes: -5},
		},
		Conditions: []Condition{{Field: "x", Operator: OpEquals, Effect: EffectBranch, BranchTo: 40}},
	}
	err := p.validate(3)
	require.Error(t, err)
	for _, want := range []string{"duplicate action name", "unknown priority", "params.module is required", "delay_minutes", "branch_to"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestCondition_Matches(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		trigger map[string]any
		want    bool
	}{
		{"equals bool", Condition{Field: "contact_made", Operator: OpEquals, Value: true}, map[string]any{"contact_made": true}, true},
		{"equals bool mismatch", Condition{Field: "contact_made", Operator: OpEquals, Value: true}, map[string]any{"contact_made": false}, false},
		{"equals int vs float", Condition{Field: "score", Operator: OpEquals, Value: 10}, map[string]any{"score": 10.0}, true},
		{"equals json number", Condition{Field: "score", Operator: OpEquals, Value: 10}, map[string]any{"score": json.Number("10")}, true},
		{"numeric string never equals number", Condition{Field: "score", Operator: OpEquals, Value: 10}, map[string]any{"score": "10"}, false},
		{"equals string", Condition{Field: "stage", Operator: OpEquals, Value: "won"}, map[string]any{"stage": "won"}, true},
		{"contains substring ignores case", Condition{Field: "interview_notes", Operator: OpContains, Value: "complete"}, map[string]any{"interview_notes": "Assessment COMPLETE"}, true},
		{"contains list", Condition{Field: "tags", Operator: OpContains, Value: "vip"}, map[string]any{"tags": []any{"new", "vip"}}, true},
		{"contains string list", Condition{Field: "tags", Operator: OpContains, Value: "vip"}, map[string]any{"tags": []string{"new"}}, false},
		{"greater than", Condition{Field: "no_response_hours", Operator: OpGreaterThan, Value: 48}, map[string]any{"no_response_hours": 72}, true},
		{"greater than equal bound", Condition{Field: "no_response_hours", Operator: OpGreaterThan, Value: 48}, map[string]any{"no_response_hours": 48}, false},
		{"less than", Condition{Field: "nps", Operator: OpLessThan, Value: 7}, map[string]any{"nps": 3}, true},
		{"less than non numeric", Condition{Field: "nps", Operator: OpLessThan, Value: 7}, map[string]any{"nps": "low"}, false},
		{"missing field", Condition{Field: "contact_made", Operator: OpEquals, Value: true}, map[string]any{}, false},
		{"nil value", Condition{Field: "contact_made", Operator: OpEquals, Value: true}, map[string]any{"contact_made": nil}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Matches(tt.trigger))
		})
	}
}

func TestTriggerBranchTarget(t *testing.T) {
	n, err := triggerBranchTarget(nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = triggerBranchTarget(map[string]any{"branch_to": 5.0})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	for _, bad := range []any{0, MaxPhase + 1, 2.5, "3"} {
		_, err := triggerBranchTarget(map[string]any{"branch_to": bad})
		assert.ErrorIs(t, err, ErrValidation, "branch_to %v", bad)
	}
}
