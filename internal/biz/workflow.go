package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"CareFlow/internal/conf"
	"CareFlow/internal/metrics"
	"CareFlow/internal/model"
	pkglog "CareFlow/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// ClientProfile is the intake data that starts a workflow.
type ClientProfile struct {
	FirstName   string         `json:"firstName"`
	LastName    string         `json:"lastName"`
	Email       string         `json:"email"`
	Phone       string         `json:"phone"`
	DueDate     string         `json:"dueDate,omitempty"`
	ServiceType string         `json:"serviceType"`
	Preferences map[string]any `json:"preferences,omitempty"`
	Insights    map[string]any `json:"aiInsights,omitempty"`
}

func (p *ClientProfile) validate() error {
	var problems fieldErrors
	if strings.TrimSpace(p.FirstName) == "" {
		problems.add("firstName is required")
	}
	if strings.TrimSpace(p.LastName) == "" {
		problems.add("lastName is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		problems.add("email is required")
	} else if _, err := mail.ParseAddress(p.Email); err != nil {
		problems.add("email is not a valid address")
	}
	return problems.err(ErrInvalidProfile)
}

// WorkflowOptions tunes the engine.
type WorkflowOptions struct {
	// DefaultTimeout applies to auto-advance phases without timeout_hours.
	DefaultTimeout   time.Duration
	CoordinatorEmail string
	// HistoryLimit is how many audit events feed personalization.
	HistoryLimit int

	// hour is the length of one timeout hour; tests shrink it.
	hour time.Duration
}

// NewWorkflowOptions reads WorkflowOptions from configuration.
func NewWorkflowOptions(c *conf.Workflow) WorkflowOptions {
	if c == nil {
		return WorkflowOptions{}
	}
	return WorkflowOptions{
		DefaultTimeout:   c.DefaultTimeout,
		CoordinatorEmail: c.CoordinatorEmail,
		HistoryLimit:     20,
	}
}

func (o WorkflowOptions) normalized() WorkflowOptions {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 24 * time.Hour
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	if o.hour <= 0 {
		o.hour = time.Hour
	}
	return o
}

// PhaseExecutionResult summarizes one phase execution.
type PhaseExecutionResult struct {
	ClientID      string               `json:"clientId"`
	WorkflowID    string               `json:"workflowId"`
	Phase         int                  `json:"phase"`
	PhaseName     string               `json:"phaseName"`
	Status        string               `json:"status"`
	Result        model.Result         `json:"result"`
	Actions       []model.ActionResult `json:"actions"`
	StatusErrors  []string             `json:"statusErrors,omitempty"`
	NextPhase     int                  `json:"nextPhase,omitempty"`
	AutoAdvanceAt *time.Time           `json:"autoAdvanceAt,omitempty"`
	AuditEventID  string               `json:"auditEventId,omitempty"`
}

// WorkflowStatus is a read-only projection of a client's workflow.
type WorkflowStatus struct {
	ClientID        string     `json:"clientId"`
	WorkflowID      string     `json:"workflowId"`
	CurrentPhase    int        `json:"currentPhase"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	ProgressPercent int        `json:"progressPercent"`
	NextActions     []string   `json:"nextActions"`
	EnteredAt       time.Time  `json:"enteredAt"`
	AutoAdvanceAt   *time.Time `json:"autoAdvanceAt,omitempty"`
	Completed       bool       `json:"completed"`
	Version         int64      `json:"version"`
}

// WorkflowUsecase drives one phase state machine per client.
type WorkflowUsecase struct {
	repo        WorkflowRepo
	records     RecordStore
	predictor   Predictor
	broadcaster Broadcaster
	audit       *AuditLog
	catalog     *PhaseCatalog
	actions     *ActionRegistry
	scheduler   *AdvanceScheduler
	locks       *clientLocks
	opts        WorkflowOptions
	metrics     *metrics.Metrics
	log         *pkglog.LogHelper
	now         func() time.Time
}

// WorkflowDeps bundles the collaborators of a WorkflowUsecase.
type WorkflowDeps struct {
	Repo        WorkflowRepo
	Records     RecordStore
	Predictor   Predictor
	Broadcaster Broadcaster
	Audit       *AuditLog
	Catalog     *PhaseCatalog
	Actions     *ActionRegistry
}

// NewWorkflowUsecase creates the workflow engine.
func NewWorkflowUsecase(deps WorkflowDeps, opts WorkflowOptions, m *metrics.Metrics, logger log.Logger) *WorkflowUsecase {
	uc := &WorkflowUsecase{
		repo:        deps.Repo,
		records:     deps.Records,
		predictor:   deps.Predictor,
		broadcaster: deps.Broadcaster,
		audit:       deps.Audit,
		catalog:     deps.Catalog,
		actions:     deps.Actions,
		locks:       newClientLocks(),
		opts:        opts.normalized(),
		metrics:     m,
		log:         pkglog.NewLogHelper(log.With(logger, "module", "biz/workflow")),
		now:         time.Now,
	}
	uc.scheduler = NewAdvanceScheduler(uc.onAutoAdvance, logger)
	return uc
}

// InitializeResult identifies a newly started workflow.
type InitializeResult struct {
	ClientID   string                `json:"clientId"`
	WorkflowID string                `json:"workflowId"`
	Phase      *PhaseExecutionResult `json:"phase,omitempty"`
}

// Initialize creates the client record and workflow instance, then runs
// phase 1. The workflow id is returned even when phase 1 fails.
func (uc *WorkflowUsecase) Initialize(ctx context.Context, profile ClientProfile) (string, error) {
	res, err := uc.InitializeClient(ctx, profile)
	if res == nil {
		return "", err
	}
	return res.WorkflowID, err
}

// InitializeClient is Initialize that also reports the new client id and the
// phase 1 result. The result is non-nil whenever the instance was created.
func (uc *WorkflowUsecase) InitializeClient(ctx context.Context, profile ClientProfile) (*InitializeResult, error) {
	if err := profile.validate(); err != nil {
		return nil, err
	}
	first, err := uc.catalog.Phase(1)
	if err != nil {
		return nil, err
	}

	insights := ""
	if len(profile.Insights) > 0 {
		raw, err := json.Marshal(profile.Insights)
		if err != nil {
			return nil, fmt.Errorf("%w: aiInsights: %v", ErrInvalidProfile, err)
		}
		insights = string(raw)
	}

	clientID, err := uc.records.Create(ctx, model.ModuleContacts, map[string]any{
		"First_Name":      profile.FirstName,
		"Last_Name":       profile.LastName,
		"Email":           profile.Email,
		"Phone":           profile.Phone,
		"Due_Date":        profile.DueDate,
		"Service_Type":    profile.ServiceType,
		"Preferences":     profile.Preferences,
		"Lead_Source":     "Website",
		"Lead_Status":     first.Status,
		"Workflow_Phase":  1,
		"AI_Profile_Data": insights,
	})
	if err != nil {
		return nil, collabErr("record_store", "create", err)
	}

	unlock, err := uc.locks.Lock(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := uc.now().UTC()
	inst := &model.WorkflowInstance{
		WorkflowID:     uuid.NewString(),
		ClientID:       clientID,
		CurrentPhase:   1,
		PhaseEnteredAt: now,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		History:        []model.PhaseTransition{},
	}
	created, err := uc.repo.Create(ctx, inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowExists, clientID)
	}

	if _, err := uc.audit.LogWorkflowEvent(ctx, clientID, "workflow_initialized", model.ResultSuccess, map[string]any{
		"workflow_id":   inst.WorkflowID,
		"initial_phase": 1,
		"service_type":  profile.ServiceType,
	}); err != nil {
		uc.log.Warnw("msg", "failed to record workflow initialization", "client_id", clientID, "error", err)
	}
	uc.log.Workflow("workflow initialized", "client_id", clientID, "workflow_id", inst.WorkflowID)

	res := &InitializeResult{ClientID: clientID, WorkflowID: inst.WorkflowID}
	exec, err := uc.executeLocked(ctx, inst, first, "initialize")
	if err != nil {
		return res, fmt.Errorf("phase 1 failed: %w", err)
	}
	res.Phase = exec
	return res, nil
}

// ExecutePhase runs phase n for clientID, moving the client to that phase.
func (uc *WorkflowUsecase) ExecutePhase(ctx context.Context, clientID string, n int) (*PhaseExecutionResult, error) {
	phase, err := uc.catalog.Phase(n)
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
	return uc.executeLocked(ctx, inst, phase, "manual")
}

func (uc *WorkflowUsecase) load(ctx context.Context, clientID string) (*model.WorkflowInstance, error) {
	inst, err := uc.repo.Get(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, clientID)
	}
	return inst, nil
}

// GetStatus projects the client's current phase. It has no side effects.
func (uc *WorkflowUsecase) GetStatus(ctx context.Context, clientID string) (*WorkflowStatus, error) {
	inst, err := uc.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	phase, err := uc.catalog.Phase(inst.CurrentPhase)
	if err != nil {
		return nil, err
	}
	return &WorkflowStatus{
		ClientID:        inst.ClientID,
		WorkflowID:      inst.WorkflowID,
		CurrentPhase:    inst.CurrentPhase,
		Name:            phase.Name,
		Description:     phase.Description,
		Status:          phase.Status,
		ProgressPercent: progressPercent(inst.CurrentPhase),
		NextActions:     phase.NextActions(),
		EnteredAt:       inst.PhaseEnteredAt,
		AutoAdvanceAt:   inst.AutoAdvanceAt,
		Completed:       inst.Completed,
		Version:         inst.Version,
	}, nil
}

// ClientHistory returns the client's phase transitions, oldest first.
func (uc *WorkflowUsecase) ClientHistory(ctx context.Context, clientID string) ([]model.PhaseTransition, error) {
	inst, err := uc.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return inst.History, nil
}

// Catalog returns the phase catalog the engine runs on.
func (uc *WorkflowUsecase) Catalog() *PhaseCatalog { return uc.catalog }

// Shutdown cancels every pending auto-advance.
func (uc *WorkflowUsecase) Shutdown() {
	uc.scheduler.Stop()
	uc.log.Workflow("workflow engine stopped")
}

func (uc *WorkflowUsecase) broadcast(ctx context.Context, msgType, clientID, priority string, data map[string]any) {
	if uc.broadcaster == nil {
		return
	}
	msg := &model.BroadcastMessage{
		Type:      msgType,
		ClientID:  clientID,
		Data:      data,
		Timestamp: uc.now().UTC(),
		Priority:  priority,
	}
	if err := uc.broadcaster.Broadcast(ctx, msg); err != nil {
		uc.log.Warnw("msg", "broadcast failed", "type", msgType, "client_id", clientID, "error", err)
	}
}

func progressPercent(phase int) int {
	return int(math.Round(float64(phase) / float64(MaxPhase) * 100))
}
