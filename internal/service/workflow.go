package service

import (
	"context"

	"CareFlow/internal/biz"
	"CareFlow/internal/model"
	pkglog "CareFlow/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// ExecutePhaseRequest runs one phase for a client.
type ExecutePhaseRequest struct {
	ClientID string `json:"clientId"`
	Phase    int    `json:"phase"`
}

// AdvanceWorkflowRequest carries an optional trigger payload.
type AdvanceWorkflowRequest struct {
	ClientID string         `json:"clientId"`
	Trigger  map[string]any `json:"trigger,omitempty"`
}

// GetWorkflowRequest selects a client's workflow.
type GetWorkflowRequest struct {
	ClientID       string
	IncludeHistory bool
}

// GetWorkflowReply is the status projection, optionally with history.
type GetWorkflowReply struct {
	*biz.WorkflowStatus
	History []model.PhaseTransition `json:"history,omitempty"`
}

// WorkflowService exposes the workflow engine.
type WorkflowService struct {
	uc     *biz.WorkflowUsecase
	audit  *biz.AuditLog
	logger *log.Helper
}

// NewWorkflowService creates a WorkflowService.
func NewWorkflowService(uc *biz.WorkflowUsecase, audit *biz.AuditLog, logger log.Logger) *WorkflowService {
	return &WorkflowService{
		uc:     uc,
		audit:  audit,
		logger: log.NewHelper(log.With(logger, "module", "service/workflow")),
	}
}

// InitializeWorkflow starts a workflow for a new client.
func (s *WorkflowService) InitializeWorkflow(ctx context.Context, req *biz.ClientProfile) (*biz.InitializeResult, error) {
	res, err := s.uc.InitializeClient(ctx, *req)
	if res != nil {
		if aerr := s.audit.LogPHIModification(ctx, pkglog.GetActorID(ctx), res.ClientID, "client_profile", "create",
			[]string{"first_name", "last_name", "email", "phone", "due_date", "service_type"}, nil, nil, pkglog.GetSourceIP(ctx)); aerr != nil {
			s.logger.Warnw("msg", "failed to record client creation", "client_id", res.ClientID, "error", aerr)
		}
	}
	if err != nil {
		s.logger.Errorw("msg", "failed to initialize workflow", "error", err)
		kerr := toKratosError(err)
		if res != nil {
			kerr = kerrors.FromError(kerr).WithMetadata(map[string]string{"clientId": res.ClientID, "workflowId": res.WorkflowID})
		}
		return nil, kerr
	}
	return res, nil
}

// ExecutePhase runs a phase for the client.
func (s *WorkflowService) ExecutePhase(ctx context.Context, req *ExecutePhaseRequest) (*biz.PhaseExecutionResult, error) {
	res, err := s.uc.ExecutePhase(ctx, req.ClientID, req.Phase)
	if err != nil {
		s.logger.Errorw("msg", "failed to execute phase", "client_id", req.ClientID, "phase", req.Phase, "error", err)
		return nil, toKratosError(err)
	}
	return res, nil
}

// AdvanceWorkflow moves the client on, possibly under a trigger.
func (s *WorkflowService) AdvanceWorkflow(ctx context.Context, req *AdvanceWorkflowRequest) (*biz.AdvanceResult, error) {
	res, err := s.uc.AdvanceWorkflow(ctx, req.ClientID, req.Trigger)
	if err != nil {
		s.logger.Errorw("msg", "failed to advance workflow", "client_id", req.ClientID, "error", err)
		return nil, toKratosError(err)
	}
	return res, nil
}

// GetWorkflow returns the client's workflow status.
func (s *WorkflowService) GetWorkflow(ctx context.Context, req *GetWorkflowRequest) (*GetWorkflowReply, error) {
	status, err := s.uc.GetStatus(ctx, req.ClientID)
	if err != nil {
		return nil, toKratosError(err)
	}
	reply := &GetWorkflowReply{WorkflowStatus: status}
	if req.IncludeHistory {
		if reply.History, err = s.uc.ClientHistory(ctx, req.ClientID); err != nil {
			return nil, toKratosError(err)
		}
	}
	return reply, nil
}

// ListPhases returns the phase catalog.
func (s *WorkflowService) ListPhases(_ context.Context, _ *struct{}) ([]*biz.PhaseDefinition, error) {
	return s.uc.Catalog().Phases(), nil
}
