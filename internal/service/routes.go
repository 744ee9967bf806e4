package service

import (
	"context"
	"strconv"

	"CareFlow/internal/biz"
	"CareFlow/internal/model"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	OperationInitializeWorkflow = "/careflow.v1.Workflow/InitializeWorkflow"
	OperationExecutePhase       = "/careflow.v1.Workflow/ExecutePhase"
	OperationAdvanceWorkflow    = "/careflow.v1.Workflow/AdvanceWorkflow"
	OperationGetWorkflow        = "/careflow.v1.Workflow/GetWorkflow"
	OperationListPhases         = "/careflow.v1.Workflow/ListPhases"
	OperationQueryEvents        = "/careflow.v1.Audit/QueryEvents"
	OperationVerifyIntegrity    = "/careflow.v1.Audit/VerifyIntegrity"
	OperationExportForReview    = "/careflow.v1.Audit/ExportForReview"
	OperationComplianceReport   = "/careflow.v1.Audit/ComplianceReport"
)

// RegisterWorkflowHTTPServer mounts the workflow routes.
func RegisterWorkflowHTTPServer(s *http.Server, srv *WorkflowService) {
	r := s.Route("/")
	r.POST("/v1/workflows", _Workflow_Initialize0_HTTP_Handler(srv))
	r.POST("/v1/workflows/{client_id}/phases/{phase}", _Workflow_ExecutePhase0_HTTP_Handler(srv))
	r.POST("/v1/workflows/{client_id}/advance", _Workflow_Advance0_HTTP_Handler(srv))
	r.GET("/v1/workflows/{client_id}", _Workflow_Get0_HTTP_Handler(srv))
	r.GET("/v1/phases", _Workflow_ListPhases0_HTTP_Handler(srv))
}

// RegisterAuditHTTPServer mounts the audit routes.
func RegisterAuditHTTPServer(s *http.Server, srv *AuditService) {
	r := s.Route("/")
	r.GET("/v1/audit/events", _Audit_QueryEvents0_HTTP_Handler(srv))
	r.POST("/v1/audit/verify", _Audit_Verify0_HTTP_Handler(srv))
	r.POST("/v1/audit/export", _Audit_Export0_HTTP_Handler(srv))
	r.GET("/v1/audit/report", _Audit_Report0_HTTP_Handler(srv))
}

func _Workflow_Initialize0_HTTP_Handler(srv *WorkflowService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in biz.ClientProfile
		if err := ctx.Bind(&in); err != nil {
			return kerrors.BadRequest(ReasonValidation, err.Error())
		}
		http.SetOperation(ctx, OperationInitializeWorkflow)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.InitializeWorkflow(ctx, req.(*biz.ClientProfile))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(201, out.(*biz.InitializeResult))
	}
}

func _Workflow_ExecutePhase0_HTTP_Handler(srv *WorkflowService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		vars := ctx.Vars()
		phase, err := strconv.Atoi(vars.Get("phase"))
		if err != nil {
			return kerrors.BadRequest(ReasonValidation, "phase must be an integer")
		}
		in := ExecutePhaseRequest{ClientID: vars.Get("client_id"), Phase: phase}
		http.SetOperation(ctx, OperationExecutePhase)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ExecutePhase(ctx, req.(*ExecutePhaseRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*biz.PhaseExecutionResult))
	}
}

func _Workflow_Advance0_HTTP_Handler(srv *WorkflowService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in AdvanceWorkflowRequest
		if ctx.Request().ContentLength != 0 {
			if err := ctx.Bind(&in); err != nil {
				return kerrors.BadRequest(ReasonValidation, err.Error())
			}
		}
		in.ClientID = ctx.Vars().Get("client_id")
		http.SetOperation(ctx, OperationAdvanceWorkflow)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.AdvanceWorkflow(ctx, req.(*AdvanceWorkflowRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*biz.AdvanceResult))
	}
}

func _Workflow_Get0_HTTP_Handler(srv *WorkflowService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		history, _ := strconv.ParseBool(ctx.Query().Get("include_history"))
		in := GetWorkflowRequest{ClientID: ctx.Vars().Get("client_id"), IncludeHistory: history}
		http.SetOperation(ctx, OperationGetWorkflow)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetWorkflow(ctx, req.(*GetWorkflowRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*GetWorkflowReply))
	}
}

func _Workflow_ListPhases0_HTTP_Handler(srv *WorkflowService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationListPhases)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListPhases(ctx, req.(*struct{}))
		})
		out, err := h(ctx, &struct{}{})
		if err != nil {
			return err
		}
		return ctx.Result(200, out.([]*biz.PhaseDefinition))
	}
}

func _Audit_QueryEvents0_HTTP_Handler(srv *AuditService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in, err := filterFromQuery(ctx.Query())
		if err != nil {
			return err
		}
		http.SetOperation(ctx, OperationQueryEvents)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.QueryEvents(ctx, req.(*model.AuditFilter))
		})
		out, err := h(ctx, in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*QueryEventsReply))
	}
}

func _Audit_Verify0_HTTP_Handler(srv *AuditService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in TimeRangeRequest
		if ctx.Request().ContentLength != 0 {
			if err := ctx.Bind(&in); err != nil {
				return kerrors.BadRequest(ReasonValidation, err.Error())
			}
		}
		http.SetOperation(ctx, OperationVerifyIntegrity)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.VerifyIntegrity(ctx, req.(*TimeRangeRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*biz.IntegrityReport))
	}
}

func _Audit_Export0_HTTP_Handler(srv *AuditService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ExportRequest
		if err := ctx.Bind(&in); err != nil {
			return kerrors.BadRequest(ReasonValidation, err.Error())
		}
		http.SetOperation(ctx, OperationExportForReview)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ExportForReview(ctx, req.(*ExportRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		reply := out.(*ExportReply)
		return ctx.Blob(200, reply.ContentType, reply.Body)
	}
}

func _Audit_Report0_HTTP_Handler(srv *AuditService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		q := ctx.Query()
		in := TimeRangeRequest{From: q.Get("from"), To: q.Get("to")}
		http.SetOperation(ctx, OperationComplianceReport)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ComplianceReport(ctx, req.(*TimeRangeRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*biz.ComplianceReport))
	}
}
