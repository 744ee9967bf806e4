package service

import (
	"context"
	"errors"
	"math"
	"strconv"

	"CareFlow/internal/biz"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Error reasons returned to HTTP callers.
const (
	ReasonValidation       = "VALIDATION_FAILED"
	ReasonWorkflowNotFound = "WORKFLOW_NOT_FOUND"
	ReasonPhaseNotFound    = "PHASE_NOT_FOUND"
	ReasonWorkflowExists   = "WORKFLOW_EXISTS"
	ReasonCollaborator     = "COLLABORATOR_FAILED"
	ReasonIntegrity        = "AUDIT_INTEGRITY_VIOLATED"
	ReasonPersistence      = "AUDIT_PERSISTENCE_FAILED"
	ReasonCanceled         = "REQUEST_CANCELED"
	ReasonRateLimited      = "RATE_LIMIT_EXCEEDED"
	ReasonInternal         = "INTERNAL"
)

// toKratosError maps biz errors onto HTTP-aware kratos errors.
func toKratosError(err error) error {
	if err == nil {
		return nil
	}

	var (
		collab  *biz.CollaboratorError
		persist *biz.PersistenceError
		broken  *biz.IntegrityError
		limited *biz.RateLimitExceededError
	)
	switch {
	case errors.Is(err, biz.ErrWorkflowNotFound):
		return kerrors.NotFound(ReasonWorkflowNotFound, err.Error())
	case errors.Is(err, biz.ErrPhaseNotFound):
		return kerrors.NotFound(ReasonPhaseNotFound, err.Error())
	case errors.Is(err, biz.ErrWorkflowExists):
		return kerrors.Conflict(ReasonWorkflowExists, err.Error())
	case errors.Is(err, biz.ErrValidation):
		return kerrors.BadRequest(ReasonValidation, err.Error())
	case errors.As(err, &collab):
		return kerrors.ServiceUnavailable(ReasonCollaborator, err.Error()).
			WithMetadata(map[string]string{"collaborator": collab.Collaborator, "op": collab.Op})
	case errors.As(err, &persist):
		return kerrors.ServiceUnavailable(ReasonPersistence, "audit events could not be persisted")
	case errors.As(err, &broken):
		return kerrors.Conflict(ReasonIntegrity, err.Error())
	case errors.As(err, &limited):
		return kerrors.New(429, ReasonRateLimited, err.Error()).
			WithMetadata(map[string]string{"retryAfter": strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds())))})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return kerrors.ClientClosed(ReasonCanceled, err.Error())
	}
	return kerrors.InternalServer(ReasonInternal, "internal error")
}
