// Package middleware provides HTTP middleware for request identity and logging.
package middleware

import (
	"context"
	"strings"

	"CareFlow/internal/model"
	pkglog "CareFlow/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
)

// ReasonUnauthenticated is returned when a protected operation has no actor.
const ReasonUnauthenticated = "ACTOR_REQUIRED"

// AuthAuditor records authentication outcomes.
type AuthAuditor interface {
	LogAuthentication(ctx context.Context, actorID, action string, result model.Result, sourceIP string, metadata map[string]any) error
}

// RequireActor rejects operations under any of the given prefixes when the
// request carries no actor id. Rejections are logged at security level and
// recorded as failed authentications. It must run after Logging.
func RequireActor(auditor AuthAuditor, logger *pkglog.LogHelper, prefixes ...string) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			tr, ok := transport.FromServerContext(ctx)
			if !ok || !protected(tr.Operation(), prefixes) {
				return handler(ctx, req)
			}
			if pkglog.GetActorID(ctx) != "" {
				return handler(ctx, req)
			}

			ip := pkglog.GetSourceIP(ctx)
			logger.Security("rejected request without actor",
				"operation", tr.Operation(),
				"request_id", pkglog.GetRequestID(ctx),
				"ip", ip,
			)
			if auditor != nil {
				if err := auditor.LogAuthentication(ctx, "anonymous", "missing_actor", model.ResultFailure, ip,
					map[string]any{"operation": tr.Operation()}); err != nil {
					logger.Warnw("msg", "failed to record authentication failure", "error", err)
				}
			}
			return nil, kerrors.Unauthorized(ReasonUnauthenticated, HeaderActorID+" header is required")
		}
	}
}

func protected(operation string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(operation, p) {
			return true
		}
	}
	return false
}
