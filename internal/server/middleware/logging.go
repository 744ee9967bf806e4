package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "CareFlow/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Header names read by the middleware.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderActorID   = "X-Actor-ID"
)

// Logging injects the request context (request id, actor, source IP) and
// logs every request with its status and duration.
//
//	🟢 POST /v1/workflows - 201 (42ms) | RequestID: mgrn0zfqda
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			start := time.Now()

			var method, path, ip, actorID, requestID string
			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					ip = extractClientIP(httpReq)
					actorID = strings.TrimSpace(httpReq.Header.Get(HeaderActorID))
					requestID = httpReq.Header.Get(HeaderRequestID)
				}
				if requestID == "" {
					requestID = pkglog.GenerateRequestID()
				}
				tr.ReplyHeader().Set(HeaderRequestID, requestID)
			}

			ctx = pkglog.WithRequestContext(ctx, requestID, actorID, ip)

			reply, err := handler(ctx, req)

			status := 200
			if err != nil {
				status = extractHTTPStatus(err)
			}
			logger.Request(method, path, status, time.Since(start).Milliseconds(),
				"request_id", requestID,
				"actor_id", actorID,
				"ip", ip,
			)
			return reply, err
		}
	}
}

// extractClientIP prefers X-Real-IP, then the first X-Forwarded-For hop,
// then RemoteAddr.
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return req.RemoteAddr
}

func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(kerrors.FromError(err).Code)
}
