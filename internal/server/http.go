package server

import (
	"CareFlow/internal/biz"
	"CareFlow/internal/conf"
	"CareFlow/internal/server/middleware"
	"CareFlow/internal/service"
	pkglog "CareFlow/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// auditOperations need an identified actor.
const auditOperations = "/careflow.v1.Audit/"

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, workflow *service.WorkflowService, audit *service.AuditService, auditLog *biz.AuditLog, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(log.With(logger, "module", "server/http"))

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
			middleware.RequireActor(auditLog, logHelper, auditOperations),
		),
	}
	if c != nil && c.Http != nil {
		if c.Http.Network != "" {
			opts = append(opts, http.Network(c.Http.Network))
		}
		if c.Http.Addr != "" {
			opts = append(opts, http.Address(c.Http.Addr))
		}
		if c.Http.Timeout > 0 {
			opts = append(opts, http.Timeout(c.Http.Timeout))
		}
	}
	srv := http.NewServer(opts...)

	service.RegisterWorkflowHTTPServer(srv, workflow)
	service.RegisterAuditHTTPServer(srv, audit)
	srv.Handle("/metrics", promhttp.Handler())

	return srv
}
