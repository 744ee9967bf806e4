// Package main is the entry point of the CareFlow service.
// It wires the audit log, the workflow engine and the HTTP server into a
// Kratos application.
package main

import (
	"context"
	"flag"
	"os"

	"CareFlow/internal/biz"
	"CareFlow/internal/conf"
	"CareFlow/internal/metrics"
	zapLogger "CareFlow/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "CareFlow"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, audit *biz.AuditLog, workflow *biz.WorkflowUsecase, jobs *AuditJobs) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
		kratos.BeforeStart(func(ctx context.Context) error {
			if err := audit.Start(ctx); err != nil {
				return err
			}
			if _, err := workflow.RestoreSchedules(ctx); err != nil {
				return err
			}
			jobs.Start()
			return nil
		}),
		kratos.AfterStop(func(ctx context.Context) error {
			jobs.Stop()
			workflow.Shutdown()
			return audit.Close(ctx)
		}),
	)
}

// newMetrics registers the collectors served on /metrics.
func newMetrics() *metrics.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

func main() {
	flag.Parse()

	// Missing secrets are fatal before anything is served
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := zapLogger.NewKratosAdapter(zapLog)
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	zapLogger.NewLogHelper(logger).Startup("CareFlow service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"log.env", bc.Log.Env,
		"audit.store", bc.Audit.Store,
		"broadcast.driver", bc.Broadcast.Driver,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Audit, bc.Workflow, bc.Broadcast, bc.Predict, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
