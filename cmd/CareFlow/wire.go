//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"CareFlow/internal/biz"
	"CareFlow/internal/conf"
	"CareFlow/internal/data"
	"CareFlow/internal/server"
	"CareFlow/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Audit, *conf.Workflow, *conf.Broadcast, *conf.Predict, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newMetrics,
		NewAuditJobs,
		newApp,
	))
}
