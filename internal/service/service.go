// Package service exposes the workflow engine and the audit log over HTTP.
// Handlers are thin: they decode, call one usecase method and map errors.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewWorkflowService, NewAuditService)
