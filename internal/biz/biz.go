// Package biz contains business logic layer implementations.
// It holds the hash-chained audit log and the phased client workflow engine.
package biz

import (
	"fmt"

	"CareFlow/internal/conf"
	"CareFlow/internal/data"
	"CareFlow/pkg/crypto"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewPhaseCatalog,
	NewAuditOptions,
	NewAuditSigner,
	NewAuditCipher,
	NewAuditDeps,
	NewAuditLog,
	NewActionDeps,
	NewActionRegistry,
	NewWorkflowOptions,
	NewWorkflowUsecase,
	NewRateLimiterUseCase,
	wire.Struct(new(WorkflowDeps), "*"),
	ProvideBroadcaster,
	ProvidePredictor,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(WorkflowRepo), new(*data.WorkflowRepo)),
	wire.Bind(new(RecordStore), new(*data.RecordStore)),
	wire.Bind(new(Notifier), new(*data.LogNotifier)),
	wire.Bind(new(CalendarScheduler), new(*data.CalendarService)),
	wire.Bind(new(RateLimitRepo), new(*data.RateLimitRepo)),
)

// NewAuditSigner builds the chain hasher from audit.integrity_secret.
func NewAuditSigner(c *conf.Audit) (*crypto.Signer, error) {
	if c == nil {
		return nil, fmt.Errorf("audit configuration is required")
	}
	return crypto.NewSigner([]byte(c.IntegritySecret))
}

// NewAuditCipher builds the details cipher from audit.encryption_key.
func NewAuditCipher(c *conf.Audit) (*crypto.AESCrypto, error) {
	if c == nil {
		return nil, fmt.Errorf("audit configuration is required")
	}
	return crypto.NewAESCryptoFromHex(c.EncryptionKey)
}

// NewAuditDeps maps the data layer audit stores onto the audit log.
func NewAuditDeps(stores *data.AuditStores, alerts Broadcaster) AuditDeps {
	deps := AuditDeps{
		Primary:    stores.Primary,
		Escalation: stores.Escalation,
		Alerts:     alerts,
	}
	// a nil *FileAuditRepo must not become a non-nil interface
	if stores.Mirror != nil {
		deps.Mirror = stores.Mirror
	}
	return deps
}

// NewActionDeps collects the collaborators of the built-in action handlers.
func NewActionDeps(records RecordStore, notifier Notifier, predictor Predictor, calendar CalendarScheduler, c *conf.Workflow) ActionDeps {
	deps := ActionDeps{
		Records:   records,
		Notifier:  notifier,
		Predictor: predictor,
		Calendar:  calendar,
	}
	if c != nil {
		deps.CoordinatorEmail = c.CoordinatorEmail
	}
	return deps
}

// ProvideBroadcaster narrows the data broadcaster to the biz interface.
func ProvideBroadcaster(b data.Broadcaster) Broadcaster { return b }

// ProvidePredictor narrows the data predictor to the biz interface.
func ProvidePredictor(p data.Predictor) Predictor { return p }
