package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CareFlow/internal/conf"
	"CareFlow/internal/metrics"
	"CareFlow/internal/model"
	"CareFlow/pkg/crypto"
	pkgerrors "CareFlow/pkg/errors"
	pkglog "CareFlow/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Draft is an audit event before the log assigns identity and chain fields.
type Draft struct {
	Kind         model.EventKind
	ActorID      string
	SubjectID    string
	SourceIP     string
	Resource     string
	Action       string
	Result       model.Result
	RiskLevel    model.RiskLevel
	DataAccessed *model.DataDescriptor
	Metadata     map[string]any
	// Details is redacted and encrypted before it leaves Record.
	Details map[string]any
}

func (d *Draft) validate() error {
	var problems fieldErrors
	if !d.Kind.Valid() {
		problems.add("unknown event kind %q", d.Kind)
	}
	if d.Resource == "" {
		problems.add("resource is required")
	}
	if d.Action == "" {
		problems.add("action is required")
	}
	if d.Result != "" && !d.Result.Valid() {
		problems.add("unknown result %q", d.Result)
	}
	if d.RiskLevel != "" && !d.RiskLevel.Valid() {
		problems.add("unknown risk level %q", d.RiskLevel)
	}
	return problems.err(ErrInvalidDraft)
}

// AuditOptions tunes batching and retries.
type AuditOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
}

// NewAuditOptions reads AuditOptions from configuration.
func NewAuditOptions(c *conf.Audit) AuditOptions {
	return AuditOptions{
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		MaxRetries:    c.MaxRetries,
		RetryBackoff:  c.RetryBackoff,
	}
}

func (o AuditOptions) normalized() AuditOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	return o
}

// chainHead is the tail of one hash chain.
type chainHead struct {
	seq  int64
	hash string
}

// AuditLog is the append-only, hash-chained audit event log. Events are
// queued and written in batches; critical events are written before Record
// returns. Persistence failures escalate to a separate chained sink.
type AuditLog struct {
	repo       AuditRepo
	mirror     AuditMirror
	escalation *escalationSink
	alerts     Broadcaster
	signer     *crypto.Signer
	cipher     *crypto.AESCrypto
	opts       AuditOptions
	metrics    *metrics.Metrics
	log        *pkglog.LogHelper
	now        func() time.Time

	// chainMu guards head and queue so queue order always equals Seq order.
	chainMu sync.Mutex
	head    chainHead
	queue   []*model.AuditEvent

	// flushMu serializes flushes.
	flushMu sync.Mutex

	lifecycleMu sync.Mutex
	signal      chan struct{}
	stop        chan struct{}
	done        chan struct{}
}

// AuditDeps bundles the stores an AuditLog writes to.
type AuditDeps struct {
	Primary    AuditRepo
	Mirror     AuditMirror
	Escalation AuditRepo
	Alerts     Broadcaster
}

// NewAuditLog creates an AuditLog and restores the chain head from the
// primary repository. mirror and alerts may be nil.
func NewAuditLog(deps AuditDeps, signer *crypto.Signer, cipher *crypto.AESCrypto, opts AuditOptions, m *metrics.Metrics, logger log.Logger) (*AuditLog, error) {
	if deps.Primary == nil || deps.Escalation == nil {
		return nil, fmt.Errorf("audit log requires a primary and an escalation repository")
	}
	if signer == nil || cipher == nil {
		return nil, fmt.Errorf("audit log requires a signer and a cipher")
	}

	a := &AuditLog{
		repo:       deps.Primary,
		mirror:     deps.Mirror,
		escalation: &escalationSink{repo: deps.Escalation},
		alerts:     deps.Alerts,
		signer:     signer,
		cipher:     cipher,
		opts:       opts.normalized(),
		metrics:    m,
		log:        pkglog.NewLogHelper(log.With(logger, "module", "biz/audit")),
		now:        time.Now,
		signal:     make(chan struct{}, 1),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	last, err := a.repo.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore audit chain head: %w", err)
	}
	if last != nil {
		a.head = chainHead{seq: last.Seq, hash: last.Hash}
		a.log.Audit("audit chain restored", "seq", last.Seq)
	}
	return a, nil
}

// Record seals a draft into the chain and queues it. Critical events are
// flushed synchronously together with everything queued before them.
func (a *AuditLog) Record(ctx context.Context, d Draft) (*model.AuditEvent, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	event, err := a.prepare(ctx, d)
	if err != nil {
		return nil, err
	}

	a.chainMu.Lock()
	prev := a.head
	if err := a.seal(event, prev); err != nil {
		a.chainMu.Unlock()
		return nil, err
	}
	a.head = chainHead{seq: event.Seq, hash: event.Hash}
	a.queue = append(a.queue, event)
	depth := len(a.queue)
	a.chainMu.Unlock()

	a.metrics.IncAuditRecorded(string(event.Kind), string(event.RiskLevel))
	a.metrics.SetAuditQueueDepth(depth)

	out := *event
	if event.RiskLevel == model.RiskCritical {
		if err := a.Flush(ctx); err != nil {
			return &out, err
		}
		return &out, nil
	}
	if depth >= a.opts.BatchSize {
		select {
		case a.signal <- struct{}{}:
		default:
		}
	}
	return &out, nil
}

// prepare fills every field except the chain fields.
func (a *AuditLog) prepare(ctx context.Context, d Draft) (*model.AuditEvent, error) {
	encrypted := ""
	if len(d.Details) > 0 {
		var err error
		encrypted, err = a.cipher.EncryptJSON(redactDetails(d.Details))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt audit details: %w", err)
		}
	}

	metadata := ""
	if len(d.Metadata) > 0 {
		raw, err := crypto.Canonical(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidDraft, err)
		}
		metadata = string(raw)
	}

	actor := d.ActorID
	if actor == "" {
		actor = pkglog.GetActorID(ctx)
	}
	if actor == "" {
		actor = "system"
	}
	sourceIP := d.SourceIP
	if sourceIP == "" {
		sourceIP = pkglog.GetSourceIP(ctx)
	}
	result := d.Result
	if result == "" {
		result = model.ResultSuccess
	}
	risk := d.RiskLevel
	if risk == "" {
		risk = assessRisk(d)
	}

	var data *model.DataDescriptor
	if d.DataAccessed != nil {
		cp := *d.DataAccessed
		cp.Fields = append([]string(nil), d.DataAccessed.Fields...)
		data = &cp
	}

	return &model.AuditEvent{
		Kind:             d.Kind,
		ActorID:          actor,
		SubjectID:        d.SubjectID,
		SourceIP:         sourceIP,
		Resource:         d.Resource,
		Action:           d.Action,
		Result:           result,
		RiskLevel:        risk,
		DataAccessed:     data,
		Metadata:         metadata,
		EncryptedDetails: encrypted,
	}, nil
}

// seal assigns identity, timestamp and chain fields after prev.
func (a *AuditLog) seal(e *model.AuditEvent, prev chainHead) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate audit event id: %w", err)
	}
	e.ID = id.String()
	e.Seq = prev.seq + 1
	e.Timestamp = a.now().UTC().Truncate(time.Microsecond)
	e.PreviousHash = prev.hash
	e.Hash, err = eventHash(a.signer, e)
	return err
}

// Flush writes every queued event to the primary repository in order.
// On failure the batch returns to the head of the queue, the failure is
// escalated, and a *PersistenceError is returned.
func (a *AuditLog) Flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.chainMu.Lock()
	batch := a.queue
	a.queue = nil
	a.chainMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	attempts, err := a.persist(ctx, batch)
	if err != nil {
		a.chainMu.Lock()
		a.queue = append(batch, a.queue...)
		depth := len(a.queue)
		a.chainMu.Unlock()
		a.metrics.SetAuditQueueDepth(depth)

		perr := &PersistenceError{Attempts: attempts, Pending: len(batch), Err: err}
		a.escalate(ctx, "audit_persistence_failure", map[string]any{
			"attempts":  attempts,
			"pending":   len(batch),
			"first_seq": batch[0].Seq,
			"last_seq":  batch[len(batch)-1].Seq,
			"error":     err.Error(),
		})
		return perr
	}

	a.chainMu.Lock()
	depth := len(a.queue)
	a.chainMu.Unlock()
	a.metrics.SetAuditQueueDepth(depth)

	if a.mirror != nil {
		if err := a.mirror.Mirror(ctx, batch); err != nil {
			a.log.Security("audit fallback mirror failed", "events", len(batch), "error", err)
		}
	}
	a.log.Audit("audit batch flushed", "events", len(batch), "last_seq", batch[len(batch)-1].Seq, "attempts", attempts)
	return nil
}

// persist appends batch, retrying retryable failures with linear backoff.
func (a *AuditLog) persist(ctx context.Context, batch []*model.AuditEvent) (int, error) {
	for attempt := 1; ; attempt++ {
		err := a.repo.Append(ctx, batch)
		if err == nil {
			return attempt, nil
		}

		dbErr := pkgerrors.ClassifyDBError(err)
		a.metrics.IncFlushFailure(dbErr.Type.String())
		if !dbErr.Retryable() || attempt > a.opts.MaxRetries {
			return attempt, err
		}

		a.log.Warnw("msg", "audit batch write failed, retrying", "attempt", attempt, "error_type", dbErr.Type.String(), "error", err)
		select {
		case <-ctx.Done():
			return attempt, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(a.opts.RetryBackoff * time.Duration(attempt)):
		}
	}
}

// Pending returns the number of queued, unpersisted events.
func (a *AuditLog) Pending() int {
	a.chainMu.Lock()
	defer a.chainMu.Unlock()
	return len(a.queue)
}

// Start runs the periodic flusher until Close.
func (a *AuditLog) Start(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	if a.stop != nil {
		return nil
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})

	go a.run(a.stop, a.done)
	a.log.Startup("audit flusher started", "interval", a.opts.FlushInterval.String(), "batch_size", a.opts.BatchSize)
	return nil
}

func (a *AuditLog) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		case <-a.signal:
		}
		// errors are already escalated and logged inside Flush
		_ = a.Flush(context.Background())
	}
}

// Close stops the periodic flusher and flushes what is left.
func (a *AuditLog) Close(ctx context.Context) error {
	a.lifecycleMu.Lock()
	if a.stop != nil {
		close(a.stop)
		<-a.done
		a.stop, a.done = nil, nil
	}
	a.lifecycleMu.Unlock()

	if err := a.Flush(ctx); err != nil {
		return err
	}
	a.log.Audit("audit log closed")
	return nil
}
