package biz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CareFlow/internal/conf"
	"CareFlow/internal/data"
	"CareFlow/internal/model"
	"CareFlow/pkg/crypto"
	"CareFlow/pkg/predict"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var (
	testIntegritySecret = []byte("careflow-test-integrity-secret")
	testEncryptionKey   = []byte("0123456789abcdef0123456789abcdef")
)

// memAuditRepo is an in-memory AuditRepo that can be told to fail.
type memAuditRepo struct {
	mu      sync.Mutex
	events  []*model.AuditEvent
	appends int
	// failNext fails that many Append calls; negative fails all of them.
	failNext int
	failErr  error
}

func (r *memAuditRepo) Append(_ context.Context, events []*model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appends++
	if r.failNext != 0 {
		if r.failNext > 0 {
			r.failNext--
		}
		return r.failErr
	}
	for _, e := range events {
		cp := *e
		r.events = append(r.events, &cp)
	}
	return nil
}

func (r *memAuditRepo) Last(_ context.Context) (*model.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil, nil
	}
	cp := *r.events[len(r.events)-1]
	return &cp, nil
}

func (r *memAuditRepo) Before(_ context.Context, seq int64) (*model.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *model.AuditEvent
	for _, e := range r.events {
		if e.Seq < seq {
			found = e
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (r *memAuditRepo) Range(_ context.Context, tr model.TimeRange) ([]*model.AuditEvent, error) {
	return r.collect(func(e *model.AuditEvent) bool { return tr.Contains(e.Timestamp) }), nil
}

func (r *memAuditRepo) Query(_ context.Context, f model.AuditFilter) ([]*model.AuditEvent, error) {
	out := r.collect(f.Matches)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (r *memAuditRepo) collect(keep func(*model.AuditEvent) bool) []*model.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AuditEvent
	for _, e := range r.events {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func (r *memAuditRepo) stored() []*model.AuditEvent {
	return r.collect(func(*model.AuditEvent) bool { return true })
}

func (r *memAuditRepo) tamper(i int, fn func(*model.AuditEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.events[i])
}

func (r *memAuditRepo) failWith(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext, r.failErr = n, err
}

// recordingBroadcaster keeps every message it is asked to send.
type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []*model.BroadcastMessage
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, msg *model.BroadcastMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *recordingBroadcaster) ofType(t string) []*model.BroadcastMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*model.BroadcastMessage
	for _, m := range b.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// failingPredictor rejects every model.
type failingPredictor struct{}

func (failingPredictor) Predict(context.Context, string, map[string]any) (*predict.Result, error) {
	return nil, errors.New("prediction service unavailable")
}

// testClock is a manually advanced clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type auditFixture struct {
	log        *AuditLog
	primary    *memAuditRepo
	escalation *memAuditRepo
	alerts     *recordingBroadcaster
	cipher     *crypto.AESCrypto
}

func newAuditFixture(t *testing.T, opts AuditOptions) *auditFixture {
	t.Helper()
	signer, err := crypto.NewSigner(testIntegritySecret)
	require.NoError(t, err)
	cipher, err := crypto.NewAESCrypto(testEncryptionKey)
	require.NoError(t, err)

	f := &auditFixture{
		primary:    &memAuditRepo{},
		escalation: &memAuditRepo{},
		alerts:     &recordingBroadcaster{},
		cipher:     cipher,
	}
	f.log, err = NewAuditLog(AuditDeps{
		Primary:    f.primary,
		Escalation: f.escalation,
		Alerts:     f.alerts,
	}, signer, cipher, opts, nil, log.DefaultLogger)
	require.NoError(t, err)
	return f
}

type workflowFixture struct {
	*auditFixture
	uc      *WorkflowUsecase
	records *data.RecordStore
	live    *recordingBroadcaster
	data    *data.Data
	deps    WorkflowDeps
}

var testProfile = ClientProfile{
	FirstName:   "Ada",
	LastName:    "Okafor",
	Email:       "ada@example.com",
	Phone:       "+15550100",
	DueDate:     "2027-03-01",
	ServiceType: "postpartum",
}

func newWorkflowFixture(t *testing.T, predictor Predictor, catalog *PhaseCatalog, opts WorkflowOptions) *workflowFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	d, cleanup, err := data.NewData(&conf.Data{}, log.DefaultLogger, rdb, data.NewCacheClient(rdb))
	require.NoError(t, err)
	t.Cleanup(cleanup)

	repo, err := data.NewWorkflowRepo(&conf.Workflow{CacheSize: 16}, d, log.DefaultLogger)
	require.NoError(t, err)
	records := data.NewRecordStore(d, log.DefaultLogger)
	calendar := data.NewCalendarService(d, log.DefaultLogger)

	if predictor == nil {
		predictor = data.NewStaticPredictor(log.DefaultLogger)
	}
	if catalog == nil {
		catalog, err = NewPhaseCatalog()
		require.NoError(t, err)
	}

	af := newAuditFixture(t, AuditOptions{BatchSize: 1000, FlushInterval: time.Hour})
	live := &recordingBroadcaster{}
	actions := NewActionRegistry(NewActionDeps(records, data.NewLogNotifier(log.DefaultLogger), predictor, calendar,
		&conf.Workflow{CoordinatorEmail: "coordinator@example.com"}))

	deps := WorkflowDeps{
		Repo:        repo,
		Records:     records,
		Predictor:   predictor,
		Broadcaster: live,
		Audit:       af.log,
		Catalog:     catalog,
		Actions:     actions,
	}
	uc := NewWorkflowUsecase(deps, opts, nil, log.DefaultLogger)
	t.Cleanup(uc.Shutdown)

	return &workflowFixture{auditFixture: af, uc: uc, records: records, live: live, data: d, deps: deps}
}

// restart stops the engine and starts a new one on the same Redis, with a
// cold repo cache, the way a process restart would.
func (f *workflowFixture) restart(t *testing.T, opts WorkflowOptions) *WorkflowUsecase {
	t.Helper()
	f.uc.Shutdown()

	repo, err := data.NewWorkflowRepo(&conf.Workflow{CacheSize: 16}, f.data, log.DefaultLogger)
	require.NoError(t, err)
	deps := f.deps
	deps.Repo = repo
	f.uc = NewWorkflowUsecase(deps, opts, nil, log.DefaultLogger)
	t.Cleanup(f.uc.Shutdown)
	return f.uc
}

func (f *workflowFixture) initialize(t *testing.T) string {
	t.Helper()
	res, err := f.uc.InitializeClient(context.Background(), testProfile)
	require.NoError(t, err)
	require.NotNil(t, res.Phase)
	return res.ClientID
}

// auditActions returns the workflow audit events for clientID with action.
func (f *workflowFixture) auditActions(t *testing.T, clientID, action string) []*model.AuditEvent {
	t.Helper()
	require.NoError(t, f.log.Flush(context.Background()))
	events, err := f.log.Query(context.Background(), model.AuditFilter{SubjectID: clientID, Action: action})
	require.NoError(t, err)
	return events
}
