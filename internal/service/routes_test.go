package service

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CareFlow/internal/biz"
	"CareFlow/internal/conf"
	"CareFlow/internal/data"
	"CareFlow/internal/server/middleware"
	"CareFlow/pkg/crypto"
	pkglog "CareFlow/pkg/log"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRouteServer mounts both route sets over a real engine backed by
// miniredis and file audit stores, behind the production middleware.
func newRouteServer(t *testing.T) *http.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	d, cleanup, err := data.NewData(&conf.Data{}, log.DefaultLogger, rdb, data.NewCacheClient(rdb))
	require.NoError(t, err)
	t.Cleanup(cleanup)

	primary, err := data.NewFileAuditRepo(t.TempDir())
	require.NoError(t, err)
	escalation, err := data.NewFileAuditRepo(t.TempDir())
	require.NoError(t, err)
	signer, err := crypto.NewSigner([]byte("careflow-route-test-secret"))
	require.NoError(t, err)
	cipher, err := crypto.NewAESCrypto([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	audit, err := biz.NewAuditLog(biz.AuditDeps{Primary: primary, Escalation: escalation}, signer, cipher,
		biz.AuditOptions{BatchSize: 100, FlushInterval: time.Hour}, nil, log.DefaultLogger)
	require.NoError(t, err)

	repo, err := data.NewWorkflowRepo(nil, d, log.DefaultLogger)
	require.NoError(t, err)
	records := data.NewRecordStore(d, log.DefaultLogger)
	predictor := data.NewStaticPredictor(log.DefaultLogger)
	catalog, err := biz.NewPhaseCatalog()
	require.NoError(t, err)
	actions := biz.NewActionRegistry(biz.NewActionDeps(records, data.NewLogNotifier(log.DefaultLogger), predictor,
		data.NewCalendarService(d, log.DefaultLogger), &conf.Workflow{CoordinatorEmail: "coordinator@example.com"}))
	uc := biz.NewWorkflowUsecase(biz.WorkflowDeps{
		Repo:        repo,
		Records:     records,
		Predictor:   predictor,
		Broadcaster: data.NewRedisBroadcaster(rdb, data.DefaultBroadcastChannel, log.DefaultLogger),
		Audit:       audit,
		Catalog:     catalog,
		Actions:     actions,
	}, biz.WorkflowOptions{}, nil, log.DefaultLogger)
	t.Cleanup(uc.Shutdown)

	helper := pkglog.NewLogHelper(log.DefaultLogger)
	srv := http.NewServer(http.Middleware(
		middleware.Logging(helper),
		middleware.RequireActor(audit, helper, "/careflow.v1.Audit/"),
	))
	RegisterWorkflowHTTPServer(srv, NewWorkflowService(uc, audit, log.DefaultLogger))
	RegisterAuditHTTPServer(srv, NewAuditService(audit, nil, log.DefaultLogger))
	return srv
}

func serve(srv *http.Server, method, path, body, actor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(middleware.HeaderActorID, actor)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func initializeOverHTTP(t *testing.T, srv *http.Server) string {
	t.Helper()
	rec := serve(srv, nethttp.MethodPost, "/v1/workflows",
		`{"firstName":"Ada","lastName":"Okafor","email":"ada@example.com","phone":"+15550100","serviceType":"postpartum"}`,
		"coordinator-1")
	require.Equal(t, 201, rec.Code, rec.Body.String())

	var res biz.InitializeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.ClientID)
	require.NotNil(t, res.Phase)
	assert.Equal(t, 1, res.Phase.Phase)
	return res.ClientID
}

func TestRoutes_InitializeWorkflow(t *testing.T) {
	srv := newRouteServer(t)
	clientID := initializeOverHTTP(t, srv)

	rec := serve(srv, nethttp.MethodGet, "/v1/workflows/"+clientID+"?include_history=true", "", "")
	require.Equal(t, 200, rec.Code, rec.Body.String())
	var reply GetWorkflowReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.NotNil(t, reply.WorkflowStatus)
	assert.Equal(t, 1, reply.CurrentPhase)
	assert.Len(t, reply.History, 1)
}

func TestRoutes_InitializeWorkflowRejectsInvalidProfile(t *testing.T) {
	srv := newRouteServer(t)

	rec := serve(srv, nethttp.MethodPost, "/v1/workflows", `{"firstName":"Ada"}`, "coordinator-1")
	assert.Equal(t, 400, rec.Code)
	assert.Contains(t, rec.Body.String(), ReasonValidation)
}

func TestRoutes_AdvanceWithTrigger(t *testing.T) {
	srv := newRouteServer(t)
	clientID := initializeOverHTTP(t, srv)

	rec := serve(srv, nethttp.MethodPost, "/v1/workflows/"+clientID+"/phases/2", "", "")
	require.Equal(t, 200, rec.Code, rec.Body.String())

	// no condition matches, the client waits in phase 2
	rec = serve(srv, nethttp.MethodPost, "/v1/workflows/"+clientID+"/advance", `{"trigger":{"contact_made":false}}`, "")
	require.Equal(t, 200, rec.Code, rec.Body.String())
	var res biz.AdvanceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, biz.OutcomeWaiting, res.Outcome)
	assert.Equal(t, 2, res.ToPhase)

	rec = serve(srv, nethttp.MethodPost, "/v1/workflows/"+clientID+"/advance", `{"trigger":{"contact_made":true}}`, "")
	require.Equal(t, 200, rec.Code, rec.Body.String())
	res = biz.AdvanceResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, biz.OutcomeAdvanced, res.Outcome)
	assert.Equal(t, clientID, res.ClientID)
	assert.Equal(t, 2, res.FromPhase)
	assert.Equal(t, 3, res.ToPhase)
	require.NotNil(t, res.Condition)
}

func TestRoutes_AdvanceWithoutBodyMovesOn(t *testing.T) {
	srv := newRouteServer(t)
	clientID := initializeOverHTTP(t, srv)

	rec := serve(srv, nethttp.MethodPost, "/v1/workflows/"+clientID+"/advance", "", "")
	require.Equal(t, 200, rec.Code, rec.Body.String())
	var res biz.AdvanceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.ToPhase)
}

func TestRoutes_UnknownClientAndPhase(t *testing.T) {
	srv := newRouteServer(t)

	rec := serve(srv, nethttp.MethodPost, "/v1/workflows/nobody/advance", "", "")
	assert.Equal(t, 404, rec.Code)
	assert.Contains(t, rec.Body.String(), ReasonWorkflowNotFound)

	rec = serve(srv, nethttp.MethodPost, "/v1/workflows/nobody/phases/two", "", "")
	assert.Equal(t, 400, rec.Code)
}

func TestRoutes_ExportRequiresActor(t *testing.T) {
	srv := newRouteServer(t)
	initializeOverHTTP(t, srv)

	rec := serve(srv, nethttp.MethodPost, "/v1/audit/export", `{"format":"json"}`, "")
	assert.Equal(t, 401, rec.Code)
	assert.Contains(t, rec.Body.String(), middleware.ReasonUnauthenticated)

	rec = serve(srv, nethttp.MethodPost, "/v1/audit/export", `{"format":"json"}`, "privacy-officer")
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var rows []biz.ExportRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	actions := map[string]bool{}
	for _, r := range rows {
		actions[r.Action] = true
	}
	assert.True(t, actions["workflow_initialized"])
	assert.True(t, actions["missing_actor"], "the rejected attempt is audited")
}

func TestRoutes_ExportCSVAndBadFormat(t *testing.T) {
	srv := newRouteServer(t)
	initializeOverHTTP(t, srv)

	rec := serve(srv, nethttp.MethodPost, "/v1/audit/export", `{"format":"csv"}`, "privacy-officer")
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "id,timestamp,eventKind"))

	rec = serve(srv, nethttp.MethodPost, "/v1/audit/export", `{"format":"xml"}`, "privacy-officer")
	assert.Equal(t, 400, rec.Code)
}
