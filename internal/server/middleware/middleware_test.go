package middleware

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"CareFlow/internal/model"
	pkglog "CareFlow/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAuthAuditor struct {
	mock.Mock
}

func (m *mockAuthAuditor) LogAuthentication(ctx context.Context, actorID, action string, result model.Result, sourceIP string, metadata map[string]any) error {
	args := m.Called(ctx, actorID, action, result, sourceIP, metadata)
	return args.Error(0)
}

// seen keeps the request context observed by the last handler call.
type seen struct {
	mu  sync.Mutex
	req *pkglog.RequestContext
}

func (s *seen) set(rc *pkglog.RequestContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.req = rc
}

func (s *seen) get() *pkglog.RequestContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req
}

func newTestServer(t *testing.T, auditor AuthAuditor) (*http.Server, *seen) {
	t.Helper()
	helper := pkglog.NewLogHelper(log.DefaultLogger)
	srv := http.NewServer(http.Middleware(
		Logging(helper),
		RequireActor(auditor, helper, "/careflow.v1.Audit/"),
	))

	got := &seen{}
	route := func(operation string) func(http.Context) error {
		return func(ctx http.Context) error {
			http.SetOperation(ctx, operation)
			h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
				got.set(pkglog.GetRequestContext(c))
				return map[string]string{"status": "ok"}, nil
			})
			out, err := h(ctx, nil)
			if err != nil {
				return err
			}
			return ctx.Result(200, out)
		}
	}
	r := srv.Route("/")
	r.GET("/v1/audit/events", route("/careflow.v1.Audit/QueryEvents"))
	r.GET("/v1/phases", route("/careflow.v1.Workflow/ListPhases"))
	return srv, got
}

func TestLogging_InjectsRequestContext(t *testing.T) {
	srv, got := newTestServer(t, nil)

	req := httptest.NewRequest(nethttp.MethodGet, "/v1/audit/events", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	req.Header.Set(HeaderActorID, " nurse-1 ")
	req.Header.Set("X-Real-IP", "10.0.0.7")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))

	rc := got.get()
	require.NotNil(t, rc)
	assert.Equal(t, "req-123", rc.RequestID)
	assert.Equal(t, "nurse-1", rc.ActorID)
	assert.Equal(t, "10.0.0.7", rc.SourceIP)
	assert.False(t, rc.StartTime.IsZero())
}

func TestLogging_GeneratesRequestID(t *testing.T) {
	srv, got := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/v1/phases", nil))

	require.Equal(t, 200, rec.Code)
	id := rec.Header().Get(HeaderRequestID)
	assert.Len(t, id, 10)
	assert.Equal(t, id, got.get().RequestID)
}

func TestRequireActor_RejectsAnonymousAuditAccess(t *testing.T) {
	auditor := new(mockAuthAuditor)
	auditor.On("LogAuthentication", mock.Anything, "anonymous", "missing_actor", model.ResultFailure, "10.0.0.9",
		map[string]any{"operation": "/careflow.v1.Audit/QueryEvents"}).Return(nil)
	srv, got := newTestServer(t, auditor)

	req := httptest.NewRequest(nethttp.MethodGet, "/v1/audit/events", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.9, 172.16.0.1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code)
	assert.Contains(t, rec.Body.String(), ReasonUnauthenticated)
	assert.Nil(t, got.get(), "handler must not run")
	auditor.AssertExpectations(t)
}

func TestRequireActor_AllowsIdentifiedAuditAccess(t *testing.T) {
	auditor := new(mockAuthAuditor)
	srv, got := newTestServer(t, auditor)

	req := httptest.NewRequest(nethttp.MethodGet, "/v1/audit/events", nil)
	req.Header.Set(HeaderActorID, "privacy-officer")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "privacy-officer", got.get().ActorID)
	auditor.AssertNotCalled(t, "LogAuthentication")
}

func TestRequireActor_IgnoresUnprotectedOperations(t *testing.T) {
	auditor := new(mockAuthAuditor)
	srv, _ := newTestServer(t, auditor)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/v1/phases", nil))

	assert.Equal(t, 200, rec.Code)
	auditor.AssertNotCalled(t, "LogAuthentication")
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"real ip wins", map[string]string{"X-Real-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, "3.3.3.3:80", "1.1.1.1"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": " 2.2.2.2 , 4.4.4.4"}, "3.3.3.3:80", "2.2.2.2"},
		{"remote addr", nil, "3.3.3.3:80", "3.3.3.3:80"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(nethttp.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIP(req))
		})
	}
}
