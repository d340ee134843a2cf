package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
	"caseflow/internal/scheduler"
	"caseflow/internal/testutil"
)

const testSecret = "test-secret"

type testServer struct {
	*testutil.Fixture
	URL    string
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	f := testutil.NewFixture(t)
	eng := engine.New(f.DB, engine.Options{})
	handler, err := New(Config{
		Engine:    eng,
		Scheduler: scheduler.Scheduler{Engine: eng},
		Auth:      AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
	})
	return &testServer{Fixture: f, URL: "http://" + ln.Addr().String() + "/v1", client: &http.Client{}}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, data
}

func bearer(t *testing.T, id string, role domain.Role) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, domain.Actor{ID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func legacy(id string, role domain.Role) map[string]string {
	return map[string]string{"X-Actor-Id": id, "X-Actor-Role": string(role)}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func assignedTo(id string) func(*domain.Case) {
	return func(c *domain.Case) { c.AssignedStaffID = &id }
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	s.Staff("lawyer-1", domain.RoleLawyer, "civil", nil)
	s.Tx(func(tx *sqlx.Tx) error {
		return s.Repo.InsertAPIKeyTx(s.Ctx, tx, domain.APIKey{
			ID: "key-1", StaffID: "lawyer-1", KeyHash: repo.HashAPIKey("secret-key"), CreatedAt: testutil.Epoch.Format(time.RFC3339),
		})
	})

	status, _ := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status, data := s.do(t, http.MethodGet, "/cases", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	status, data = s.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	cases := []struct {
		name    string
		headers map[string]string
		want    WhoAmIResponse
	}{
		{"jwt", bearer(t, "admin-1", domain.RoleAdmin), WhoAmIResponse{ActorID: "admin-1", Role: "ADMIN", Source: "jwt"}},
		{"api key", map[string]string{"X-Api-Key": "secret-key"}, WhoAmIResponse{ActorID: "lawyer-1", Role: "LAWYER", Source: "api_key"}},
		{"legacy", legacy("TRK-1", domain.RoleClient), WhoAmIResponse{ActorID: "TRK-1", Role: "CLIENT", Source: "legacy_header"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, data := s.do(t, http.MethodGet, "/me", nil, tc.headers)
			require.Equal(t, http.StatusOK, status, string(data))
			var got WhoAmIResponse
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTransitionEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.Staff("lawyer-1", domain.RoleLawyer, "civil", nil)
	s.Rule(domain.TransitionRule{TopicCode: "civil", FromStatus: "NEW", ToStatus: "IN_PROGRESS", Enabled: true})
	s.Rule(domain.TransitionRule{
		TopicCode: "civil", FromStatus: "IN_PROGRESS", ToStatus: "RESOLVED", Enabled: true,
		RequiredDataKeys: domain.StringList{"court_ruling"},
	})
	s.Case("c1", "civil", "NEW", assignedTo("lawyer-1"))
	lawyer := bearer(t, "lawyer-1", domain.RoleLawyer)

	status, data := s.do(t, http.MethodPost, "/cases/c1/transition", map[string]any{"to_status": "IN_PROGRESS", "comment": "started"}, lawyer)
	require.Equal(t, http.StatusOK, status, string(data))
	var res engine.TransitionResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "NEW", res.FromStatus)
	assert.Equal(t, "IN_PROGRESS", res.ToStatus)

	status, data = s.do(t, http.MethodPost, "/cases/c1/transition", map[string]any{"to_status": "CLOSED"}, lawyer)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "transition_not_allowed", errorCode(t, data))

	status, data = s.do(t, http.MethodPost, "/cases/c1/transition", map[string]any{"to_status": "RESOLVED"}, lawyer)
	assert.Equal(t, http.StatusBadRequest, status)
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "missing_prerequisites", env.Error.Code)
	assert.Equal(t, []any{"court_ruling"}, env.Error.Details["missing_data"])

	status, data = s.do(t, http.MethodGet, "/cases/c1/history", nil, lawyer)
	require.Equal(t, http.StatusOK, status, string(data))
	var hist HistoryResponse
	require.NoError(t, json.Unmarshal(data, &hist))
	require.Len(t, hist.Items, 1)
	assert.Equal(t, "IN_PROGRESS", hist.Items[0].ToStatus)

	status, _ = s.do(t, http.MethodPost, "/cases/missing/transition", map[string]any{"to_status": "IN_PROGRESS"}, lawyer)
	assert.Equal(t, http.StatusNotFound, status)

	status, data = s.do(t, http.MethodPost, "/cases/c1/transition", map[string]any{"to_status": "RESOLVED"}, legacy("TRK-c1", domain.RoleClient))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", errorCode(t, data))
}

func TestClaimAndReassignEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.Staff("admin-1", domain.RoleAdmin, "", nil)
	s.Staff("lawyer-1", domain.RoleLawyer, "civil", nil)
	s.Staff("lawyer-2", domain.RoleLawyer, "civil", nil)
	s.Case("c1", "civil", "NEW")

	status, data := s.do(t, http.MethodPost, "/cases/c1/claim", nil, bearer(t, "lawyer-1", domain.RoleLawyer))
	require.Equal(t, http.StatusOK, status, string(data))
	var claim engine.ClaimResult
	require.NoError(t, json.Unmarshal(data, &claim))
	assert.Equal(t, "lawyer-1", claim.AssigneeID)
	assert.Equal(t, "primary_topic", claim.Basis)

	status, _ = s.do(t, http.MethodPost, "/cases/c1/claim", nil, bearer(t, "lawyer-2", domain.RoleLawyer))
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(t, http.MethodPost, "/cases/nope/claim", nil, bearer(t, "lawyer-2", domain.RoleLawyer))
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPost, "/cases/c1/claim", nil, bearer(t, "admin-1", domain.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, status)

	status, data = s.do(t, http.MethodPost, "/cases/c1/reassign", map[string]any{"target_staff_id": "lawyer-2"}, bearer(t, "admin-1", domain.RoleAdmin))
	require.Equal(t, http.StatusOK, status, string(data))
	var re engine.ReassignResult
	require.NoError(t, json.Unmarshal(data, &re))
	assert.Equal(t, "lawyer-1", re.From)
	assert.Equal(t, "lawyer-2", re.To)

	status, data = s.do(t, http.MethodPost, "/cases/c1/reassign", map[string]any{"target_staff_id": "lawyer-2"}, bearer(t, "admin-1", domain.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, engine.CodeAlreadyAssigned, errorCode(t, data))

	status, _ = s.do(t, http.MethodPost, "/cases/c1/reassign", map[string]any{"target_staff_id": "lawyer-1"}, bearer(t, "lawyer-2", domain.RoleLawyer))
	assert.Equal(t, http.StatusForbidden, status)
}

func TestSchedulerEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.Staff("lawyer-1", domain.RoleLawyer, "civil", nil)
	s.Case("c1", "civil", "NEW")
	admin := bearer(t, "admin-1", domain.RoleAdmin)

	status, _ := s.do(t, http.MethodPost, "/scheduler/run", nil, bearer(t, "lawyer-1", domain.RoleLawyer))
	assert.Equal(t, http.StatusForbidden, status)

	status, data := s.do(t, http.MethodPost, "/scheduler/run", nil, admin)
	require.Equal(t, http.StatusOK, status, string(data))
	var res scheduler.RunResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, 1, res.Assigned)

	status, data = s.do(t, http.MethodGet, "/staff/load", nil, admin)
	require.Equal(t, http.StatusOK, status, string(data))
	var loads []scheduler.StaffLoad
	require.NoError(t, json.Unmarshal(data, &loads))
	require.Len(t, loads, 1)
	assert.Equal(t, 1, loads[0].Active)
}

func TestClientSeesOnlyOwnCase(t *testing.T) {
	s := newTestServer(t)
	s.Case("c1", "civil", "NEW")
	s.Case("c2", "civil", "NEW")
	client := legacy("TRK-c1", domain.RoleClient)

	status, data := s.do(t, http.MethodGet, "/cases/c1", nil, client)
	require.Equal(t, http.StatusOK, status, string(data))
	var c domain.Case
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, "c1", c.ID)

	status, _ = s.do(t, http.MethodGet, "/cases/c2", nil, client)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodGet, "/cases", nil, client)
	assert.Equal(t, http.StatusForbidden, status)

	status, data = s.do(t, http.MethodPost, "/cases/c1/messages", map[string]any{"body": "hello"}, client)
	require.Equal(t, http.StatusOK, status, string(data))

	status, data = s.do(t, http.MethodGet, "/notifications", nil, bearer(t, "admin-1", domain.RoleAdmin))
	require.Equal(t, http.StatusOK, status, string(data))
}

func TestLegacyHeaderCanBeDisabled(t *testing.T) {
	f := testutil.NewFixture(t)
	eng := engine.New(f.DB, engine.Options{})
	handler, err := New(Config{Engine: eng, Scheduler: scheduler.Scheduler{Engine: eng}, Auth: AuthConfig{JWTSecret: testSecret}})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	defer srv.Shutdown(context.Background())

	req, err := http.NewRequest(http.MethodGet, "http://"+ln.Addr().String()+"/v1/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-Actor-Id", "admin-1")
	req.Header.Set("X-Actor-Role", "ADMIN")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestOpenAPIDocumentsAuth(t *testing.T) {
	s := newTestServer(t)
	status, data := s.do(t, http.MethodGet, "/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	schemes := doc["components"].(map[string]any)["securitySchemes"].(map[string]any)
	assert.Contains(t, schemes, "bearerAuth")
	assert.Contains(t, schemes, "apiKeyAuth")
}

func TestNewRegistersEveryRoute(t *testing.T) {
	f := testutil.NewFixture(t)
	eng := engine.New(f.DB, engine.Options{})
	var handler http.Handler
	require.NotPanics(t, func() {
		var err error
		handler, err = New(Config{Engine: eng, Scheduler: scheduler.Scheduler{Engine: eng}})
		require.NoError(t, err)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Paths      map[string]map[string]any `json:"paths"`
		Components struct {
			Schemas map[string]any `json:"schemas"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	for p, method := range map[string]string{
		"/v1/health":                 "get",
		"/v1/me":                     "get",
		"/v1/catalog":                "get",
		"/v1/cases":                  "post",
		"/v1/cases/{id}/transition":  "post",
		"/v1/cases/{id}/messages":    "post",
		"/v1/cases/{id}/attachments": "post",
		"/v1/cases/{id}/claim":       "post",
		"/v1/cases/{id}/reassign":    "post",
		"/v1/scheduler/run":          "post",
		"/v1/staff/load":             "get",
		"/v1/notifications":          "get",
	} {
		require.Contains(t, doc.Paths, p)
		assert.Contains(t, doc.Paths[p], method, p)
	}
	assert.Contains(t, doc.Components.Schemas, "RunResult")
	assert.Contains(t, doc.Components.Schemas, "DispatchResult")
}
