package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("ws-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.Repo.UpsertWorkspaceConfig(context.Background(), cfg.Workspace.ID, cfg); err != nil {
		t.Fatalf("seed workspace config: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func createCase(t *testing.T, srv *testServer, body map[string]any) CaseResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/cases", body, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create case status %d: %s", res.StatusCode, string(data))
	}
	var c CaseResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	return c
}

func TestStageTransitionBlockedThenAllowed(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	c := createCase(t, srv, map[string]any{"title": "Expense fraud", "jurisdiction": "BE"})
	if c.Stage != "INTAKE" || c.Status != "OPEN" {
		t.Fatalf("unexpected initial case: %s/%s", c.Stage, c.Status)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases/"+c.ID+"/stage", map[string]any{
		"target": "INVESTIGATION",
	}, asActor("tester"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Code != "transition_blocked" {
		t.Fatalf("expected transition_blocked, got %q", env.Error.Code)
	}
	blockers, ok := env.Error.Details["blockers"].([]any)
	if !ok || len(blockers) != 2 {
		t.Fatalf("expected 2 blockers in details: %v", env.Error.Details)
	}

	for key, payload := range map[string]map[string]any{
		"legitimacy":    {"legal_basis": "whistleblower report", "trigger_summary": "hotline tip"},
		"credentialing": {"investigator_name": "Alex Rivera", "investigator_role": "HR investigations"},
	} {
		res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v1/cases/"+c.ID+"/gates/"+key, map[string]any{
			"payload": payload,
		}, asActor("tester"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("save gate %s: %d %s", key, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases/"+c.ID+"/stage", map[string]any{
		"target": "INVESTIGATION",
	}, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition after gates: %d %s", res.StatusCode, string(data))
	}
	var moved CaseResponse
	_ = json.Unmarshal(data, &moved)
	if moved.Stage != "INVESTIGATION" {
		t.Fatalf("stage not updated: %s", moved.Stage)
	}
}

func TestReporterMaskingFollowsGrant(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	c := createCase(t, srv, map[string]any{
		"title": "t", "jurisdiction": "BE", "reporter_identity": "jane@corp.example",
	})

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/cases/"+c.ID, nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get case: %d %s", res.StatusCode, string(data))
	}
	var fetched CaseResponse
	_ = json.Unmarshal(data, &fetched)
	if fetched.ReporterIdentity == nil || *fetched.ReporterIdentity != maskedValue {
		t.Fatalf("expected masked reporter, got %v", fetched.ReporterIdentity)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases/"+c.ID+"/grants", map[string]any{
		"reason": "reporter follow-up", "duration_minutes": 30,
	}, asActor("tester"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("grant: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/cases/"+c.ID, nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get case: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &fetched)
	if fetched.ReporterIdentity == nil || *fetched.ReporterIdentity != "jane@corp.example" {
		t.Fatalf("expected unmasked reporter, got %v", fetched.ReporterIdentity)
	}
}

func TestGuardrailNeedsOverride(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	c := createCase(t, srv, map[string]any{"title": "t", "jurisdiction": "NL"})

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/cases/"+c.ID, map[string]any{
		"urgent_dismissal": true,
	}, asActor("tester"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "needs_override" {
		t.Fatalf("expected needs_override, got %q", env.Error.Code)
	}
	if env.Error.Details["guardrail"] != "nl_suspension_missing" {
		t.Fatalf("unexpected guardrail: %v", env.Error.Details)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/cases/"+c.ID, map[string]any{
		"urgent_dismissal": true, "override": true, "override_reason": "suspension letter in transit",
	}, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("override: %d %s", res.StatusCode, string(data))
	}
	var updated CaseResponse
	_ = json.Unmarshal(data, &updated)
	if !updated.UrgentDismissal {
		t.Fatalf("flag not applied")
	}
}

func TestStaleWriteConflict(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	c := createCase(t, srv, map[string]any{"title": "t", "jurisdiction": "BE"})

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/cases/"+c.ID, map[string]any{
		"title": "renamed",
	}, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first update: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/cases/"+c.ID, map[string]any{
		"title": "renamed again", "expected_version": 0,
	}, asActor("tester"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "stale_write" {
		t.Fatalf("expected stale_write, got %q", env.Error.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", map[string]any{
		"title": "t", "jurisdiction": "BE",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	// the actor header is ignored unless explicitly allowed
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", map[string]any{
		"title": "t", "jurisdiction": "BE",
	}, asActor("tester"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with legacy header disabled, got %d: %s", res.StatusCode, string(data))
	}

	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	secret := "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret})
	defer cleanup()
	client := srv.Client()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "jwt-user"}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", map[string]any{
		"title": "t", "jurisdiction": "BE",
	}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with jwt: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", map[string]any{
		"title": "t", "jurisdiction": "BE",
	}, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %q", env.Error.Code)
	}
}

func TestEmptyBodyRejected(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", nil, asActor("tester"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/apikeys", map[string]any{
		"actor_id": "svc-ingest", "name": "ingest", "key": "sekrit-key-1",
	}, asActor("admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", map[string]any{
		"title": "t", "jurisdiction": "BE",
	}, map[string]string{"X-Api-Key": "sekrit-key-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with api key: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", map[string]any{
		"title": "t", "jurisdiction": "BE",
	}, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuditEventsCarryRequestOrigin(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	client := srv.Client()

	headers := asActor("tester")
	headers["X-Forwarded-For"] = "203.0.113.9"
	headers["User-Agent"] = "caseflow-cli/0.1.0"
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", map[string]any{
		"title": "t", "jurisdiction": "BE",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create case: %d %s", res.StatusCode, string(data))
	}
	var c CaseResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/audit?case_id="+c.ID+"&type=case.create", nil, asActor("tester"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list audit: %d %s", res.StatusCode, string(data))
	}
	var page struct {
		Items []AuditEventResponse `json:"items"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal audit page: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one create event, got %d", len(page.Items))
	}
	evtCtx := page.Items[0].Context
	if evtCtx["origin"] != "203.0.113.9" {
		t.Fatalf("forwarded address not recorded: %v", evtCtx)
	}
	if evtCtx["client"] != "caseflow-cli/0.1.0" {
		t.Fatalf("client identity not recorded: %v", evtCtx)
	}
}
