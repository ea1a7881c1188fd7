package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/card-capture/ccd/internal/auth"
	"github.com/card-capture/ccd/internal/capture"
	"github.com/card-capture/ccd/internal/config"
	"github.com/card-capture/ccd/internal/fields"
	"github.com/card-capture/ccd/internal/workflow"
)

type fakeWorkflow struct {
	snapshot workflow.Snapshot
	err      error
	actions  []string
}

func (f *fakeWorkflow) Status() workflow.Snapshot { return f.snapshot }

func (f *fakeWorkflow) Confirm(ctx context.Context) error {
	f.actions = append(f.actions, "confirm")
	return f.err
}

func (f *fakeWorkflow) Cancel(ctx context.Context) error {
	f.actions = append(f.actions, "cancel")
	return f.err
}

func (f *fakeWorkflow) Retry(ctx context.Context) error {
	f.actions = append(f.actions, "retry")
	return f.err
}

func (f *fakeWorkflow) Ack(ctx context.Context) error {
	f.actions = append(f.actions, "ack")
	return f.err
}

type fakeTelemetry struct {
	subscribed bool
}

func (f *fakeTelemetry) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	f.subscribed = true
	w.Header().Set("Content-Type", "text/event-stream")
	fmt.Fprint(w, "event: ready\ndata: {}\n\n")
	return nil
}

type testDeps struct {
	workflow  *fakeWorkflow
	captureM  *capture.Manager
	registry  *fields.Registry
	store     *config.Store
	telemetry *fakeTelemetry
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		workflow:  &fakeWorkflow{snapshot: workflow.Snapshot{State: workflow.StateIdle}},
		captureM:  capture.NewManager(4),
		registry:  fields.NewRegistry(config.DefaultFields()),
		store:     config.NewStore(*config.Default()),
		telemetry: &fakeTelemetry{},
	}
	srv := NewServer(deps.workflow, deps.captureM, deps.registry, deps.store, deps.telemetry,
		5*time.Second, 5*time.Second, 5*time.Second)
	return srv, deps
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rec.Body.String())
	}
	if resp.CorrelationID == "" {
		t.Errorf("envelope missing correlationId")
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Result != "ok" {
		t.Errorf("result = %q, want ok", resp.Result)
	}
	data := resp.Data.(map[string]interface{})
	if data["status"] != "ok" {
		t.Errorf("health status = %v", data["status"])
	}
}

func TestCapabilitiesListsVersions(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/capabilities", "")

	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]interface{})
	versions := data["versions"].([]interface{})
	if len(versions) != 3 {
		t.Errorf("versions = %d, want 3", len(versions))
	}
}

func TestWorkflowStatus(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.workflow.snapshot = workflow.Snapshot{State: workflow.StateAwaitingConfirmation, RunID: "run-1"}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/workflow", "")
	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]interface{})
	if data["state"] != "AwaitingConfirmation" {
		t.Errorf("state = %v", data["state"])
	}
	if data["runId"] != "run-1" {
		t.Errorf("runId = %v", data["runId"])
	}
}

func TestWorkflowActions(t *testing.T) {
	srv, deps := newTestServer(t)

	for _, action := range []string{"confirm", "cancel", "retry", "ack"} {
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/workflow/"+action, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", action, rec.Code)
		}
	}
	if len(deps.workflow.actions) != 4 {
		t.Errorf("actions = %v", deps.workflow.actions)
	}
}

func TestWorkflowActionConflict(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.workflow.err = fmt.Errorf("nothing awaiting confirmation in state Idle")

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/workflow/confirm", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Code != "INVALID_STATE" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestManualCardSubmission(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/cards/manual", `{"text":"1234567890"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]interface{})
	if data["dec10"] != "1234567890" {
		t.Errorf("dec10 = %v", data["dec10"])
	}
}

func TestManualCardRejectsGarbage(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/cards/manual", `{"text":"hello"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Code != "INVALID_CARD" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestManualCardStrictJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []string{
		`{"text":"1234567890","extra":1}`,
		`not json`,
		`{"text":"1234567890"} trailing`,
	}
	for _, body := range cases {
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/cards/manual", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestIngestCard(t *testing.T) {
	srv, _ := newTestServer(t)

	// "2E162ED9" as ASCII hex token, base64 encoded.
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/cards/ingest",
		`{"source":"reader-1","payload":"MkUxNjJFRDk="}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	data := resp.Data.(map[string]interface{})
	if data["hex8"] != "2E162ED9" {
		t.Errorf("hex8 = %v", data["hex8"])
	}
}

func TestIngestCardUndecodable(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/cards/ingest",
		`{"source":"reader-1","payload":"AA=="}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Code != "UNDECODABLE" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestForwardedKeys(t *testing.T) {
	srv, deps := newTestServer(t)

	// Without a key handler the endpoint reports unavailable.
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/cards/keys",
		`{"device":"Bluetooth Keyboard","keys":[49]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	wedge := capture.NewKeystrokeSource(capture.KeystrokeConfig{DigitLength: 10}, deps.captureM.Publish)
	srv.SetKeyHandler(wedge)

	// Ten digits "1234567890" as virtual key codes.
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/cards/keys",
		`{"device":"Bluetooth Keyboard","keys":[49,50,51,52,53,54,55,56,57,48]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	select {
	case ev := <-deps.captureM.Events():
		if ev.Identifier.Dec10 != "1234567890" {
			t.Errorf("dec10 = %q", ev.Identifier.Dec10)
		}
		if ev.Provenance != capture.ProvenanceKeystroke {
			t.Errorf("provenance = %q", ev.Provenance)
		}
		if ev.Source != "Bluetooth Keyboard" {
			t.Errorf("source = %q, want the forwarding device label", ev.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("no card event published")
	}
}

func TestFieldLifecycle(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/fields", "")
	resp := decodeEnvelope(t, rec)
	list := resp.Data.([]interface{})
	if len(list) == 0 {
		t.Fatalf("no fields seeded")
	}

	var editable map[string]interface{}
	for _, item := range list {
		f := item.(map[string]interface{})
		if f["builtin"] != true {
			editable = f
			break
		}
	}
	if editable == nil {
		t.Fatalf("no editable field found")
	}
	id := editable["id"].(string)

	rec = doRequest(t, srv, http.MethodPut, "/api/v1/fields/"+id, `{"value":"ID777"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}

	updated, err := deps.registry.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Value != "ID777" {
		t.Errorf("value = %q, want ID777", updated.Value)
	}
}

func TestFieldBuiltinProtection(t *testing.T) {
	srv, deps := newTestServer(t)

	var builtinID string
	for _, f := range deps.registry.List() {
		if f.Builtin {
			builtinID = f.ID
			break
		}
	}

	rec := doRequest(t, srv, http.MethodPut, "/api/v1/fields/"+builtinID, `{"value":"x"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("update builtin status = %d, want 409", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/fields/"+builtinID, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("delete builtin status = %d, want 409", rec.Code)
	}
}

func TestFieldNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/fields/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAddAndRemoveField(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/fields",
		`{"name":"Ward","paramName":"ward","enabled":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	id := resp.Data.(map[string]interface{})["id"].(string)

	// Duplicate param name rejected.
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/fields",
		`{"name":"Ward2","paramName":"ward"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate add status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/fields/"+id, "")
	if rec.Code != http.StatusOK {
		t.Errorf("remove status = %d", rec.Code)
	}
}

func TestRefreshWithoutRecognizer(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/fields/refresh", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

type stubRecognizer struct{}

func (stubRecognizer) Recognize(ctx context.Context, paramName string) (string, error) {
	if paramName == "Number1" {
		return "ID900", nil
	}
	return "", nil
}

func TestRefreshWithRecognizer(t *testing.T) {
	srv, deps := newTestServer(t)
	srv.SetRecognizer(stubRecognizer{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/fields/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var found bool
	for _, f := range deps.registry.List() {
		if f.ParamName == "Number1" && f.Value == "ID900" {
			found = true
		}
	}
	if !found {
		t.Errorf("recognized value not stored")
	}
}

func TestConfigOmitsAuthMaterial(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "auth") {
		t.Errorf("config response leaks auth section: %s", rec.Body.String())
	}
}

func TestSelectVersion(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPut, "/api/v1/config/version", `{"version":"v2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if deps.store.Current().Service.SelectedVersion != "v2" {
		t.Errorf("selected version not applied")
	}

	rec = doRequest(t, srv, http.MethodPut, "/api/v1/config/version", `{"version":"v9"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown version status = %d, want 404", rec.Code)
	}
}

func TestEventsStream(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/events", "")
	if !deps.telemetry.subscribed {
		t.Errorf("subscribe not called")
	}
	if !strings.Contains(rec.Body.String(), "event: ready") {
		t.Errorf("stream body = %q", rec.Body.String())
	}
}

func TestMethodNotAllowedEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodDelete, "/api/v1/workflow", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Code != "METHOD_NOT_ALLOWED" {
		t.Errorf("code = %q", resp.Code)
	}
}

func signToken(t *testing.T, secret string, scopes []string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":    "operator-1",
		"scopes": scopes,
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newAuthedServer(t *testing.T) *Server {
	t.Helper()
	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Algorithm: "HS256",
		SecretKey: "test-secret",
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	middleware := auth.NewMiddlewareWithVerifier(verifier)

	deps := &testDeps{
		workflow:  &fakeWorkflow{snapshot: workflow.Snapshot{State: workflow.StateIdle}},
		captureM:  capture.NewManager(4),
		registry:  fields.NewRegistry(config.DefaultFields()),
		store:     config.NewStore(*config.Default()),
		telemetry: &fakeTelemetry{},
	}
	return NewServerWithAuth(deps.workflow, deps.captureM, deps.registry, deps.store,
		deps.telemetry, middleware, 5*time.Second, 5*time.Second, 5*time.Second)
}

func TestAuthRequired(t *testing.T) {
	srv := newAuthedServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/workflow", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	// Health stays open.
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestScopeEnforcement(t *testing.T) {
	srv := newAuthedServer(t)

	readToken := signToken(t, "test-secret", []string{"read"})
	operateToken := signToken(t, "test-secret", []string{"read", "operate"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflow/confirm", nil)
	req.Header.Set("Authorization", "Bearer "+readToken)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("read-only confirm status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/workflow/confirm", nil)
	req.Header.Set("Authorization", "Bearer "+operateToken)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("operate confirm status = %d, want 200", rec.Code)
	}
}
