package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reconf/internal/config"
	"reconf/internal/event"
	"reconf/internal/metrics"
)

func testDocument(temperature float64) string {
	return fmt.Sprintf(`llms:
  nim_llm:
    model: meta/llama-3.1-8b-instruct
    temperature: %v
workflow:
  type: react_agent
  llm: nim_llm
`, temperature)
}

type apiFixture struct {
	manager *config.Manager
	bus     *event.Bus
	mux     *http.ServeMux
	path    string
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testDocument(0.7)), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	registry := &metrics.Registry{}
	bus := event.NewBus(event.BusOptions{Name: "api_test", Registry: registry})
	manager, err := config.NewManager(path, config.ManagerOptions{Bus: bus, Registry: registry})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(manager.Dispose)

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Handlers{
		Manager:   manager,
		Bus:       bus,
		Registry:  registry,
		AuthToken: token,
	})
	return &apiFixture{manager: manager, bus: bus, mux: mux, path: path}
}

func (f *apiFixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	f.mux.ServeHTTP(recorder, httptest.NewRequest(method, target, nil))
	return recorder
}

func (f *apiFixture) rewrite(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(f.path, []byte(content), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func TestConfigEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, "")

	recorder := fixture.do(t, http.MethodGet, "/api/config")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var cfg config.Config
	decodeBody(t, recorder, &cfg)
	if cfg.Workflow.Type != "react_agent" {
		t.Fatalf("expected workflow type in payload, got %q", cfg.Workflow.Type)
	}
}

func TestStatusEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, "")

	recorder := fixture.do(t, http.MethodGet, "/api/status")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var status statusResponse
	decodeBody(t, recorder, &status)
	if status.ReloadCount != 0 {
		t.Fatalf("expected reload count 0, got %d", status.ReloadCount)
	}
	if status.Snapshots != 1 {
		t.Fatalf("expected one snapshot, got %d", status.Snapshots)
	}
	if status.Path != fixture.manager.Path() {
		t.Fatalf("expected path %q, got %q", fixture.manager.Path(), status.Path)
	}
}

func TestReloadEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, "")
	fixture.rewrite(t, testDocument(1.1))

	recorder := fixture.do(t, http.MethodPost, "/api/reload")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response reloadResponse
	decodeBody(t, recorder, &response)
	if response.ReloadCount != 1 {
		t.Fatalf("expected reload count 1, got %d", response.ReloadCount)
	}
	if got := fixture.manager.Current().LLMs["nim_llm"].Temperature; got != 1.1 {
		t.Fatalf("expected reloaded temperature, got %v", got)
	}
}

func TestReloadEndpointValidationFailure(t *testing.T) {
	fixture := newAPIFixture(t, "")
	before := fixture.manager.Current()
	fixture.rewrite(t, "workflow: [broken")

	recorder := fixture.do(t, http.MethodPost, "/api/reload")
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
	if fixture.manager.Current() != before {
		t.Fatal("expected configuration unchanged after failed reload")
	}
	if fixture.manager.ReloadCount() != 0 {
		t.Fatalf("expected reload count unchanged, got %d", fixture.manager.ReloadCount())
	}
}

func TestReloadEndpointValidateOnly(t *testing.T) {
	fixture := newAPIFixture(t, "")
	fixture.rewrite(t, testDocument(1.9))

	recorder := fixture.do(t, http.MethodPost, "/api/reload?validate_only=true")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response reloadResponse
	decodeBody(t, recorder, &response)
	if !response.Validated {
		t.Fatal("expected validated flag")
	}
	if fixture.manager.ReloadCount() != 0 {
		t.Fatalf("expected no reload from validate_only, got %d", fixture.manager.ReloadCount())
	}
	if got := fixture.manager.Current().LLMs["nim_llm"].Temperature; got != 0.7 {
		t.Fatalf("expected configuration unchanged, got %v", got)
	}
}

func TestRollbackEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, "")
	fixture.rewrite(t, testDocument(1.1))
	if code := fixture.do(t, http.MethodPost, "/api/reload").Code; code != http.StatusOK {
		t.Fatalf("reload setup failed with %d", code)
	}

	recorder := fixture.do(t, http.MethodPost, "/api/rollback?steps=1")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := fixture.manager.Current().LLMs["nim_llm"].Temperature; got != 0.7 {
		t.Fatalf("expected rolled-back temperature, got %v", got)
	}
}

func TestRollbackEndpointWithoutHistory(t *testing.T) {
	fixture := newAPIFixture(t, "")

	recorder := fixture.do(t, http.MethodPost, "/api/rollback")
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestRollbackEndpointRejectsBadSteps(t *testing.T) {
	fixture := newAPIFixture(t, "")

	recorder := fixture.do(t, http.MethodPost, "/api/rollback?steps=many")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestSnapshotsEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, "")
	fixture.rewrite(t, testDocument(1.1))
	if code := fixture.do(t, http.MethodPost, "/api/reload").Code; code != http.StatusOK {
		t.Fatalf("reload setup failed with %d", code)
	}

	recorder := fixture.do(t, http.MethodGet, "/api/snapshots")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var summaries []snapshotSummary
	decodeBody(t, recorder, &summaries)
	if len(summaries) != 2 {
		t.Fatalf("expected 2 snapshot summaries, got %d", len(summaries))
	}
}

func TestEventsEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, "")
	fixture.bus.Dispatch(event.NewConfigChangeEvent(event.KindModified, fixture.path, "abc123"))

	recorder := fixture.do(t, http.MethodGet, "/api/events?limit=5")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payloads []eventPayload
	decodeBody(t, recorder, &payloads)
	if len(payloads) != 1 {
		t.Fatalf("expected 1 event, got %d", len(payloads))
	}
	if payloads[0].Kind != "modified" || payloads[0].Path != fixture.path {
		t.Fatalf("unexpected payload %+v", payloads[0])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, "")
	fixture.rewrite(t, testDocument(1.1))
	if code := fixture.do(t, http.MethodPost, "/api/reload").Code; code != http.StatusOK {
		t.Fatalf("reload setup failed with %d", code)
	}

	recorder := fixture.do(t, http.MethodGet, "/metrics")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("expected text exposition, got %q", got)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "reconf_reloads_succeeded_total 1") {
		t.Fatalf("expected reload counter in exposition, got:\n%s", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	fixture := newAPIFixture(t, "")

	recorder := fixture.do(t, http.MethodPost, "/api/config")
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestAuthTokenRequired(t *testing.T) {
	fixture := newAPIFixture(t, "sekrit")

	if code := fixture.do(t, http.MethodGet, "/api/status").Code; code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	request.Header.Set("Authorization", "Bearer sekrit")
	fixture.mux.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", recorder.Code)
	}

	if code := fixture.do(t, http.MethodGet, "/api/status?token=sekrit").Code; code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", code)
	}

	if code := fixture.do(t, http.MethodGet, "/api/status?token=wrong").Code; code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", code)
	}
}

func TestEventStream(t *testing.T) {
	fixture := newAPIFixture(t, "")
	server := httptest.NewServer(fixture.mux)
	defer server.Close()

	conn := dialEventStream(t, server.URL)
	defer conn.Close()

	fixture.bus.Dispatch(event.NewConfigChangeEvent(event.KindModified, fixture.path, "abc123"))

	var payload eventPayload
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read stream payload: %v", err)
	}
	if payload.Kind != "modified" || payload.Path != fixture.path {
		t.Fatalf("unexpected stream payload %+v", payload)
	}
}
