package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/vortixworld/bypassgate/internal/chain"
	"github.com/vortixworld/bypassgate/internal/config"
	"github.com/vortixworld/bypassgate/internal/provider"
)

type stubChain struct {
	result chain.Result
}

func (s stubChain) Execute(context.Context, []provider.Kind, string) chain.Result {
	return s.result
}

func newTestServer(t *testing.T, cfg config.Config) (*gin.Engine, *Services) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, err := BuildServices(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build services: %v", err)
	}
	t.Cleanup(svc.Close)
	svc.Chain = stubChain{result: chain.Result{Success: true, Result: "resolved-key"}}
	return NewEngine(cfg, svc), svc
}

func testConfig() config.Config {
	cfg := config.Default()
	// httptest requests originate from 192.0.2.1.
	cfg.AdminIP = "192.0.2.1"
	return cfg
}

func doJSON(t *testing.T, engine *gin.Engine, method, target, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func TestEndToEnd_RequestKeyLifecycle(t *testing.T) {
	engine, _ := newTestServer(t, testConfig())

	status, body := doJSON(t, engine, http.MethodPost, "/create-key", `{"type":"request","value":3}`, nil)
	if status != http.StatusOK || body["status"] != "success" {
		t.Fatalf("create-key failed: %d %v", status, body)
	}
	key, _ := body["apiKey"].(string)
	if key == "" {
		t.Fatalf("expected apiKey in response, got %v", body)
	}

	target := "/bypass?url=https://auth.platoboost.me/a"
	for i, wantRemaining := range []float64{2, 1} {
		status, body = doJSON(t, engine, http.MethodGet, target, "", map[string]string{"x-api-key": key})
		if status != http.StatusOK || body["result"] != "resolved-key" {
			t.Fatalf("bypass %d failed: %d %v", i+1, status, body)
		}
		_, listing := doJSON(t, engine, http.MethodGet, "/keys", "", nil)
		keys, _ := listing["keys"].([]any)
		if len(keys) != 1 {
			t.Fatalf("expected one key listed, got %v", listing)
		}
		entry, _ := keys[0].(map[string]any)
		if entry["remaining"] != wantRemaining || entry["status"] != "active" {
			t.Fatalf("expected remaining=%v active, got %v", wantRemaining, entry)
		}
	}

	status, _ = doJSON(t, engine, http.MethodGet, target, "", map[string]string{"x-api-key": key})
	if status != http.StatusOK {
		t.Fatalf("third bypass failed: %d", status)
	}

	status, body = doJSON(t, engine, http.MethodGet, target, "", map[string]string{"x-api-key": key})
	if status != http.StatusUnauthorized || body["result"] != "Invalid API key" {
		t.Fatalf("expected 401 Invalid API key, got %d %v", status, body)
	}

	_, listing := doJSON(t, engine, http.MethodGet, "/keys", "", nil)
	if keys, _ := listing["keys"].([]any); len(keys) != 0 {
		t.Fatalf("expected retired key absent from listing, got %v", keys)
	}
}

func TestEndToEnd_MonthlyCap(t *testing.T) {
	engine, _ := newTestServer(t, testConfig())

	status, body := doJSON(t, engine, http.MethodPost, "/create-key", `{"type":"monthly","value":13}`, nil)
	if status != http.StatusBadRequest || body["result"] != "Max 12 months" {
		t.Fatalf("expected 400 Max 12 months, got %d %v", status, body)
	}
	status, body = doJSON(t, engine, http.MethodPost, "/create-key", `{"type":"monthly","value":"12"}`, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 12 months accepted, got %d %v", status, body)
	}
}

func TestAdmin_GuardAndValidation(t *testing.T) {
	engine, _ := newTestServer(t, testConfig())

	status, body := doJSON(t, engine, http.MethodGet, "/create-key", "", map[string]string{"x-forwarded-for": "198.51.100.7"})
	if status != http.StatusForbidden || body["result"] != "Forbidden" {
		t.Fatalf("expected 403 before method check, got %d %v", status, body)
	}
	status, body = doJSON(t, engine, http.MethodGet, "/create-key", "", nil)
	if status != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for admin GET, got %d %v", status, body)
	}

	cases := []struct {
		target  string
		body    string
		status  int
		message string
	}{
		{"/create-key", `{"type":"weekly","value":1}`, 400, "Invalid type"},
		{"/create-key", `{"type":"request","value":0}`, 400, "Invalid value"},
		{"/create-key", `{"type":"request","value":"abc"}`, 400, "Invalid value"},
		{"/delete-key", `{}`, 400, "Missing apiKey"},
		{"/expire-key", `{"apiKey":"missing"}`, 404, "Key not found"},
	}
	for _, tc := range cases {
		status, body = doJSON(t, engine, http.MethodPost, tc.target, tc.body, nil)
		if status != tc.status || body["result"] != tc.message {
			t.Fatalf("%s %s: expected %d %q, got %d %v", tc.target, tc.body, tc.status, tc.message, status, body)
		}
	}
}

func TestAdmin_ExpireAndDelete(t *testing.T) {
	engine, _ := newTestServer(t, testConfig())

	_, body := doJSON(t, engine, http.MethodPost, "/api/create-key", `{"type":"monthly","value":1}`, nil)
	key, _ := body["apiKey"].(string)

	status, _ := doJSON(t, engine, http.MethodPost, "/expire-key", `{"apiKey":"`+key+`"}`, nil)
	if status != http.StatusOK {
		t.Fatalf("expire failed: %d", status)
	}
	_, listing := doJSON(t, engine, http.MethodGet, "/keys", "", nil)
	keys, _ := listing["keys"].([]any)
	if len(keys) != 1 {
		t.Fatalf("expected expired key still listed, got %v", listing)
	}

	status, _ = doJSON(t, engine, http.MethodPost, "/delete-key", `{"apiKey":"`+key+`"}`, nil)
	if status != http.StatusOK {
		t.Fatalf("delete failed: %d", status)
	}
	_, listing = doJSON(t, engine, http.MethodGet, "/keys", "", nil)
	if keys, _ := listing["keys"].([]any); len(keys) != 0 {
		t.Fatalf("expected no keys after delete, got %v", keys)
	}
}

func TestAdmin_EmptyAdminIPForbidsAll(t *testing.T) {
	cfg := config.Default()
	engine, _ := newTestServer(t, cfg)
	status, _ := doJSON(t, engine, http.MethodGet, "/keys", "", nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 without admin ip, got %d", status)
	}
}

func TestAdmin_GuardUsesFirstForwardedHop(t *testing.T) {
	engine, _ := newTestServer(t, testConfig())

	// The proxy in front overwrites X-Forwarded-For with the real client.
	status, body := doJSON(t, engine, http.MethodGet, "/keys", "", map[string]string{"X-Forwarded-For": "203.0.113.9"})
	if status != http.StatusForbidden || body["result"] != "Forbidden" {
		t.Fatalf("expected 403 for forwarded non-admin client, got %d %v", status, body)
	}
	status, _ = doJSON(t, engine, http.MethodGet, "/keys", "", map[string]string{"X-Forwarded-For": "192.0.2.1, 10.0.0.1"})
	if status != http.StatusOK {
		t.Fatalf("expected forwarded admin client admitted, got %d", status)
	}
}

func TestHealthzAndOptions(t *testing.T) {
	engine, _ := newTestServer(t, testConfig())
	status, body := doJSON(t, engine, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("expected healthy, got %d %v", status, body)
	}
	req := httptest.NewRequest(http.MethodOptions, "/bypass", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 200 for OPTIONS, got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header on OPTIONS")
	}
}

func TestBuildServices_DatabaseDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = config.StoreDriverDatabase
	cfg.Store.DatabaseDSN = "file:" + filepath.Join(t.TempDir(), "bypass.db")
	engine, svc := newTestServer(t, cfg)
	if svc.Summarizer == nil {
		t.Fatalf("expected usage summarizer with database driver")
	}

	_, body := doJSON(t, engine, http.MethodPost, "/create-key", `{"type":"request","value":2}`, nil)
	key, _ := body["apiKey"].(string)
	status, _ := doJSON(t, engine, http.MethodGet, "/bypass?url=https://auth.platoboost.app/x", "", map[string]string{"x-api-key": key})
	if status != http.StatusOK {
		t.Fatalf("expected bypass ok on database store, got %d", status)
	}

	status, body = doJSON(t, engine, http.MethodGet, "/usage", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected usage summary, got %d %v", status, body)
	}
	hosts, _ := body["hosts"].([]any)
	if len(hosts) != 1 {
		t.Fatalf("expected one host in summary, got %v", body)
	}
	entry, _ := hosts[0].(map[string]any)
	if entry["host"] != "auth.platoboost.app" || entry["total"] != float64(1) {
		t.Fatalf("unexpected summary entry: %v", entry)
	}
}

func TestMigrate_RequiresDatabaseDriver(t *testing.T) {
	if err := Migrate(config.Default()); err == nil {
		t.Fatalf("expected error for memory driver")
	}
	cfg := config.Default()
	cfg.Store.Driver = config.StoreDriverDatabase
	cfg.Store.DatabaseDSN = "file:" + filepath.Join(t.TempDir(), "migrate.db")
	if err := Migrate(cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}
