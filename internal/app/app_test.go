package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/LeeSinLiang/Janus-sub000/internal/config"
	"github.com/LeeSinLiang/Janus-sub000/internal/strategy"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	yaml := `
server:
  listen_addr: "127.0.0.1:0"
  api_key: "secret"
database:
  path: "` + filepath.Join(dir, "janus.db") + `"
queue:
  path: "` + filepath.Join(dir, "tasks.db") + `"
logging:
  level: "error"
  format: "text"
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	cfg := loadTestConfig(t)

	a, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if a.metricsServer != nil {
		t.Error("metrics server should not be created when disabled")
	}

	rec := httptest.NewRecorder()
	a.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected health 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", rec.Code)
	}
}

func TestOneShotCommandsUseMockGenerator(t *testing.T) {
	cfg := loadTestConfig(t)

	a, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	res, err := a.Strategies().Create(ctx, strategy.CreateRequest{
		Name:  "Launch",
		Goals: "grow the waitlist",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.CreatedCount == 0 {
		t.Error("expected posts to be created")
	}
	if res.Queued != res.CreatedCount {
		t.Errorf("expected %d queued content tasks, got %d", res.CreatedCount, res.Queued)
	}

	check, err := a.Triggers().Check(ctx)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(check.Fired) != 0 {
		t.Errorf("expected no dispatches on unpublished posts, got %d", len(check.Fired))
	}
}
