package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/app"
	"github.com/JakeFAU/brand-monitor/internal/config"
	"github.com/JakeFAU/brand-monitor/internal/monitor"
	"github.com/JakeFAU/brand-monitor/internal/orchestrator"
	pubmem "github.com/JakeFAU/brand-monitor/internal/publisher/memory"
	"github.com/JakeFAU/brand-monitor/internal/storage/memory"
)

const serpPayload = `{
  "status_code": 20000,
  "tasks": [{
    "status_code": 20000,
    "result": [{
      "items": [
        {"type": "organic", "rank_absolute": 1, "url": "https://acme.com/a", "domain": "acme.com", "title": "A"},
        {"type": "organic", "rank_absolute": 2, "url": "https://rival.io/b", "domain": "rival.io", "title": "B"}
      ]
    }]
  }]
}`

func loadConfig(t *testing.T, extra string) config.Config {
	t.Helper()
	body := `
auth:
  api_key: secret
worker:
  top_n_extract: 0
  default_sources: [organic]
driver:
  step_delay: 0s
  budget: 30s
  maintenance_cron: ""
` + extra
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewMemoryMode(t *testing.T) {
	t.Parallel()

	a := newApp(t, loadConfig(t, ""))
	require.IsType(t, &memory.Store{}, a.Store)
	require.IsType(t, &pubmem.Publisher{}, a.Publisher)
	require.NotNil(t, a.Worker)
	require.NotNil(t, a.Scheduler)
	require.NotNil(t, a.Blacklister)
	require.Nil(t, a.Filter, "ai maintenance needs an api key")
	require.Nil(t, a.Briefing)
	require.NoError(t, a.Ready(context.Background()))
	require.Equal(t, ":8080", a.Addr())

	srv := httptest.NewServer(a.Server().Handler())
	t.Cleanup(srv.Close)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewWithAIKeyWiresMaintenance(t *testing.T) {
	t.Parallel()

	a := newApp(t, loadConfig(t, "ai:\n  api_key: sk-test\n"))
	require.NotNil(t, a.Filter)
	require.NotNil(t, a.Normalizer)
	require.NotNil(t, a.Briefing)
}

func TestNewArchiveBackends(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archive")
	newApp(t, loadConfig(t, "archive:\n  backend: local\n  base_dir: "+dir+"\n"))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	cfg := loadConfig(t, "")
	cfg.Archive.Backend = "s3"
	_, err = app.New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown archive backend")
}

func TestScanRunsEndToEnd(t *testing.T) {
	t.Parallel()

	serp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v3/serp/google/organic/live/advanced") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(serpPayload))
	}))
	t.Cleanup(serp.Close)

	a := newApp(t, loadConfig(t, "archive:\n  backend: memory\nsearch:\n  base_url: "+serp.URL+"\n"))
	store := a.Store.(*memory.Store)
	require.NoError(t, store.PutProject(context.Background(), monitor.Project{
		ID: "proj-1", Name: "Acme", Active: true,
		Keywords: []string{"acme", "acme shoes"}, Competitors: []string{"rival.io"},
	}))

	srv := httptest.NewServer(a.Server().Handler())
	t.Cleanup(srv.Close)
	post := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("X-API-Key", "secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := post("/v1/projects/proj-1/scans")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started struct {
		Scan monitor.Scan `json:"scan"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.Equal(t, 2, started.Scan.TotalTasks)

	resp = post("/v1/scans/" + started.Scan.ID + "/run")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run struct {
		Status orchestrator.Status `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	require.Equal(t, monitor.ScanStatusCompleted, run.Status.Scan.Status)
	require.Equal(t, 2, run.Status.Jobs[monitor.JobStatusCompleted])

	results := store.Results(started.Scan.ID)
	require.Len(t, results, 2, "the second keyword only saw known urls")
	competitors := 0
	for _, r := range results {
		if r.IsCompetitor {
			competitors++
		}
	}
	require.Equal(t, 1, competitors)
	require.Len(t, a.Publisher.(*pubmem.Publisher).ByTopic(orchestrator.TopicScanCompleted), 1)
}
