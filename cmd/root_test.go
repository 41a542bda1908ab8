package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/app"
	"github.com/JakeFAU/brand-monitor/internal/config"
	"github.com/JakeFAU/brand-monitor/internal/monitor"
	"github.com/JakeFAU/brand-monitor/internal/storage/memory"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	body := `
auth:
  api_key: secret
logging:
  level: error
worker:
  default_sources: [organic, news]
driver:
  maintenance_cron: ""
` + extra
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// seededApp swaps the factory for one that seeds a project into the memory store.
func seededApp(t *testing.T) {
	t.Helper()
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
		a, err := orig(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store := a.Store.(*memory.Store)
		err = store.PutProject(ctx, monitor.Project{
			ID: "proj-1", Name: "Acme", Active: true, Keywords: []string{"acme", "acme shoes"},
		})
		return a, err
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScanStartPrintsScan(t *testing.T) {
	seededApp(t)

	out, err := execute(t, "--config", writeConfig(t, ""), "scan", "start", "--project", "proj-1", "--from", "2026-01-01")
	require.NoError(t, err)
	var scan monitor.Scan
	require.NoError(t, json.Unmarshal([]byte(out), &scan))
	require.Equal(t, 4, scan.TotalTasks)
	require.Equal(t, monitor.ScanStatusRunning, scan.Status)
	require.Equal(t, monitor.TriggerManual, scan.TriggerType)
	require.NotNil(t, scan.DateFrom)
}

func TestScanCommandErrors(t *testing.T) {
	seededApp(t)
	cfg := writeConfig(t, "")

	_, err := execute(t, "--config", cfg, "scan", "start")
	require.ErrorContains(t, err, "project")

	_, err = execute(t, "--config", cfg, "scan", "start", "--project", "nope")
	require.ErrorIs(t, err, monitor.ErrNotFound)

	_, err = execute(t, "--config", cfg, "scan", "start", "--project", "proj-1", "--to", "yesterday")
	require.ErrorContains(t, err, "--to")

	_, err = execute(t, "--config", cfg, "scan", "status", "--scan", "missing")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestMaintainRequiresAI(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t, ""), "maintain", "filter", "--project", "proj-1")
	require.ErrorIs(t, err, errNoAI)
}

func TestMaintainBlacklistWithoutAI(t *testing.T) {
	seededApp(t)

	out, err := execute(t, "--config", writeConfig(t, ""), "maintain", "blacklist", "--project", "proj-1", "--tag", " Spam ")
	require.NoError(t, err)
	require.Contains(t, out, `"spam"`)
}

func TestMigrate(t *testing.T) {
	orig := migrateFn
	t.Cleanup(func() { migrateFn = orig })
	var gotDSN, gotDir string
	var gotSteps int
	migrateFn = func(dsn, direction string, steps int) error {
		gotDSN, gotDir, gotSteps = dsn, direction, steps
		return nil
	}

	_, err := execute(t, "--config", writeConfig(t, ""), "migrate", "up")
	require.ErrorContains(t, err, "db.dsn")

	cfg := writeConfig(t, "db:\n  dsn: postgres://monitor@localhost/monitor\n")
	_, err = execute(t, "--config", cfg, "migrate", "down", "--steps", "2")
	require.NoError(t, err)
	require.Equal(t, "postgres://monitor@localhost/monitor", gotDSN)
	require.Equal(t, "down", gotDir)
	require.Equal(t, 2, gotSteps)

	_, err = execute(t, "--config", cfg, "migrate", "sideways")
	require.Error(t, err)
}
