package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlctl/internal/feedsync"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "feed.db")
	cfg := writeConfig(t, "logging:\n  development: false\n  level: error\ndb:\n  driver: sqlite\n  dsn: "+dbPath+"\n")

	out, err := execute(t, "migrate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema at version 2")
}

func TestSyncCommand_Memory(t *testing.T) {
	cfg := writeConfig(t, "logging:\n  development: false\n  level: error\ndb:\n  driver: memory\n")

	out, err := execute(t, "sync", "--config", cfg, "--platform", "xhs,dy", "--batch-size", "10")
	require.NoError(t, err)

	var report feedsync.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Platforms, 2)
	assert.Equal(t, "xhs", string(report.Platforms[0].Platform))
	assert.Equal(t, 0, report.Failed)
}

func TestSyncCommand_RejectsUnknownPlatform(t *testing.T) {
	cfg := writeConfig(t, "logging:\n  development: false\n  level: error\ndb:\n  driver: memory\n")

	_, err := execute(t, "sync", "--config", cfg, "--platform", "myspace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "myspace")
}

func TestRootCommand_BadConfigPath(t *testing.T) {
	_, err := execute(t, "migrate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}
