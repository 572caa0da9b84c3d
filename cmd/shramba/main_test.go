package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/shramba/internal/auth"
	"github.com/erazemk/shramba/internal/config"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/search"
	"github.com/erazemk/shramba/internal/store"
)

func TestLevelRouterSplitsStreams(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger, cleanup, err := setupLogger(config.LogConfig{Level: "info", Format: "text"}, &stdout, &stderr)
	require.NoError(t, err)
	defer cleanup()

	logger.Debug("hidden")
	logger.Info("hello", "k", "v")
	logger.Error("boom")

	assert.Contains(t, stdout.String(), "msg=hello k=v")
	assert.NotContains(t, stdout.String(), "hidden")
	assert.NotContains(t, stdout.String(), "boom")
	assert.Contains(t, stderr.String(), "msg=boom")
}

func TestSetupLoggerJSONAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shramba.log")
	var stdout, stderr bytes.Buffer
	logger, cleanup, err := setupLogger(config.LogConfig{Path: path, Level: "debug", Format: "json"}, &stdout, &stderr)
	require.NoError(t, err)

	logger.With("component", "test").Debug("traced")
	logger.Error("failed")
	cleanup()

	assert.Contains(t, stdout.String(), `"msg":"traced"`)
	assert.Contains(t, stdout.String(), `"component":"test"`)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "traced")
	assert.Contains(t, string(data), "failed")
}

func TestSetupLoggerRejectsBadLevel(t *testing.T) {
	_, _, err := setupLogger(config.LogConfig{Level: "loud"}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.Error(t, err)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.sqlite3")

	out, err := run(t, "migrate", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version")

	database, err := db.Open(dbPath)
	require.NoError(t, err)
	defer database.Close()
	version, err := db.SchemaVersion(context.Background(), database)
	require.NoError(t, err)
	assert.Equal(t, db.LatestVersion(), version)
}

func TestTokenCommandIssuesValidToken(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.sqlite3")

	out, err := run(t, "token", "scanner", "--db", dbPath, "--ttl", "1h")
	require.NoError(t, err)
	token := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	assert.Contains(t, out, "client:  scanner")

	database, err := db.Open(dbPath)
	require.NoError(t, err)
	defer database.Close()
	secret, err := store.GetTokenSecret(context.Background(), database)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "scanner", claims.Client)
}

func TestTokenCommandNeedsClient(t *testing.T) {
	_, err := run(t, "token", "--db", filepath.Join(t.TempDir(), "test.sqlite3"))
	assert.Error(t, err)
}

func TestSessionsCommandEmpty(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHRAMBA_IMAGE_DIR", filepath.Join(dir, "images"))
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("SHRAMBA_ANTHROPIC_KEY", "")
	t.Setenv("VOYAGE_API_KEY", "")
	t.Setenv("SHRAMBA_VOYAGE_KEY", "")

	out, err := run(t, "sessions", "--db", filepath.Join(dir, "test.sqlite3"))
	require.NoError(t, err)
	assert.Contains(t, out, "no pending sessions")
}

func TestHistoryCommandUnknownItem(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHRAMBA_IMAGE_DIR", filepath.Join(dir, "images"))
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("SHRAMBA_ANTHROPIC_KEY", "")
	t.Setenv("VOYAGE_API_KEY", "")
	t.Setenv("SHRAMBA_VOYAGE_KEY", "")

	_, err := run(t, "history", "missing", "--db", filepath.Join(dir, "test.sqlite3"))
	assert.Error(t, err)
}

func clearProviderKeys(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ANTHROPIC_API_KEY", "SHRAMBA_ANTHROPIC_KEY", "VOYAGE_API_KEY", "SHRAMBA_VOYAGE_KEY", "SHRAMBA_VOYAGE_URL"} {
		t.Setenv(key, "")
	}
}

func TestReindexCommandNeedsVoyageKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHRAMBA_IMAGE_DIR", filepath.Join(dir, "images"))
	clearProviderKeys(t)

	_, err := run(t, "reindex", "--db", filepath.Join(dir, "test.sqlite3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Voyage API key")
}

func TestReindexCommandEmbedsItems(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.sqlite3")
	t.Setenv("SHRAMBA_IMAGE_DIR", filepath.Join(dir, "images"))
	clearProviderKeys(t)

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"embedding":[0.5,1.5],"index":0}]}`))
	}))
	defer server.Close()
	t.Setenv("SHRAMBA_VOYAGE_KEY", "test-key")
	t.Setenv("SHRAMBA_VOYAGE_URL", server.URL)

	ctx := context.Background()
	database, err := openDB(ctx, dbPath)
	require.NoError(t, err)
	now := time.Now().UTC()
	loc := &model.Location{ID: store.NewID(), Name: "Garage", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertLocation(ctx, database, loc))
	bin := &model.Bin{ID: store.NewID(), LocationID: loc.ID, Name: "Shelf", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertBin(ctx, database, bin))
	var ids []string
	for _, name := range []string{"Drill", "Sander"} {
		item := &model.Item{
			ID: store.NewID(), BinID: bin.ID, Name: name,
			Quantity: model.Quantity{Type: model.QuantityBoolean, Value: 1},
			Source:   model.SourceManual, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, store.InsertItem(ctx, database, item))
		ids = append(ids, item.ID)
	}
	require.NoError(t, database.Close())

	out, err := run(t, "reindex", "--db", dbPath, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "reindexed 2 items, 0 failed")
	assert.Equal(t, int32(2), requests.Load())

	// Nothing changed, so a second pass makes no embedding calls.
	_, err = run(t, "reindex", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())

	database, err = db.Open(dbPath)
	require.NoError(t, err)
	defer database.Close()
	for _, id := range ids {
		vec, err := search.Embedding(ctx, database, id)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 1.5}, vec)
	}
	_, ok, err := store.Setting(ctx, database, store.SettingLastReindex)
	require.NoError(t, err)
	assert.True(t, ok)
}
