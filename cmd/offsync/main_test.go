package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/ASIK-R/my-budget-buddy-sub000/internal/auth"
	"github.com/ASIK-R/my-budget-buddy-sub000/model"
	"github.com/ASIK-R/my-budget-buddy-sub000/offqueue"
	"github.com/ASIK-R/my-budget-buddy-sub000/offstore"
)

const testSecret = "test-secret"

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// seedStore writes a queue and a budgets collection into a fresh SQLite file
// and returns its path.
func seedStore(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offsync.db")
	store := offstore.New(offstore.SQLiteOpener(offstore.DefaultSQLiteConfig(path)), nil, nil)
	store.Init(ctx)
	require.False(t, store.FallbackOnly())

	ops := []offqueue.QueuedOperation{
		{
			ID:        "op-3",
			Type:      offqueue.AddBudget,
			Data:      json.RawMessage(`{"id":"b1","category":"food","limit":200}`),
			Timestamp: 1748768400000, // 2025-06-01T09:00:00Z
			Priority:  offqueue.PriorityLow,
		},
		{
			ID:        "op-2",
			Type:      offqueue.AddWallet,
			Data:      json.RawMessage(`{"id":"w1","name":"Cash","balance":50,"initial_balance":50}`),
			Timestamp: 1748772300000, // 2025-06-01T10:05:00Z
			Attempts:  2,
			Priority:  offqueue.PriorityNormal,
			LastError: "timeout",
		},
		{
			ID:        "op-1",
			Type:      offqueue.AddTransaction,
			Data:      json.RawMessage(`{"type":"expense","category":"food","amount":12.5,"description":"lunch","date":"2025-06-01T10:00:00Z"}`),
			Timestamp: 1748772000000, // 2025-06-01T10:00:00Z
			Priority:  offqueue.PriorityHigh,
		},
	}
	require.NoError(t, store.Save(ctx, offstore.OfflineQueue, ops))
	require.NoError(t, store.Save(ctx, offstore.Budgets, []model.Budget{
		{ID: "b1", Category: "food", Limit: 200},
		{ID: "b2", Category: "rent", Limit: 1250.5, Period: "monthly"},
	}))
	require.NoError(t, store.Close())
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func loadQueue(t *testing.T, path string) []offqueue.QueuedOperation {
	t.Helper()
	ctx := context.Background()
	store := offstore.New(offstore.SQLiteOpener(offstore.DefaultSQLiteConfig(path)), nil, nil)
	defer store.Close()
	ops, err := offstore.LoadList[offqueue.QueuedOperation](ctx, store, offstore.OfflineQueue)
	require.NoError(t, err)
	return ops
}

func TestQueueListGolden(t *testing.T) {
	path := seedStore(t)

	out, err := runCommand(t, "--data-path", path, "queue", "list")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "queue_list", []byte(out))
}

func TestQueueListJSON(t *testing.T) {
	path := seedStore(t)

	out, err := runCommand(t, "--data-path", path, "queue", "list", "--json")
	require.NoError(t, err)

	var ops []offqueue.QueuedOperation
	require.NoError(t, json.Unmarshal([]byte(out), &ops))
	require.Len(t, ops, 3)
	require.Equal(t, []string{"op-1", "op-2", "op-3"}, []string{ops[0].ID, ops[1].ID, ops[2].ID})
	require.Equal(t, "timeout", ops[1].LastError)
}

func TestQueueClear(t *testing.T) {
	path := seedStore(t)

	out, err := runCommand(t, "--data-path", path, "queue", "clear")
	require.NoError(t, err)
	require.Equal(t, "cleared 3 queued operation(s)\n", out)

	out, err = runCommand(t, "--data-path", path, "queue", "list")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "queue_list_empty", []byte(out))
}

func TestStoreDumpGolden(t *testing.T) {
	path := seedStore(t)

	out, err := runCommand(t, "--data-path", path, "store", "dump", "budgets")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "budgets_json", []byte(out))

	out, err = runCommand(t, "--data-path", path, "store", "dump", "budgets", "--format", "yaml")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "budgets_yaml", []byte(out))
}

func TestStoreDumpRejectsBadInput(t *testing.T) {
	path := seedStore(t)

	_, err := runCommand(t, "--data-path", path, "store", "dump", "nope")
	require.ErrorContains(t, err, `unknown collection "nope"`)

	_, err = runCommand(t, "--data-path", path, "store", "dump", "budgets", "--format", "xml")
	require.ErrorContains(t, err, "invalid format")
}

func TestStoreStatus(t *testing.T) {
	path := seedStore(t)

	out, err := runCommand(t, "--data-path", path, "store", "status")
	require.NoError(t, err)
	require.Contains(t, out, "backend: sqlite\n")
	require.Contains(t, out, "budgets: 2\n")
	require.Contains(t, out, "offline_queue: 3\n")
	require.Contains(t, out, "settings: 0\n")
}

type drainServer struct {
	mu       sync.Mutex
	status   int
	requests []string
}

func (s *drainServer) start(t *testing.T) *httptest.Server {
	handler := func(w http.ResponseWriter, r *http.Request) {
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &auth.Claims{}
		if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return []byte(testSecret), nil
		}); err != nil || claims.Subject != "user-1" || claims.DeviceID == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		status := s.status
		s.mu.Unlock()
		w.WriteHeader(status)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transactions", handler)
	mux.HandleFunc("POST /wallets", handler)
	mux.HandleFunc("POST /budgets", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func drainConfig(t *testing.T, url string) string {
	return writeConfig(t, `
remote:
  kind: http
  url: `+url+`
  jwt_secret: `+testSecret+`
  user_id: user-1
queue:
  max_retries: 3
`)
}

func TestQueueDrainAppliesInPriorityOrder(t *testing.T) {
	path := seedStore(t)
	svc := &drainServer{status: http.StatusCreated}
	srv := svc.start(t)

	out, err := runCommand(t, "--config-dir", drainConfig(t, srv.URL), "--data-path", path, "queue", "drain")
	require.NoError(t, err)
	require.Equal(t, "sync complete: 3 operations applied\n", out)
	require.Equal(t, []string{"POST /transactions", "POST /wallets", "POST /budgets"}, svc.requests)
	require.Empty(t, loadQueue(t, path))

	// the generated device id is kept for the next run
	ctx := context.Background()
	store := offstore.New(offstore.SQLiteOpener(offstore.DefaultSQLiteConfig(path)), nil, nil)
	defer store.Close()
	settings, err := offstore.LoadObject(ctx, store, offstore.Settings)
	require.NoError(t, err)
	require.NotEmpty(t, settings["device_id"])
}

func TestQueueDrainKeepsRetryableOperations(t *testing.T) {
	path := seedStore(t)
	svc := &drainServer{status: http.StatusServiceUnavailable}
	srv := svc.start(t)

	out, err := runCommand(t, "--config-dir", drainConfig(t, srv.URL), "--data-path", path, "queue", "drain")
	require.NoError(t, err)
	require.Equal(t, "2 operations pending retry, 1 operation failed permanently\n", out)

	ops := loadQueue(t, path)
	require.Len(t, ops, 2)
	for _, op := range ops {
		require.Equal(t, 1, op.Attempts, "op %s", op.ID)
		require.NotEmpty(t, op.LastError)
	}
}

func TestQueueDrainRequiresRemote(t *testing.T) {
	path := seedStore(t)

	_, err := runCommand(t, "--data-path", path, "queue", "drain")
	require.ErrorContains(t, err, "remote.url is required")
}

func TestLoadConfigLayers(t *testing.T) {
	dir := writeConfig(t, `
data_path: /tmp/app.db
remote:
  kind: postgres
  url: postgres://localhost/app
queue:
  base_delay: 2s
`)
	t.Setenv("OFFSYNC_QUEUE_MAX_RETRIES", "5")

	v, err := loadConfig(dir)
	require.NoError(t, err)
	s, err := settingsFrom(v)
	require.NoError(t, err)

	require.Equal(t, "/tmp/app.db", s.DataPath)
	require.Equal(t, remoteKindPostgres, s.Remote.Kind)
	require.Equal(t, "public", s.Remote.Schema)
	require.Equal(t, 5, s.Queue.MaxRetries)
	require.Equal(t, 2*time.Second, s.Queue.BaseDelay)
	require.Equal(t, 30*time.Second, s.Queue.MaxDelay)
	require.Equal(t, 100*time.Millisecond, s.Store.BaseDelay)
	require.Equal(t, 5*time.Minute, s.CacheTTL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	v, err := loadConfig(t.TempDir())
	require.NoError(t, err)
	s, err := settingsFrom(v)
	require.NoError(t, err)
	require.Equal(t, "offsync.db", s.DataPath)
	require.Equal(t, remoteKindHTTP, s.Remote.Kind)
}

func TestSettingsRejectUnknownRemote(t *testing.T) {
	dir := writeConfig(t, "remote:\n  kind: grpc\n")
	v, err := loadConfig(dir)
	require.NoError(t, err)
	_, err = settingsFrom(v)
	require.ErrorContains(t, err, `unknown remote.kind "grpc"`)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	require.Equal(t, "offsync dev\n", out)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"queue", "list"}, {"queue", "clear"}, {"queue", "drain"},
		{"store", "dump"}, {"store", "status"}, {"watch"}, {"version"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		require.Equal(t, path[len(path)-1], sub.Name())
	}
}
