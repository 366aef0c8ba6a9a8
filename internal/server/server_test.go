package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeyev/holst/internal/auth"
	"github.com/avdeyev/holst/internal/bus"
	"github.com/avdeyev/holst/internal/persist"
	"github.com/avdeyev/holst/internal/room"
	"github.com/avdeyev/holst/internal/server/handlers"
	"github.com/avdeyev/holst/internal/session"
	"github.com/avdeyev/holst/internal/storage/sqlite"
	"github.com/avdeyev/holst/pkg/api"
)

// setupTestServer собирает полный HTTP-стек на in-memory подсистемах
// и возвращает httptest-сервер поверх его handler-цепочки.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	b := bus.NewMemory()
	t.Cleanup(func() { _ = b.Close() })

	svc := persist.NewService(store, store, persist.DefaultConfig(), logger)
	registry := room.NewRegistry(svc, store, b, b, "proc-test", room.DefaultRegistryConfig(), logger)
	t.Cleanup(registry.Shutdown)

	authorizer := auth.NewStatic(map[string]auth.StaticToken{
		"auditor-token": {Identity: auth.Identity{UserID: "auditor"}},
	})
	manager := session.NewManager(registry, authorizer, session.DefaultConfig(), logger)

	health := handlers.NewHealthHandler(logger, "test", map[string]handlers.Pinger{
		"storage": store,
	})
	audit := handlers.NewAuditHandler(logger, store, svc)

	cfg := DefaultConfig()
	cfg.Version = "test"

	s := New(cfg, manager, authorizer, health, audit, logger)

	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_HealthRoute(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health := api.HealthResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestServer_AuditRequiresAuth(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/documents/doc-1/snapshots")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_AuditWithToken(t *testing.T) {
	ts := setupTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/documents/doc-1/snapshots", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer auditor-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	list := api.SnapshotListResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, "doc-1", list.DocumentID)
	assert.Empty(t, list.Snapshots)
}

func TestServer_ExportFreshDocument(t *testing.T) {
	ts := setupTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/documents/doc-1/export", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer auditor-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	export := api.ExportResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&export))
	assert.Equal(t, int64(0), export.Watermark)
	require.NotNil(t, export.Document)
	assert.Equal(t, "root", export.Document.ID)
}

func TestServer_UnknownRoute(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_WSRouteRejectsPlainHTTP(t *testing.T) {
	ts := setupTestServer(t)

	// Обычный GET без Upgrade-заголовков не проходит рукопожатие.
	resp, err := http.Get(ts.URL + "/ws/doc-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RunShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second

	s := &Server{
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: http.NewServeMux(),
		},
		logger: logger,
		cfg:    cfg,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
