package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rankyak-pipeline/internal/config"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
	queuememory "github.com/JakeFAU/rankyak-pipeline/internal/queue/memory"
	"github.com/JakeFAU/rankyak-pipeline/internal/scheduler"
	localstorage "github.com/JakeFAU/rankyak-pipeline/internal/storage/local"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Logging.Development = false
	cfg.Queue.PollIntervalMs = 10
	cfg.Server.ShutdownTimeoutSeconds = 2
	return cfg
}

func TestBuildInMemoryApp(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Schedules = map[string]string{scheduler.PublishSweep: "*/10 * * * *"}
	cfg.Storage.LocalDir = t.TempDir()

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.Equal(t, 11, app.dispatch.Size())
	_, isLocal := app.blobs.(*localstorage.BlobStore)
	require.True(t, isLocal)

	var publishPattern string
	for _, s := range app.schedules() {
		if s.Name == scheduler.PublishSweep {
			publishPattern = s.Pattern
		}
	}
	require.Equal(t, "*/10 * * * *", publishPattern)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/", strings.NewReader(`{"name":"Acme","websiteUrl":"https://acme.test"}`))
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRunInstallsSchedulesAndStops(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	q, ok := app.queue.(*queuememory.Queue)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return len(q.Jobs(queue.Sweeps)) == len(scheduler.DefaultSchedules())
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
