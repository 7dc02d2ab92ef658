package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/config"
	memorypublisher "github.com/JakeFAU/candidate-discovery/internal/publisher/memory"
	memoryStorage "github.com/JakeFAU/candidate-discovery/internal/storage/memory"
)

func TestBuildWithInMemoryBackends(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"

	app, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	require.Nil(t, app.pgStore)
	require.Nil(t, app.redis)
	require.Equal(t, cfg.Discovery.Concurrency, app.dispatch.Size())

	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/quota", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"limit":100`)
}

func TestSetupStorageSelectsBackend(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	app := &App{cfg: &cfg, logger: testLogger()}

	blobs, err := setupStorage(context.Background(), app)
	require.NoError(t, err)
	require.IsType(t, &memoryStorage.BlobStore{}, blobs)

	cfg.Storage.Backend = "local"
	cfg.Storage.BaseDir = t.TempDir()
	blobs, err = setupStorage(context.Background(), app)
	require.NoError(t, err)
	uri, err := blobs.PutObject(context.Background(), "pages/t/0001.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	require.Contains(t, uri, "file://")
}

func TestSetupPublisherFallsBackToMemory(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	app := &App{cfg: &cfg, logger: testLogger()}

	pub, err := setupPublisher(context.Background(), app)
	require.NoError(t, err)
	require.IsType(t, &memorypublisher.Publisher{}, pub)
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
