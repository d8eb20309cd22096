package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cozy-creator/genjobs/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/phayes/freeport"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()

	v := viper.New()
	config.SetDefaults(v)
	v.Set("environment", "test")
	for key, value := range overrides {
		v.Set(key, value)
	}
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestGetGinMode(t *testing.T) {
	assert.Equal(t, gin.DebugMode, getGinMode("dev"))
	assert.Equal(t, gin.TestMode, getGinMode("test"))
	assert.Equal(t, gin.ReleaseMode, getGinMode("prod"))
	assert.Equal(t, gin.ReleaseMode, getGinMode(""))
}

func TestCORSOrigins(t *testing.T) {
	preflight := func(s *Server, origin string) http.Header {
		req, err := http.NewRequest(http.MethodOptions, "/api/v1/generate", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		return serve(s.Handler(), req).Header()
	}

	open, err := NewServer(testConfig(t, nil), nil)
	require.NoError(t, err)
	headers := preflight(open, "http://studio.local")
	assert.Equal(t, "*", headers.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, headers.Get("Access-Control-Allow-Credentials"))

	named, err := NewServer(testConfig(t, map[string]any{"cors_origins": []string{"https://studio.example.com"}}), nil)
	require.NoError(t, err)
	headers = preflight(named, "https://studio.example.com")
	assert.Equal(t, "https://studio.example.com", headers.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", headers.Get("Access-Control-Allow-Credentials"))

	headers = preflight(named, "https://elsewhere.example.com")
	assert.Empty(t, headers.Get("Access-Control-Allow-Origin"))
}

func TestServesPublicDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>genjobs</h1>"), 0o644))

	core, logs := observer.New(zap.InfoLevel)
	s, err := NewServer(testConfig(t, map[string]any{"public_dir": dir}), zap.New(core))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, err)
	w := serve(s.Handler(), req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "genjobs")
	assert.Equal(t, 1, logs.FilterLoggerName("http").Len())

	bare, err := NewServer(testConfig(t, nil), nil)
	require.NoError(t, err)
	w = serve(bare.Handler(), req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartAndStop(t *testing.T) {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	s, err := NewServer(testConfig(t, map[string]any{"port": port, "shutdown_timeout": time.Second}), nil)
	require.NoError(t, err)
	s.ginEngine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()

	url := fmt.Sprintf("http://localhost:%d/healthz", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, http.ErrServerClosed), "%v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
