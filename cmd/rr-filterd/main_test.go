package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-filter/internal/filter/config"
	"github.com/haukened/rr-filter/internal/filter/services/engine"
)

const testHostsFile = `# test blocklist
0.0.0.0 ads.example.com
0.0.0.0 tracker.example.net
127.0.0.1 metrics.example.org
`

// freePort asks the kernel for an available TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func setTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for key, value := range vars {
		t.Setenv(key, value)
	}
}

// TestApplication_Integration tests the full daemon lifecycle: bootstrap
// fetch, proxy blocking, control API, and graceful shutdown.
func TestApplication_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Serve a blocklist for the bootstrap fetch
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, testHostsFile)
	}))
	defer source.Close()

	tempDir := t.TempDir()
	proxyPort := freePort(t)
	controlPort := freePort(t)

	setTestEnv(t, map[string]string{
		"RRF_ENV":          "dev",
		"RRF_LOG_LEVEL":    "debug",
		"RRF_PROXY_PORT":   fmt.Sprintf("%d", proxyPort),
		"RRF_CONTROL_PORT": fmt.Sprintf("%d", controlPort),
		"RRF_DB_PATH":      filepath.Join(tempDir, "state.db"),
		"RRF_SOURCES":      source.URL,
		"RRF_MIN_DOMAINS":  "1",
	})

	// Build application
	cfg, err := config.Load()
	require.NoError(t, err)

	app, err := buildApplication(cfg)
	require.NoError(t, err)
	assert.NotNil(t, app)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appErr := make(chan error, 1)
	go func() {
		appErr <- app.Run(ctx)
	}()

	controlBase := fmt.Sprintf("http://127.0.0.1:%d", controlPort)

	// Wait for the bootstrap fetch to populate the rule set
	var stats engine.Stats
	require.Eventually(t, func() bool {
		resp, err := http.Get(controlBase + "/control/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return false
		}
		return stats.DomainCount > 0
	}, 5*time.Second, 25*time.Millisecond, "daemon never loaded rules")

	assert.Equal(t, 3, stats.DomainCount)
	assert.True(t, stats.Enabled)

	// A request for a listed domain through the proxy is blocked
	proxyURL, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", proxyPort))
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	resp, err := client.Get("http://ads.example.com/banner.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Toggle off via the control API
	resp, err = http.Post(controlBase+"/control/toggle", "application/json", nil)
	require.NoError(t, err)
	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.False(t, body["enabled"])

	// Shutdown
	cancel()
	select {
	case err := <-appErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}

	// State survived shutdown: the blocked counter was flushed to disk
	// and the toggle state was persisted
	app2, err := buildApplication(cfg)
	require.NoError(t, err)
	defer app2.store.Close()
	assert.GreaterOrEqual(t, app2.engine.Stats().BlockedCount, uint64(1))
	assert.False(t, app2.engine.Enabled(), "toggle state should persist")
}

func TestBuildApplication_BadDBPath(t *testing.T) {
	proxyPort := freePort(t)
	controlPort := freePort(t)

	setTestEnv(t, map[string]string{
		"RRF_ENV":          "dev",
		"RRF_LOG_LEVEL":    "error",
		"RRF_PROXY_PORT":   fmt.Sprintf("%d", proxyPort),
		"RRF_CONTROL_PORT": fmt.Sprintf("%d", controlPort),
		"RRF_DB_PATH":      filepath.Join(string(os.PathSeparator), "nonexistent", "nested", "state.db"),
		"RRF_SOURCES":      "https://example.com/hosts",
	})

	cfg, err := config.Load()
	require.NoError(t, err)

	_, err = buildApplication(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "state store")
}
