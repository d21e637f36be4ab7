// ABOUTME: Tests for gateway construction, health endpoints and lifecycle
// ABOUTME: Shared helpers build a gateway on an in-memory SQLite store

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fleetd/internal/config"
	"github.com/2389/fleetd/internal/device"
	"github.com/2389/fleetd/internal/store"
)

const testJWTSecret = "test-secret-that-is-at-least-32-bytes-long"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			GRPCAddr: "localhost:0",
			HTTPAddr: "localhost:0",
		},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Agents:   config.AgentsConfig{HeartbeatInterval: 30 * time.Second},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestGatewayWithConfig(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return gw
}

// newTestGateway builds a gateway with no JWT secret: open operator API.
func newTestGateway(t *testing.T) *Gateway {
	return newTestGatewayWithConfig(t, testConfig())
}

// newSecuredGateway builds a gateway that issues and requires tokens.
func newSecuredGateway(t *testing.T) *Gateway {
	cfg := testConfig()
	cfg.Auth.JWTSecret = testJWTSecret
	cfg.Auth.DeviceTokenTTL = time.Hour
	return newTestGatewayWithConfig(t, cfg)
}

// seedDevice registers a device directly in the store and optionally approves it.
func seedDevice(t *testing.T, gw *Gateway, mac string, approve bool) *store.Device {
	t.Helper()
	ctx := context.Background()
	dev, _, err := gw.Store().UpsertDeviceByMAC(ctx, device.Identity{
		MACAddress: mac,
		Hostname:   "host-" + strings.ReplaceAll(mac, ":", ""),
		Platform:   device.PlatformLinux,
		OSVersion:  "6.1",
	})
	require.NoError(t, err)
	if approve {
		require.NoError(t, gw.Store().ApproveDevice(ctx, dev.ID))
		dev, err = gw.Store().GetDevice(ctx, dev.ID)
		require.NoError(t, err)
	}
	return dev
}

func TestNew(t *testing.T) {
	gw := newTestGateway(t)

	assert.NotNil(t, gw.Store())
	assert.NotNil(t, gw.Tracker())
	assert.NotNil(t, gw.Dispatcher())
	assert.NotNil(t, gw.GRPCServer())
	assert.Nil(t, gw.issuer, "no issuer without a jwt secret")
}

func TestNew_WithJWTSecret(t *testing.T) {
	gw := newSecuredGateway(t)
	assert.NotNil(t, gw.issuer)
}

func TestNew_RejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "too-short"

	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT issuer")
}

func TestHealthEndpoints(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

func TestMetricsEndpoint(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fleet_sessions_connected")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	gw := newTestGatewayWithConfig(t, cfg)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(testConfig(), logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/fleet")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/fleet", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, "fleetd/tailscale"))
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	t.Setenv("TS_AUTHKEY", "")
	_, err = resolveTailscaleAuthKey("")
	assert.Error(t, err)
}
