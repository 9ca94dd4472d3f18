// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, ready ReadinessChecker, regs ...Registration) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready, regs...)
	_, err := server.Start()
	require.NoError(t, err, "failed to start server")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	require.NotEmpty(t, server.Addr())
	return server
}

func get(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, func() bool { return true })

	code, body := get(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")
}

func TestServer_RegistrationsAreServed(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "taskhub_test_gauge", Help: "test"})
	gauge.Set(3)

	server := startServer(t, nil, func(reg prometheus.Registerer) { reg.MustRegister(gauge) })

	_, body := get(t, server, "/metrics")
	assert.Contains(t, body, "taskhub_test_gauge 3")
}

func TestServer_Liveness(t *testing.T) {
	server := startServer(t, func() bool { return false })

	code, body := get(t, server, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, code, "liveness ignores readiness")
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name     string
		ready    ReadinessChecker
		wantCode int
		wantBody string
	}{
		{"ready", func() bool { return true }, http.StatusOK, "ok"},
		{"not ready", func() bool { return false }, http.StatusServiceUnavailable, "not ready"},
		{"nil checker", nil, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.ready)

			code, body := get(t, server, "/healthz/readiness")
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(body))
		})
	}
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)

	_, err := server.Start()
	assert.Error(t, err)
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Stop(ctx))
	assert.Empty(t, server.Addr())
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	defer func() { _ = server.Stop(context.Background()) }()

	_ = server.listener.Close()

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for serve error")
	}
}

func TestServer_ErrorChannelClosesOnNormalShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error channel to close")
	}
}

func TestMetrics_Instrument(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := m.Instrument("socket_stats", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("socket_stats", "418")), 0.0001)
}

func TestMetrics_BuildInfoIsExported(t *testing.T) {
	server := startServer(t, nil)
	server.Metrics().BuildInfo.WithLabelValues("1.2.3").Set(1)

	_, body := get(t, server, "/metrics")
	assert.Contains(t, body, `taskhub_build_info{version="1.2.3"} 1`)
}
