package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/engine"
)

func newTestServer(t *testing.T) (*HTTPServer, *servedMachine, *prometheus.Registry) {
	t.Helper()
	sm := newServedMachine(t)
	reg := prometheus.NewRegistry()
	return NewHTTPServer(sm.requests, sm.m.Snapshot, reg, zap.NewNop().Sugar()), sm, reg
}

func postForm(t *testing.T, h http.Handler, cmd string) (*httptest.ResponseRecorder, CommandResult) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(url.Values{"cmd": {cmd}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var res CommandResult
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	}
	return rec, res
}

func TestHTTPServer_CommandStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		cmd      string
		status   int
		accepted bool
		queued   int
	}{
		{name: "accepted", cmd: "R-500 G-0.05 H-80", status: http.StatusOK, accepted: true, queued: 3},
		{name: "partially valid", cmd: "R-500 X-1 D-2", status: http.StatusOK, accepted: true, queued: 2},
		{name: "no valid commands", cmd: "X-1 Y-2", status: http.StatusBadRequest},
		{name: "queue full", cmd: strings.Repeat("R-100 ", 21), status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t)
			rec, res := postForm(t, srv, tt.cmd)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.accepted, res.Accepted)
			assert.Equal(t, tt.queued, res.Queued)
		})
	}
}

func TestHTTPServer_QueueFullLeavesQueueUnchanged(t *testing.T) {
	srv, sm, _ := newTestServer(t)

	rec, _ := postForm(t, srv, strings.Repeat("R-100 ", 18))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, res := postForm(t, srv, "R-1 R-2 R-3")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, res.Message, "required 3, available 2")
	assert.Equal(t, 18, sm.m.Snapshot().QueueLen)
}

func TestHTTPServer_RawBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader("cmd=P-100-5"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPServer_EmptyCommand(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, _ := postForm(t, srv, "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPServer_WrongMethod(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/command", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTPServer_Status(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no snapshot before the first tick or submit")

	postForm(t, srv, "R-500 D-1")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.QueueLen)
	assert.Equal(t, 20, snap.QueueCap)
}

func TestHTTPServer_Metrics(t *testing.T) {
	srv, sm, reg := newTestServer(t)
	metrics := NewMetrics(reg, func() float64 { return 0 })

	postForm(t, srv, "R-500 D-1 H-50")
	metrics.Observe(sm.m.Snapshot())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "brewctl_queue_length 3")
}
