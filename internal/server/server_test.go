package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx-oracle/internal/consensus"
	"github.com/alanyoungcy/predictx-oracle/internal/crypto"
	"github.com/alanyoungcy/predictx-oracle/internal/platform/metricapi"
	"github.com/alanyoungcy/predictx-oracle/internal/server/handler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type denyLimiter struct{ err error }

func (d denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, d.err
}

func newNodeServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	signer, err := crypto.NewSignerFromSource(crypto.KeySource{
		RawPrivateKey: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
	})
	require.NoError(t, err)
	node := consensus.NewLocalNode(metricapi.NewClient("http://127.0.0.1:1", time.Second), signer)

	srv := NewServer(cfg, Handlers{
		Health: handler.NewHealthHandler(nil, discardLogger()),
		Node:   handler.NewNodeHandler("node-a", node, discardLogger()),
	}, nil, discardLogger())
	return srv.Handler()
}

func do(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_AuthAndPublicHealth(t *testing.T) {
	h := newNodeServer(t, Config{Port: 8000, APIKey: "secret"})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/node/info", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/node/info", "wrong").Code)

	rec := do(h, http.MethodGet, "/api/node/info", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"node_id":"node-a"`)

	req := httptest.NewRequest(http.MethodGet, "/api/node/info", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_OracleRoutesAbsentInNodeMode(t *testing.T) {
	h := newNodeServer(t, Config{Port: 8000})
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/status", "").Code)
}

func TestServer_RateLimitsNodeEndpoints(t *testing.T) {
	h := newNodeServer(t, Config{Port: 8000, Limiter: denyLimiter{}, RateLimit: 10, RateWindow: time.Minute})

	rec := do(h, http.MethodPost, "/api/node/sign", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// info is not limited
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/node/info", "").Code)
}

func TestServer_RateLimiterErrorFailsOpen(t *testing.T) {
	h := newNodeServer(t, Config{Port: 8000, Limiter: denyLimiter{err: errors.New("redis down")}, RateLimit: 10, RateWindow: time.Second})
	// The request reaches the handler, which rejects the empty payload.
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/node/sign", "").Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	h := newNodeServer(t, Config{Port: 8000, APIKey: "secret", CORSOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/node/info", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/node/info", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
