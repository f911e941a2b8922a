package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/uavledger/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func testApp(t *testing.T, overrides map[string]any) (*app, config.ServerConfig, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	v := viper.New()
	config.SetDefaults(v)
	v.Set("retry.initial_interval", "1ms")
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	a, err := build(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(a.Close)

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	return a, cfg.Server, newRouter(a, cfg.Server, done, zap.NewNop())
}

func serve(h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestBuild_memoryBackends(t *testing.T) {
	a, _, _ := testApp(t, nil)
	if a.store.Bucket() != "uav-flight-logs" {
		t.Errorf("bucket: got %q", a.store.Bucket())
	}
	n, err := a.journal.Len(context.Background())
	if err != nil || n != 1 {
		t.Errorf("journal should hold only genesis, got %d (%v)", n, err)
	}
}

func TestBuild_badBackend(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("storage.backend", "s3")
	v.Set("storage.bucket", "")
	if _, err := config.FromViper(v); err == nil {
		t.Fatal("expected config error for s3 without bucket")
	}
}

func TestRouter_emitAndVerify(t *testing.T) {
	_, _, h := testApp(t, nil)

	var log strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&log, "%d,imu,0.%d\n", i, i)
	}
	w := serve(h, http.MethodPost, "/api/v1/flights/f-1/checkpoints?chunks=3", []byte(log.String()))
	if w.Code != http.StatusCreated {
		t.Fatalf("emit: %d %s", w.Code, w.Body.String())
	}

	w = serve(h, http.MethodGet, "/api/v1/flights/f-1/verify", nil)
	var res map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || res["status"] != "MATCH" {
		t.Fatalf("verify: %d %v", w.Code, res)
	}
}

func TestRouter_headers(t *testing.T) {
	_, _, h := testApp(t, nil)

	w := serve(h, http.MethodGet, "/api/v1/chain", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("chain: %d", w.Code)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing security headers")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("cors: got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRouter_bodyLimit(t *testing.T) {
	_, _, h := testApp(t, map[string]any{"server.max_body_bytes": 16})

	w := serve(h, http.MethodPost, "/api/v1/flights/f/checkpoints?chunks=1", bytes.Repeat([]byte("a\n"), 64))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}

func TestRouter_healthAndMetrics(t *testing.T) {
	a, _, h := testApp(t, nil)
	a.health.CheckAll(context.Background())

	w := serve(h, http.MethodGet, "/healthz", nil)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz: %d %v", w.Code, body)
	}
	if deps, _ := body["dependencies"].([]any); len(deps) != 2 {
		t.Errorf("expected storage and ledger probes, got %v", body["dependencies"])
	}

	w = serve(h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "uavl_") {
		t.Errorf("metrics: %d", w.Code)
	}
}

func TestContainsWildcard(t *testing.T) {
	if !containsWildcard([]string{"http://a", " * "}) {
		t.Error("expected wildcard")
	}
	if containsWildcard([]string{"http://a"}) {
		t.Error("unexpected wildcard")
	}
}
