/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/tokengate/pkg/config"
	"github.com/telekom/tokengate/pkg/version"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockAPIController struct {
	basePath       string
	handlers       []gin.HandlerFunc
	registerCalled bool
	registerErr    error
}

func (m *mockAPIController) BasePath() string { return m.basePath }

func (m *mockAPIController) Handlers() []gin.HandlerFunc { return m.handlers }

func (m *mockAPIController) Register(rg *gin.RouterGroup) error {
	m.registerCalled = true
	rg.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return m.registerErr
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	for _, debug := range []bool{true, false} {
		server := NewServer(zaptest.NewLogger(t), config.Config{Server: config.Server{ListenAddress: ":0"}}, debug)
		require.NotNil(t, server)
		require.NotNil(t, server.gin)
		assert.Empty(t, server.checks)
	}
	gin.SetMode(gin.TestMode)
}

func TestServer_Healthz(t *testing.T) {
	server := NewServer(zaptest.NewLogger(t), config.Config{}, true)

	w := serve(t, server.Handler(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	healthy := NewServer(zaptest.NewLogger(t), config.Config{}, true,
		WithHealthCheck("redis", func(context.Context) error { return nil }))
	w := serve(t, healthy.Handler(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	broken := NewServer(zaptest.NewLogger(t), config.Config{}, true,
		WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }))
	w = serve(t, broken.Handler(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestServer_Version(t *testing.T) {
	server := NewServer(zaptest.NewLogger(t), config.Config{}, true)

	w := serve(t, server.Handler(), httptest.NewRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.Equal(t, version.Platform, info.Platform)
}

func TestServer_RegisterAll(t *testing.T) {
	server := NewServer(zaptest.NewLogger(t), config.Config{}, true)

	var middlewareCalled bool
	ctrl := &mockAPIController{
		basePath: "test",
		handlers: []gin.HandlerFunc{func(c *gin.Context) {
			middlewareCalled = true
			c.Next()
		}},
	}
	require.NoError(t, server.RegisterAll([]APIController{ctrl}))
	assert.True(t, ctrl.registerCalled)

	w := serve(t, server.Handler(), httptest.NewRequest(http.MethodGet, "/api/test/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.True(t, middlewareCalled)
}

func TestServer_RegisterAllError(t *testing.T) {
	server := NewServer(zaptest.NewLogger(t), config.Config{}, true)
	err := server.RegisterAll([]APIController{&mockAPIController{basePath: "x", registerErr: errors.New("boom")}})
	assert.EqualError(t, err, "boom")
}

func TestServer_CORS(t *testing.T) {
	cfg := config.Config{Server: config.Server{AllowedOrigins: []string{"https://shop.example.com"}}}
	server := NewServer(zaptest.NewLogger(t), cfg, false)
	gin.SetMode(gin.TestMode)

	req := httptest.NewRequest(http.MethodOptions, "/api/version", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := serve(t, server.Handler(), req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/version", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w = serve(t, server.Handler(), req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_ListenShutsDownOnCancel(t *testing.T) {
	server := NewServer(zaptest.NewLogger(t), config.Config{Server: config.Server{ListenAddress: "127.0.0.1:0"}}, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Listen(ctx) }()
	cancel()

	require.NoError(t, <-done)
}
