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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/telekom/tokengate/pkg/apiresponses"
	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/system"
)

type authFixture struct {
	authn   *auth.Authenticator
	clock   *clocktesting.FakeClock
	handler *AuthHandler
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	key, err := auth.NewKey(bytes.Repeat([]byte{'k'}, auth.MinSecretLength))
	require.NoError(t, err)
	ring, err := auth.NewKeyRing(key, time.Hour)
	require.NoError(t, err)
	authn := auth.New(zaptest.NewLogger(t).Sugar(), ring, auth.Config{Issuer: "tokengate"},
		auth.WithClock(clk),
		auth.WithRevocationStore(auth.NewMemoryRevocationStore(512*1024, clk)))
	return authFixture{
		authn:   authn,
		clock:   clk,
		handler: NewAuth(zaptest.NewLogger(t).Sugar(), authn, nil),
	}
}

func (f authFixture) issue(t *testing.T, subject, role string) auth.Token {
	t.Helper()
	claims := auth.Claims{}
	if role != "" {
		claims[RoleClaim] = auth.StringClaim(role)
	}
	tok, err := f.authn.Issue(subject, claims, time.Hour)
	require.NoError(t, err)
	return tok
}

// echoRouter returns the identity seen by the handler.
func echoRouter(middlewares ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(middlewares, func(c *gin.Context) {
		id, ok := GetIdentity(c)
		c.JSON(http.StatusOK, gin.H{
			"authenticated": ok,
			"subject":       id.Subject,
			"ctxSubject":    c.GetString(system.SubjectKey),
			"role":          c.GetString(system.RoleKey),
			"authHeader":    c.GetHeader(AuthHeaderKey),
		})
	})
	r.Any("/echo", handlers...)
	return r
}

func request(method, token string) *http.Request {
	req := httptest.NewRequest(method, "/echo", nil)
	if token != "" {
		req.Header.Set(AuthHeaderKey, "Bearer "+token)
	}
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apiresponses.APIError {
	t.Helper()
	var resp apiresponses.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	f := newAuthFixture(t)
	tok := f.issue(t, "alice", "ADMIN")

	w := serve(t, echoRouter(f.handler.Middleware()), request(http.MethodGet, tok.Raw))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "alice", body["subject"])
	assert.Equal(t, "alice", body["ctxSubject"])
	assert.Equal(t, "ADMIN", body["role"])
	assert.Empty(t, body["authHeader"], "authorization header must be stripped")
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	f := newAuthFixture(t)
	valid := f.issue(t, "alice", "")
	expired, err := f.authn.Issue("bob", nil, time.Second)
	require.NoError(t, err)
	revoked := f.issue(t, "carol", "")
	id, err := f.authn.Verify(context.Background(), revoked.Raw)
	require.NoError(t, err)
	require.NoError(t, f.authn.Revoke(context.Background(), id))

	tampered := valid.Raw[:len(valid.Raw)-6] + "AAAAAA"
	if tampered == valid.Raw {
		tampered = valid.Raw[:len(valid.Raw)-6] + "BBBBBB"
	}

	f.clock.Step(2 * time.Second)

	tests := []struct {
		name    string
		header  string
		details string
	}{
		{"missing header", "", ""},
		{"basic auth", "Basic YWxpY2U6c2VjcmV0", ""},
		{"empty bearer", "Bearer ", ""},
		{"garbage", "Bearer not-a-token", string(auth.ReasonMalformed)},
		{"tampered signature", "Bearer " + tampered, string(auth.ReasonInvalidSignature)},
		{"expired", "Bearer " + expired.Raw, string(auth.ReasonExpired)},
		{"revoked", "Bearer " + revoked.Raw, string(auth.ReasonRevoked)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/echo", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := serve(t, echoRouter(f.handler.Middleware()), req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, "UNAUTHORIZED", resp.Code)
			assert.Equal(t, tt.details, resp.Details)
		})
	}
}

func TestAuthMiddleware_OptionsPassThrough(t *testing.T) {
	f := newAuthFixture(t)
	w := serve(t, echoRouter(f.handler.Middleware()), request(http.MethodOptions, ""))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_Optional(t *testing.T) {
	f := newAuthFixture(t)
	router := echoRouter(f.handler.OptionalMiddleware())

	w := serve(t, router, request(http.MethodGet, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"authenticated":false`)

	w = serve(t, router, request(http.MethodGet, f.issue(t, "alice", "").Raw))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subject":"alice"`)

	w = serve(t, router, request(http.MethodGet, "garbage"))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "a presented invalid token is rejected in optional mode")
}

type failingVerifier struct{}

func (failingVerifier) Verify(context.Context, string) (auth.Identity, error) {
	return auth.Identity{}, errors.Join(auth.ErrRevocationStore, errors.New("redis: connection refused"))
}

func TestAuthMiddleware_RevocationStoreDown(t *testing.T) {
	h := NewAuth(zaptest.NewLogger(t).Sugar(), failingVerifier{}, nil)
	w := serve(t, echoRouter(h.Middleware()), request(http.MethodGet, "anything"))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, w).Code)
}

func TestRequireRole(t *testing.T) {
	f := newAuthFixture(t)
	router := echoRouter(f.handler.Middleware(), RequireRole("ADMIN"))

	w := serve(t, router, request(http.MethodGet, f.issue(t, "root", "ADMIN").Raw))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, router, request(http.MethodGet, f.issue(t, "alice", "USER").Raw))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, w).Code)

	w = serve(t, echoRouter(RequireRole("ADMIN")), request(http.MethodGet, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuthenticated(t *testing.T) {
	f := newAuthFixture(t)
	router := echoRouter(f.handler.OptionalMiddleware(), RequireAuthenticated())

	assert.Equal(t, http.StatusUnauthorized, serve(t, router, request(http.MethodGet, "")).Code)
	assert.Equal(t, http.StatusOK, serve(t, router, request(http.MethodGet, f.issue(t, "alice", "").Raw)).Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := bearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}
