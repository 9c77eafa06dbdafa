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

package apiresponses

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRespondNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondNotFound(c, "policy", "search")

	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp APIError
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "policy not found: search", resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Code)
}

func TestRespondUnauthorizedWithMessage(t *testing.T) {
	for _, tc := range []struct{ message, want string }{
		{"invalid username or password", "invalid username or password"},
		{"", "user not authenticated"},
	} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		RespondUnauthorizedWithMessage(c, tc.message)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		var resp APIError
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, tc.want, resp.Error)
		assert.Equal(t, "UNAUTHORIZED", resp.Code)
	}
}

func TestRespondUnauthorizedWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondUnauthorizedWithDetails(c, "", "Expired")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.True(t, c.IsAborted())

	var resp APIError
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "user not authenticated", resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Code)
	assert.Equal(t, "Expired", resp.Details)
}

func TestRespondForbidden(t *testing.T) {
	tests := []struct {
		name     string
		reason   string
		expected string
	}{
		{
			name:     "with custom reason",
			reason:   "requires role ADMIN",
			expected: "requires role ADMIN",
		},
		{
			name:     "with empty reason",
			reason:   "",
			expected: "access denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			RespondForbidden(c, tt.reason)

			assert.Equal(t, http.StatusForbidden, w.Code)

			var resp APIError
			err := json.Unmarshal(w.Body.Bytes(), &resp)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resp.Error)
			assert.Equal(t, "FORBIDDEN", resp.Code)
		})
	}
}

func TestRespondBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondBadRequest(c, "invalid ttl")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp APIError
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "invalid ttl", resp.Error)
	assert.Equal(t, "BAD_REQUEST", resp.Code)
}

func TestRespondBadRequestWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondBadRequestWithDetails(c, "validation failed", "claim 'role' must be a string")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp APIError
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "validation failed", resp.Error)
	assert.Equal(t, "BAD_REQUEST", resp.Code)
	assert.Equal(t, "claim 'role' must be a string", resp.Details)
}

func TestRespondInternalError(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	log := zap.NewNop().Sugar()
	testErr := errors.New("no signing key")

	RespondInternalError(c, "issue token", testErr, log)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp APIError
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "failed to issue token", resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
}

func TestRespondInternalErrorNilLogger(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	testErr := errors.New("some error")

	// Should not panic with nil logger
	RespondInternalError(c, "do something", testErr, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRespondServiceUnavailable(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondServiceUnavailable(c, "revocation store")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp APIError
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "service unavailable: revocation store", resp.Error)
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Code)
}

func TestRespondOK(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	data := map[string]string{"status": "healthy"}
	RespondOK(c, data)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp["status"])
}

func TestRespondAccepted(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondAccepted(c, gin.H{"status": "accepted"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, w.Body.String())
}

func TestRespondNoContent(t *testing.T) {
	// Create a router to properly handle the status
	router := gin.New()
	router.GET("/test", func(c *gin.Context) {
		RespondNoContent(c)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())
}
