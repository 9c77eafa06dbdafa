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

package system

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gin context keys shared by the request pipeline.
const (
	// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
	ReqLoggerKey = "reqLogger"
	// SubjectKey holds the authenticated subject as a string.
	SubjectKey = "subject"
	// TokenIDKey holds the id of the verified token.
	TokenIDKey = "tokenID"
	// RoleKey holds the "role" claim of the verified token, if any.
	RoleKey = "role"
)

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// EnrichReqLoggerWithAuth annotates the request-scoped logger with the identity
// fields the auth middleware stored in the Gin context (subject, token id, role).
func EnrichReqLoggerWithAuth(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if subject := c.GetString(SubjectKey); subject != "" {
		reqLogger = reqLogger.With("subject", subject)
	}
	if role := c.GetString(RoleKey); role != "" {
		reqLogger = reqLogger.With("role", role)
	}
	if jti := c.GetString(TokenIDKey); jti != "" {
		// token ids are only useful when correlating revocations
		reqLogger.Debugw("Request token", "tokenID", jti)
	}
	return reqLogger
}

// PolicyFields returns key/value pairs for logging an admission decision. The key
// is omitted when empty.
func PolicyFields(policy, key string) []interface{} {
	if key == "" {
		return []interface{}{"policy", policy}
	}
	return []interface{}{"policy", policy, "key", key}
}
