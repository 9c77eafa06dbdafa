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
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/tokengate/pkg/apiresponses"
	"github.com/telekom/tokengate/pkg/audit"
	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/system"
)

const (
	AuthHeaderKey = "Authorization"
	// IdentityKey holds the verified auth.Identity in the gin context.
	IdentityKey = "identity"
	// RoleClaim is the claim checked by RequireRole.
	RoleClaim = "role"
)

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(ctx context.Context, raw string) (auth.Identity, error)
}

type AuthHandler struct {
	verifier Verifier
	audit    *audit.Service
	log      *zap.SugaredLogger
}

// NewAuth returns the bearer token middleware factory. auditSvc may be nil.
func NewAuth(log *zap.SugaredLogger, verifier Verifier, auditSvc *audit.Service) *AuthHandler {
	return &AuthHandler{
		verifier: verifier,
		audit:    auditSvc,
		log:      log,
	}
}

// Middleware rejects requests without a valid bearer token.
func (a *AuthHandler) Middleware() gin.HandlerFunc {
	return a.middleware(false)
}

// OptionalMiddleware lets anonymous requests through but still rejects a
// presented token that fails verification.
func (a *AuthHandler) OptionalMiddleware() gin.HandlerFunc {
	return a.middleware(true)
}

func (a *AuthHandler) middleware(optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		authHeader := c.GetHeader(AuthHeaderKey)
		// delete the header to avoid logging it by accident
		c.Request.Header.Del(AuthHeaderKey)

		bearer, ok := bearerToken(authHeader)
		if !ok {
			if optional && authHeader == "" {
				c.Next()
				return
			}
			apiresponses.RespondUnauthorizedWithDetails(c, "No Bearer token provided in Authorization header", "")
			return
		}

		reqLog := system.GetReqLogger(c, a.log)
		id, err := a.verifier.Verify(c.Request.Context(), bearer)
		if err != nil {
			if errors.Is(err, auth.ErrRevocationStore) {
				reqLog.Errorw("Token revocation check failed", "error", err)
				apiresponses.RespondServiceUnavailable(c, "revocation store")
				c.Abort()
				return
			}
			reason := auth.ReasonOf(err)
			reqLog.Debugw("Token verification failed", "reason", reason, "error", err)
			a.audit.Emit(c.Request.Context(), audit.NewEvent(audit.EventVerificationFailed,
				audit.Actor{SourceIP: c.ClientIP()},
				audit.Target{Kind: "token"},
				map[string]any{"reason": string(reason), "path": c.Request.URL.Path}))
			apiresponses.RespondUnauthorizedWithDetails(c, "invalid bearer token", string(reason))
			return
		}

		c.Set(IdentityKey, id)
		c.Set(system.SubjectKey, id.Subject)
		c.Set(system.TokenIDKey, id.TokenID)
		if role, ok := id.Claims.GetString(RoleClaim); ok {
			c.Set(system.RoleKey, role)
		}
		c.Set(system.ReqLoggerKey, system.EnrichReqLoggerWithAuth(c, reqLog))

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// GetIdentity returns the identity stored by the auth middleware.
func GetIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

// RequireAuthenticated rejects requests that the optional middleware let through
// without an identity.
func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetIdentity(c); !ok {
			apiresponses.RespondUnauthorizedWithDetails(c, "", "")
			return
		}
		c.Next()
	}
}

// RequireRole rejects callers whose role claim differs from role. It must run
// after the auth middleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			apiresponses.RespondUnauthorizedWithDetails(c, "", "")
			return
		}
		if !id.HasRole(role) {
			apiresponses.RespondForbidden(c, "requires role "+role)
			c.Abort()
			return
		}
		c.Next()
	}
}
