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

package gateway

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/tokengate/pkg/api"
	"github.com/telekom/tokengate/pkg/apiresponses"
	"github.com/telekom/tokengate/pkg/audit"
	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/metrics"
	"github.com/telekom/tokengate/pkg/system"
)

type LoginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn int64     `json:"expiresIn"`
	User      UserInfo  `json:"user"`
}

// SessionController serves /api/auth.
type SessionController struct {
	authn      *auth.Authenticator
	users      UserStore
	audit      *audit.Service
	log        *zap.SugaredLogger
	middleware []gin.HandlerFunc
}

func NewSessionController(log *zap.SugaredLogger, authn *auth.Authenticator, users UserStore,
	auditSvc *audit.Service, middleware ...gin.HandlerFunc,
) *SessionController {
	return &SessionController{
		authn:      authn,
		users:      users,
		audit:      auditSvc,
		log:        log,
		middleware: middleware,
	}
}

func (SessionController) BasePath() string {
	return "auth"
}

func (sc *SessionController) Handlers() []gin.HandlerFunc {
	return sc.middleware
}

func (sc *SessionController) Register(rg *gin.RouterGroup) error {
	rg.POST("/login", sc.handleLogin)
	rg.POST("/logout", api.RequireAuthenticated(), sc.handleLogout)
	rg.POST("/refresh", api.RequireAuthenticated(), sc.handleRefresh)
	rg.GET("/me", api.RequireAuthenticated(), sc.handleMe)
	return nil
}

func (sc *SessionController) tokenResponse(tok auth.Token) TokenResponse {
	role, _ := tok.Claims.GetString(api.RoleClaim)
	return TokenResponse{
		Token:     tok.Raw,
		TokenType: "Bearer",
		ExpiresAt: tok.ExpiresAt,
		ExpiresIn: int64(tok.ExpiresAt.Sub(sc.authn.Now()).Seconds()),
		User:      UserInfo{Username: tok.Subject, Role: role},
	}
}

func (sc *SessionController) handleLogin(c *gin.Context) {
	reqLog := system.GetReqLogger(c, sc.log)

	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "username and password are required", err.Error())
		return
	}

	actor := audit.Actor{Subject: req.Username, SourceIP: c.ClientIP()}
	claims, err := sc.users.Authenticate(req.Username, req.Password)
	if err != nil {
		metrics.AuthLogins.WithLabelValues("failure").Inc()
		reqLog.Infow("Login failed", "username", req.Username)
		sc.audit.Emit(c.Request.Context(), audit.NewEvent(audit.EventLoginFailed, actor,
			audit.Target{Kind: "user", Name: req.Username}, nil))
		apiresponses.RespondUnauthorizedWithMessage(c, ErrInvalidCredentials.Error())
		return
	}

	tok, err := sc.authn.IssueDefault(req.Username, claims)
	if err != nil {
		metrics.AuthLogins.WithLabelValues("error").Inc()
		apiresponses.RespondInternalError(c, "issue token", err, reqLog)
		return
	}

	metrics.AuthLogins.WithLabelValues("success").Inc()
	reqLog.Infow("Login succeeded", "username", req.Username, "jti", tok.ID)
	sc.audit.Emit(c.Request.Context(), audit.NewEvent(audit.EventLogin, actor,
		audit.Target{Kind: "token", Name: tok.ID},
		map[string]any{"expiresAt": tok.ExpiresAt}))

	apiresponses.RespondOK(c, sc.tokenResponse(tok))
}

func (sc *SessionController) handleLogout(c *gin.Context) {
	id, _ := api.GetIdentity(c)
	reqLog := system.GetReqLogger(c, sc.log)

	if err := sc.authn.Revoke(c.Request.Context(), id); err != nil {
		reqLog.Errorw("Failed to revoke token on logout", "jti", id.TokenID, "error", err)
		apiresponses.RespondServiceUnavailable(c, "revocation store")
		return
	}

	sc.audit.Emit(c.Request.Context(), audit.NewEvent(audit.EventLogout,
		audit.Actor{Subject: id.Subject, SourceIP: c.ClientIP()},
		audit.Target{Kind: "token", Name: id.TokenID}, nil))
	apiresponses.RespondNoContent(c)
}

// handleRefresh issues a token for the same subject and claims, then revokes
// the presented one. The new token is only returned once the old one is revoked.
func (sc *SessionController) handleRefresh(c *gin.Context) {
	id, _ := api.GetIdentity(c)
	reqLog := system.GetReqLogger(c, sc.log)

	tok, err := sc.authn.IssueDefault(id.Subject, id.Claims)
	if err != nil {
		apiresponses.RespondInternalError(c, "issue token", err, reqLog)
		return
	}
	if err := sc.authn.Revoke(c.Request.Context(), id); err != nil {
		reqLog.Errorw("Failed to revoke refreshed token", "jti", id.TokenID, "error", err)
		apiresponses.RespondServiceUnavailable(c, "revocation store")
		return
	}

	sc.audit.Emit(c.Request.Context(), audit.NewEvent(audit.EventTokenRefreshed,
		audit.Actor{Subject: id.Subject, SourceIP: c.ClientIP()},
		audit.Target{Kind: "token", Name: tok.ID},
		map[string]any{"previous": id.TokenID}))
	apiresponses.RespondOK(c, sc.tokenResponse(tok))
}

func (sc *SessionController) handleMe(c *gin.Context) {
	id, _ := api.GetIdentity(c)
	apiresponses.RespondOK(c, id)
}
