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
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/tokengate/pkg/api"
	"github.com/telekom/tokengate/pkg/apiresponses"
	"github.com/telekom/tokengate/pkg/audit"
	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/ratelimit"
	"github.com/telekom/tokengate/pkg/system"
)

// RoleAdmin is required for every /api/admin endpoint.
const RoleAdmin = "ADMIN"

type PolicyInfo struct {
	Name          string        `json:"name"`
	Capacity      int           `json:"capacity"`
	RefillPeriod  time.Duration `json:"refillPeriodNanos"`
	RatePerSecond float64       `json:"ratePerSecond"`
	MaxAge        time.Duration `json:"maxAgeNanos,omitempty"`
}

type RotationResponse struct {
	KeyID              string    `json:"keyId"`
	PreviousKeyID      string    `json:"previousKeyId,omitempty"`
	PreviousValidUntil time.Time `json:"previousValidUntil,omitempty"`
}

// AdminController serves /api/admin.
type AdminController struct {
	limits     *ratelimit.Registry
	rotator    *auth.Rotator
	keys       *auth.KeyRing
	audit      *audit.Service
	log        *zap.SugaredLogger
	middleware []gin.HandlerFunc
}

func NewAdminController(log *zap.SugaredLogger, limits *ratelimit.Registry, rotator *auth.Rotator, keys *auth.KeyRing,
	auditSvc *audit.Service, middleware ...gin.HandlerFunc,
) *AdminController {
	return &AdminController{
		limits:     limits,
		rotator:    rotator,
		keys:       keys,
		audit:      auditSvc,
		log:        log,
		middleware: middleware,
	}
}

func (AdminController) BasePath() string {
	return "admin"
}

func (ac *AdminController) Handlers() []gin.HandlerFunc {
	return ac.middleware
}

func (ac *AdminController) Register(rg *gin.RouterGroup) error {
	rg.GET("/ratelimit/policies", ac.handleListPolicies)
	rg.DELETE("/ratelimit/:policy/:key", ac.handleResetBucket)
	rg.POST("/keys/rotate", ac.handleRotateKey)
	rg.GET("/audit/health", ac.handleAuditHealth)
	return nil
}

func (ac *AdminController) actor(c *gin.Context) audit.Actor {
	return audit.Actor{Subject: c.GetString(system.SubjectKey), SourceIP: c.ClientIP()}
}

func (ac *AdminController) handleListPolicies(c *gin.Context) {
	names := ac.limits.Names()
	out := make([]PolicyInfo, 0, len(names))
	for _, name := range names {
		p, ok := ac.limits.Policy(name)
		if !ok {
			continue
		}
		out = append(out, PolicyInfo{
			Name:          p.Name,
			Capacity:      p.Capacity,
			RefillPeriod:  p.RefillPeriod,
			RatePerSecond: p.Rate(),
			MaxAge:        p.MaxAge,
		})
	}
	apiresponses.RespondOK(c, out)
}

func (ac *AdminController) handleResetBucket(c *gin.Context) {
	policy, key := c.Param("policy"), c.Param("key")
	reqLog := system.GetReqLogger(c, ac.log)

	limiter, err := ac.limits.Get(policy)
	if errors.Is(err, ratelimit.ErrUnknownPolicy) {
		apiresponses.RespondNotFound(c, "policy", policy)
		return
	}
	if err := limiter.Reset(c.Request.Context(), key); err != nil {
		if errors.Is(err, ratelimit.ErrInvalidKey) {
			apiresponses.RespondBadRequest(c, "key must not be empty")
			return
		}
		reqLog.Errorw("Failed to reset bucket", append(system.PolicyFields(policy, key), "error", err)...)
		apiresponses.RespondServiceUnavailable(c, "rate limit backend")
		return
	}

	reqLog.Infow("Bucket reset", system.PolicyFields(policy, key)...)
	ac.audit.Emit(c.Request.Context(), audit.NewEvent(audit.EventBucketReset, ac.actor(c),
		audit.Target{Kind: "bucket", Name: policy + ":" + key}, nil))
	apiresponses.RespondNoContent(c)
}

func (ac *AdminController) handleRotateKey(c *gin.Context) {
	reqLog := system.GetReqLogger(c, ac.log)

	key, err := ac.rotator.RotateNow()
	if err != nil {
		apiresponses.RespondInternalError(c, "rotate signing key", err, reqLog)
		return
	}

	resp := RotationResponse{KeyID: key.ID}
	if prev, until, ok := ac.keys.PreviousID(); ok {
		resp.PreviousKeyID = prev
		resp.PreviousValidUntil = until
	}
	ac.audit.Emit(c.Request.Context(), audit.NewEvent(audit.EventKeyRotated, ac.actor(c),
		audit.Target{Kind: "signingKey", Name: key.ID},
		map[string]any{"previous": resp.PreviousKeyID, "trigger": "api"}))
	apiresponses.RespondOK(c, resp)
}

func (ac *AdminController) handleAuditHealth(c *gin.Context) {
	health := ac.audit.Health()
	if health == nil {
		health = []audit.QueuedSinkHealth{}
	}
	apiresponses.RespondOK(c, health)
}

var _ api.APIController = (*AdminController)(nil)
