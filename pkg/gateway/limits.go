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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/tokengate/pkg/apiresponses"
	"github.com/telekom/tokengate/pkg/audit"
	"github.com/telekom/tokengate/pkg/ratelimit"
	"github.com/telekom/tokengate/pkg/system"
)

// admission applies one policy to requests and records denials in the audit trail.
type admission struct {
	policy  string
	limiter ratelimit.Limiter
	audit   *audit.Service
	log     *zap.SugaredLogger
}

func newAdmission(reg *ratelimit.Registry, policy string, auditSvc *audit.Service, log *zap.SugaredLogger) (*admission, error) {
	l, err := reg.Get(policy)
	if err != nil {
		return nil, err
	}
	return &admission{policy: policy, limiter: l, audit: auditSvc, log: log}, nil
}

func (a *admission) denied(c *gin.Context, key string, d ratelimit.Decision) {
	system.GetReqLogger(c, a.log).Infow("Request rejected by rate limit",
		append(system.PolicyFields(a.policy, key), "retryAfter", d.RetryAfter)...)
	a.audit.Emit(c.Request.Context(), audit.NewEvent(audit.EventAdmissionDenied,
		audit.Actor{Subject: c.GetString(system.SubjectKey), SourceIP: c.ClientIP()},
		audit.Target{Kind: "bucket", Name: a.policy + ":" + key},
		map[string]any{
			"policy":            a.policy,
			"retryAfterSeconds": ratelimit.RetryAfterSeconds(d.RetryAfter),
		}))
}

func (a *admission) failed(c *gin.Context, err error) {
	system.GetReqLogger(c, a.log).Errorw("Rate limit check failed", "policy", a.policy, "error", err)
}

// middleware keys requests by subject, or by client IP through anon when there is none.
func (a *admission) middleware(anon *admission) gin.HandlerFunc {
	opts := ratelimit.MiddlewareOptions{
		Authenticated:   a.limiter,
		UserIdentityKey: system.SubjectKey,
		OnError:         a.failed,
	}
	if anon != nil {
		opts.Anonymous = anon.limiter
		opts.OnDeny = func(c *gin.Context, key string, d ratelimit.Decision) {
			if c.GetString(system.SubjectKey) == "" {
				anon.denied(c, key, d)
				return
			}
			a.denied(c, key, d)
		}
	} else {
		opts.OnDeny = a.denied
	}
	return ratelimit.Middleware(opts)
}

// check admits one request for key inside a handler. It writes the response and
// returns false when the request must stop. key must not be empty.
func (a *admission) check(c *gin.Context, key string, authenticated bool) bool {
	d, err := a.limiter.TryAcquire(c.Request.Context(), key, 1)
	if err != nil {
		a.failed(c, err)
		status := http.StatusServiceUnavailable
		if errors.Is(err, ratelimit.ErrInvalidCost) || errors.Is(err, ratelimit.ErrCostExceedsCapacity) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, apiresponses.APIError{
			Error: "rate limit check failed",
			Code:  "RATE_LIMIT_ERROR",
		})
		return false
	}
	if !d.Allowed {
		a.denied(c, key, d)
		ratelimit.Deny(c, d, authenticated)
		return false
	}
	ratelimit.SetHeaders(c, d)
	return true
}
