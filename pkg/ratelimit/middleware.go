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

package ratelimit

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultUserIdentityKey is the gin context key the auth middleware stores the subject under.
const DefaultUserIdentityKey = "subject"

const (
	HeaderRetryAfter = "Retry-After"
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
)

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	// Authenticated serves requests that carry a subject
	Authenticated Limiter
	// Anonymous serves requests without a subject, keyed by client IP.
	// When nil, Authenticated is used for both.
	Anonymous Limiter
	// UserIdentityKey is the gin context key holding the subject (default "subject")
	UserIdentityKey string
	// Cost is the number of tokens per request (default 1)
	Cost int
	// KeyFunc overrides key resolution, e.g. to key by a request field
	KeyFunc func(c *gin.Context) (key string, authenticated bool)
	// OnDeny is called for every denied request
	OnDeny func(c *gin.Context, key string, d Decision)
	// OnError is called when the limiter returns an error
	OnError func(c *gin.Context, err error)
}

// UnknownClientKey keys anonymous requests whose client IP cannot be determined.
// They share one bucket.
const UnknownClientKey = "unknown"

// SubjectOrIP returns a key func that uses the subject stored under userKey and
// falls back to the client IP, or UnknownClientKey when there is none.
func SubjectOrIP(userKey string) func(c *gin.Context) (string, bool) {
	return func(c *gin.Context) (string, bool) {
		if v, ok := c.Get(userKey); ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
		if ip := c.ClientIP(); ip != "" {
			return ip, false
		}
		return UnknownClientKey, false
	}
}

// Middleware returns a Gin middleware that applies admission control.
// It must be installed after the authentication middleware so the subject is known.
func Middleware(opts MiddlewareOptions) gin.HandlerFunc {
	if opts.UserIdentityKey == "" {
		opts.UserIdentityKey = DefaultUserIdentityKey
	}
	if opts.Cost == 0 {
		opts.Cost = 1
	}
	if opts.Anonymous == nil {
		opts.Anonymous = opts.Authenticated
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = SubjectOrIP(opts.UserIdentityKey)
	}

	return func(c *gin.Context) {
		key, authenticated := opts.KeyFunc(c)
		limiter := opts.Anonymous
		if authenticated {
			limiter = opts.Authenticated
		}

		d, err := limiter.TryAcquire(c.Request.Context(), key, opts.Cost)
		if err != nil {
			if opts.OnError != nil {
				opts.OnError(c, err)
			}
			status := http.StatusInternalServerError
			if !isConfigError(err) {
				status = http.StatusServiceUnavailable
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error": "rate limit check failed",
				"code":  "RATE_LIMIT_ERROR",
			})
			return
		}

		if !d.Allowed {
			if opts.OnDeny != nil {
				opts.OnDeny(c, key, d)
			}
			Deny(c, d, authenticated)
			return
		}

		SetHeaders(c, d)
		c.Next()
	}
}

// SetHeaders writes the quota headers for an allowed request.
func SetHeaders(c *gin.Context, d Decision) {
	c.Header(HeaderLimit, strconv.Itoa(d.Limit))
	c.Header(HeaderRemaining, strconv.Itoa(d.Remaining))
}

// Deny aborts the request with 429 and a Retry-After header rounded up to whole seconds.
func Deny(c *gin.Context, d Decision, authenticated bool) {
	secs := RetryAfterSeconds(d.RetryAfter)
	msg := "Rate limit exceeded, please try again later"
	if !authenticated {
		msg = "Rate limit exceeded. Please authenticate for higher limits."
	}
	c.Header(HeaderRetryAfter, strconv.Itoa(secs))
	c.Header(HeaderLimit, strconv.Itoa(d.Limit))
	c.Header(HeaderRemaining, "0")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":             msg,
		"code":              "RATE_LIMITED",
		"retryAfterSeconds": secs,
		"authenticated":     authenticated,
	})
}

// RetryAfterSeconds rounds d up to whole seconds, with a minimum of one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func isConfigError(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrInvalidCost) ||
		errors.Is(err, ErrCostExceedsCapacity) ||
		errors.Is(err, ErrUnknownPolicy)
}
