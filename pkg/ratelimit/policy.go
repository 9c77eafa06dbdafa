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
	"fmt"
	"sort"
	"sync"
	"time"
)

// Names of the built-in policies.
const (
	PolicyAPI              = "api"
	PolicyAPIAnonymous     = "api-anonymous"
	PolicyVerificationCode = "verification-code"
	PolicyOrder            = "order"
)

// ErrUnknownPolicy is returned by Registry.Get for a name that was never registered.
var ErrUnknownPolicy = errors.New("ratelimit: unknown policy")

// Policy describes a named quota: Capacity tokens refilled evenly over RefillPeriod.
type Policy struct {
	Name         string        `yaml:"name"`
	Capacity     int           `yaml:"capacity"`
	RefillPeriod time.Duration `yaml:"refillPeriod"`
	// MaxAge is the idle time after which a bucket is dropped; defaults to the refill period
	MaxAge time.Duration `yaml:"maxAge,omitempty"`
}

// Rate is the refill rate in tokens per second.
func (p Policy) Rate() float64 {
	if p.RefillPeriod <= 0 {
		return 0
	}
	return float64(p.Capacity) / p.RefillPeriod.Seconds()
}

// Config converts the policy into limiter parameters.
func (p Policy) Config() Config {
	return Config{
		Capacity: p.Capacity,
		Rate:     p.Rate(),
		MaxAge:   p.MaxAge,
	}
}

// Validate reports policies that no limiter could serve.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: policy name must not be empty", ErrInvalidConfig)
	}
	if p.RefillPeriod <= 0 {
		return fmt.Errorf("%w: policy %q: refill period must be positive", ErrInvalidConfig, p.Name)
	}
	if err := p.Config().validate(); err != nil {
		return fmt.Errorf("policy %q: %w", p.Name, err)
	}
	return nil
}

// DefaultPolicies returns the built-in quotas:
// authenticated API callers get 100 tokens at 50/s per subject, anonymous callers
// 20 tokens at 10/s per IP, verification codes 3 per 5 minutes per target and
// orders 10 per hour per subject.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: PolicyAPI, Capacity: 100, RefillPeriod: 2 * time.Second, MaxAge: 10 * time.Minute},
		{Name: PolicyAPIAnonymous, Capacity: 20, RefillPeriod: 2 * time.Second, MaxAge: 5 * time.Minute},
		{Name: PolicyVerificationCode, Capacity: 3, RefillPeriod: 5 * time.Minute},
		{Name: PolicyOrder, Capacity: 10, RefillPeriod: time.Hour},
	}
}

// Registry maps policy names to limiters.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
	policies map[string]Policy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		limiters: make(map[string]Limiter),
		policies: make(map[string]Policy),
	}
}

// Register adds or replaces the limiter serving p. A replaced limiter is stopped.
func (r *Registry) Register(p Policy, l Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.limiters[p.Name]; ok && old != l {
		old.Stop()
	}
	r.limiters[p.Name] = l
	r.policies[p.Name] = p
}

// Get returns the limiter registered under name.
func (r *Registry) Get(name string) (Limiter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return l, nil
}

// Policy returns the policy registered under name.
func (r *Registry) Policy(name string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// Names returns the registered policy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.limiters))
	for n := range r.limiters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stop stops every registered limiter.
func (r *Registry) Stop() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.limiters {
		l.Stop()
	}
}
