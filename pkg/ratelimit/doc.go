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

// Package ratelimit implements admission control with per-key token buckets.
//
// A Controller keeps one bucket per key in memory, refills it continuously at
// Config.Rate tokens per second up to Config.Capacity and evicts buckets that
// stayed idle longer than Config.MaxAge. RedisLimiter runs the same bucket
// arithmetic atomically inside Redis so several replicas share one quota, and
// FailoverLimiter answers from a local Controller while Redis is unavailable.
//
// A denied request is reported through Decision, never as an error. Errors are
// reserved for calls that can never succeed (empty key, non-positive cost, cost
// above capacity) and for backend failures.
package ratelimit
