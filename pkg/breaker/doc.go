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

// Package breaker provides a small circuit breaker used to guard calls to
// shared backends such as the Redis rate limit store and the Kafka audit sink.
//
// A Breaker starts closed. After FailureThreshold consecutive failures it
// opens and rejects calls with ErrOpen until OpenTimeout has elapsed on the
// injected clock. It then lets HalfOpenMaxCalls probe calls through and closes
// again after SuccessThreshold consecutive successes.
package breaker
