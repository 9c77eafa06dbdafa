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

// Package audit records security relevant events of tokengate (logins, token
// revocations, key rotations, rejected tokens, admission denials) and forwards
// them to configured sinks. Emission never blocks the request path: every
// sink has its own bounded queue and events are dropped when it is full.
package audit
