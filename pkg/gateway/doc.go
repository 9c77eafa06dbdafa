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

// Package gateway wires the token authenticator, the admission controller and
// the audit trail into HTTP controllers: session endpoints (login, logout,
// refresh, me), the rate limited verification code and order endpoints, and
// the admin endpoints for bucket resets and key rotation.
package gateway
