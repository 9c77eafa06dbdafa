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

// Package auth issues and verifies signed, time-bound bearer tokens.
//
// Tokens are compact JWTs signed with HS512. The signing key is identified by
// the kid header and held in a KeyRing, which keeps the previous key valid for
// a grace period after rotation. Verification maps every failure onto one of
// four reasons (Malformed, InvalidSignature, Expired, Revoked) carried by a
// *VerificationError, so callers can use errors.Is with the sentinel errors.
//
// Revoked token ids are kept in a RevocationStore until the token would have
// expired anyway: in process memory, in Redis, or in both.
package auth
