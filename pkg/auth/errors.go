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

package auth

import (
	"errors"
	"fmt"
)

// Reason classifies a verification failure.
type Reason string

const (
	ReasonMalformed        Reason = "Malformed"
	ReasonInvalidSignature Reason = "InvalidSignature"
	ReasonExpired          Reason = "Expired"
	ReasonRevoked          Reason = "Revoked"
)

// Sentinels matched by *VerificationError through errors.Is.
var (
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrRevoked          = errors.New("token revoked")
)

// Issuance and key management errors. These indicate misconfiguration.
var (
	ErrInvalidSubject  = errors.New("subject must not be empty")
	ErrInvalidTTL      = errors.New("ttl must be at least one second")
	ErrNoSigningKey    = errors.New("no signing key configured")
	ErrSecretTooShort  = fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
	ErrDuplicateKeyID  = errors.New("key id is already in use")
	ErrRevocationStore = errors.New("revocation store unavailable")
)

// VerificationError is returned by Verify for every rejected token.
type VerificationError struct {
	Reason Reason
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return "token verification failed: " + string(e.Reason)
	}
	return fmt.Sprintf("token verification failed: %s: %v", e.Reason, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Is matches the sentinel error corresponding to Reason.
func (e *VerificationError) Is(target error) bool {
	switch target {
	case ErrMalformed:
		return e.Reason == ReasonMalformed
	case ErrInvalidSignature:
		return e.Reason == ReasonInvalidSignature
	case ErrExpired:
		return e.Reason == ReasonExpired
	case ErrRevoked:
		return e.Reason == ReasonRevoked
	}
	return false
}

// ReasonOf returns the verification reason of err, or "" if err is not a verification failure.
func ReasonOf(err error) Reason {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

func failure(reason Reason, err error) error {
	return &VerificationError{Reason: reason, Err: err}
}
