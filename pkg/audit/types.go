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

package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

const (
	EventLogin              EventType = "auth.login"
	EventLoginFailed        EventType = "auth.login_failed"
	EventLogout             EventType = "auth.logout"
	EventTokenIssued        EventType = "token.issued"
	EventTokenRefreshed     EventType = "token.refreshed"
	EventTokenRevoked       EventType = "token.revoked"
	EventVerificationFailed EventType = "token.verification_failed"
	EventKeyRotated         EventType = "key.rotated"
	EventAdmissionDenied    EventType = "ratelimit.denied"
	EventBucketReset        EventType = "ratelimit.reset"
	EventSystemStartup      EventType = "system.startup"
	EventSystemShutdown     EventType = "system.shutdown"
)

// Severity ranks events for alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Actor is who triggered the event.
type Actor struct {
	Subject  string `json:"subject,omitempty"`
	SourceIP string `json:"sourceIP,omitempty"`
}

// Target is what the event refers to, e.g. a token id or a rate limit bucket.
type Target struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
}

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     Actor          `json:"actor"`
	Target    Target         `json:"target"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewEvent returns an event with id, timestamp and severity filled in.
func NewEvent(t EventType, actor Actor, target Target, details map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  SeverityFor(t),
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Target:    target,
		Details:   details,
	}
}

// SeverityFor returns the default severity of an event type.
func SeverityFor(t EventType) Severity {
	switch t {
	case EventKeyRotated, EventTokenRevoked:
		return SeverityCritical
	case EventLoginFailed, EventVerificationFailed, EventAdmissionDenied, EventBucketReset:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
