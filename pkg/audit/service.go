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
	"context"
	"errors"

	"go.uber.org/zap"
)

// Service fans events out to queued sinks. A nil *Service is valid and drops
// every event, so callers need no enabled checks.
type Service struct {
	logger *zap.Logger
	sinks  []*QueuedSink
}

// NewService wraps every sink in its own QueuedSink.
func NewService(sinks []Sink, cfg QueuedSinkConfig, logger *zap.Logger) *Service {
	s := &Service{logger: logger.Named("audit-service")}
	for _, sink := range sinks {
		s.sinks = append(s.sinks, NewQueuedSink(sink, cfg, logger))
	}
	s.logger.Info("audit service started", zap.Int("sinks", len(s.sinks)))
	return s
}

// Emit hands event to every sink without blocking.
func (s *Service) Emit(ctx context.Context, event *Event) {
	if s == nil || event == nil {
		return
	}
	for _, qs := range s.sinks {
		_ = qs.Write(ctx, event)
	}
}

// Health returns the state of every sink.
func (s *Service) Health() []QueuedSinkHealth {
	if s == nil {
		return nil
	}
	out := make([]QueuedSinkHealth, 0, len(s.sinks))
	for _, qs := range s.sinks {
		out = append(out, qs.Health())
	}
	return out
}

// Close drains and closes all sinks.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, qs := range s.sinks {
		if err := qs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
