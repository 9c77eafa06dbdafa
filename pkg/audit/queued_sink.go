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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/tokengate/pkg/breaker"
	"github.com/telekom/tokengate/pkg/metrics"
)

// QueuedSinkConfig configures a QueuedSink.
type QueuedSinkConfig struct {
	// QueueSize is the size of the async event queue. Default: 10000
	QueueSize int
	// WorkerCount is the number of async processing workers. Default: 2
	WorkerCount int
	// WriteTimeout bounds a single write to the underlying sink. Default: 5s
	WriteTimeout time.Duration
	// Breaker configures the circuit breaker in front of the underlying sink.
	Breaker breaker.Config
}

// DefaultQueuedSinkConfig returns defaults for a queued sink.
func DefaultQueuedSinkConfig() QueuedSinkConfig {
	return QueuedSinkConfig{
		QueueSize:    10000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
		Breaker:      breaker.DefaultConfig(),
	}
}

// QueuedSinkHealth is a snapshot of a queued sink.
type QueuedSinkHealth struct {
	Name            string `json:"name"`
	Healthy         bool   `json:"healthy"`
	QueueLength     int    `json:"queueLength"`
	QueueCapacity   int    `json:"queueCapacity"`
	DroppedEvents   int64  `json:"droppedEvents"`
	ProcessedEvents int64  `json:"processedEvents"`
	FailedEvents    int64  `json:"failedEvents"`
	CircuitState    string `json:"circuitState"`
}

// QueuedSink decouples a Sink from its callers with a bounded queue. Write never
// blocks: events are dropped when the queue is full, and while the circuit is
// open the workers discard events instead of waiting on a dead backend.
type QueuedSink struct {
	sink    Sink
	queue   chan *Event
	config  QueuedSinkConfig
	logger  *zap.Logger
	breaker *breaker.Breaker

	droppedEvents   atomic.Int64
	processedEvents atomic.Int64
	failedEvents    atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueuedSink starts the workers for sink.
func NewQueuedSink(sink Sink, cfg QueuedSinkConfig, logger *zap.Logger) *QueuedSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	qs := &QueuedSink{
		sink:    sink,
		queue:   make(chan *Event, cfg.QueueSize),
		config:  cfg,
		logger:  logger.Named("queued-sink").With(zap.String("sink", sink.Name())),
		breaker: breaker.New("audit-"+sink.Name(), cfg.Breaker, logger),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		qs.wg.Add(1)
		go qs.processQueue(i)
	}

	qs.logger.Info("queued sink started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.Duration("write_timeout", cfg.WriteTimeout))

	return qs
}

// Write enqueues an event (non-blocking).
func (qs *QueuedSink) Write(_ context.Context, event *Event) error {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	if qs.closed {
		qs.drop()
		return fmt.Errorf("queued sink %s is closed", qs.sink.Name())
	}

	select {
	case qs.queue <- event:
		metrics.AuditQueueLength.WithLabelValues(qs.sink.Name()).Set(float64(len(qs.queue)))
	default:
		qs.drop()
		qs.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
	return nil
}

func (qs *QueuedSink) drop() {
	qs.droppedEvents.Add(1)
	metrics.AuditEventsDropped.WithLabelValues(qs.sink.Name()).Inc()
}

func (qs *QueuedSink) processQueue(workerID int) {
	defer qs.wg.Done()

	for event := range qs.queue {
		metrics.AuditQueueLength.WithLabelValues(qs.sink.Name()).Set(float64(len(qs.queue)))

		ctx, cancel := context.WithTimeout(context.Background(), qs.config.WriteTimeout)
		err := qs.breaker.Execute(ctx, func(ctx context.Context) error {
			return qs.sink.Write(ctx, event)
		})
		cancel()

		switch {
		case err == nil:
			qs.processedEvents.Add(1)
			metrics.AuditEventsWritten.WithLabelValues(qs.sink.Name()).Inc()
		case errors.Is(err, breaker.ErrOpen):
			qs.drop()
		default:
			qs.failedEvents.Add(1)
			metrics.AuditEventsFailed.WithLabelValues(qs.sink.Name()).Inc()
			qs.logger.Error("failed to write audit event",
				zap.Int("worker", workerID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
}

// Health returns the current state of this sink.
func (qs *QueuedSink) Health() QueuedSinkHealth {
	queueLen := len(qs.queue)
	queueCap := cap(qs.queue)
	return QueuedSinkHealth{
		Name:            qs.sink.Name(),
		Healthy:         qs.breaker.Healthy() && float64(queueLen) < float64(queueCap)*0.8,
		QueueLength:     queueLen,
		QueueCapacity:   queueCap,
		DroppedEvents:   qs.droppedEvents.Load(),
		ProcessedEvents: qs.processedEvents.Load(),
		FailedEvents:    qs.failedEvents.Load(),
		CircuitState:    qs.breaker.State().String(),
	}
}

// Close drains the queue and closes the underlying sink.
func (qs *QueuedSink) Close() error {
	qs.mu.Lock()
	if qs.closed {
		qs.mu.Unlock()
		return nil
	}
	qs.closed = true
	close(qs.queue)
	qs.mu.Unlock()

	qs.wg.Wait()
	return qs.sink.Close()
}

// Name returns the underlying sink's name.
func (qs *QueuedSink) Name() string {
	return qs.sink.Name()
}
