package amqp

import (
	"context"
	"sync"
	"time"

	"ledgerlens/internal/events"
	"ledgerlens/internal/log"
)

// EventPublisher is the subset of Client the sink needs.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e events.Event) error
}

// Sink adapts a Client to events.Publisher. Events are queued and published
// from a single goroutine so that a slow broker never delays a request.
type Sink struct {
	client EventPublisher
	logger *log.Logger
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
	queue  chan events.Event
}

func NewSink(client EventPublisher, logger *log.Logger, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &Sink{
		client: client,
		logger: logger.WithComponent(log.ComponentAMQP),
		queue:  make(chan events.Event, buffer),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Sink) loop() {
	defer close(s.done)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*publishTimeout)
		if err := s.client.PublishEvent(ctx, e); err != nil {
			s.logger.Warn("Failed to publish event",
				log.FieldEventType, e.Type,
				log.FieldOperation, log.OpPublish,
				log.FieldError, err.Error())
		}
		cancel()
	}
}

// Publish enqueues e; when the buffer is full or the sink is closed the
// event is dropped and logged.
func (s *Sink) Publish(ctx context.Context, e events.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.DebugContext(ctx, "Event dropped after shutdown", log.FieldEventType, e.Type)
		return
	}
	select {
	case s.queue <- e:
	default:
		s.logger.WarnContext(ctx, "Event queue full, dropping event",
			log.FieldEventType, e.Type,
			log.FieldOperation, log.OpPublish)
	}
}

// Close drains queued events, waiting at most timeout.
func (s *Sink) Close(timeout time.Duration) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
	case <-time.After(timeout):
		s.logger.Warn("Timed out draining event queue", log.FieldOperation, log.OpShutdown)
	}
}
