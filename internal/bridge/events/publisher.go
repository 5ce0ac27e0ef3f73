package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Publisher carries events to their consumers. Publish never blocks on a slow
// consumer; implementations drop rather than stall a session.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher discards all events.
type NoopPublisher struct{}

func NewNoopPublisher() *NoopPublisher { return &NoopPublisher{} }

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// LoggingPublisher writes events to the log at debug level.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(_ context.Context, event Event) error {
	args := []any{
		"subject", event.Subject(),
		"call_id", event.CallID(),
	}
	if se, ok := event.(*SessionEvent); ok {
		args = append(args, "prior_state", se.PriorState, "state", se.State, "trigger", se.Trigger)
		if se.Action != "" {
			args = append(args, "action", se.Action)
		}
	}
	p.logger.Debug("[Events] "+string(event.Type()), args...)
	return nil
}

func (p *LoggingPublisher) Close() error { return nil }

// ChannelPublisher buffers events on a channel for in-process consumers and tests.
type ChannelPublisher struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	dropped atomic.Int64
}

func NewChannelPublisher(bufferSize int) *ChannelPublisher {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelPublisher{ch: make(chan Event, bufferSize)}
}

func (p *ChannelPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}

	select {
	case p.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	p.dropped.Add(1)
	slog.Warn("[Events] Dropped event, buffer full", "type", event.Type(), "call_id", event.CallID())
	return nil
}

func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

// Events returns the channel to consume.
func (p *ChannelPublisher) Events() <-chan Event { return p.ch }

// Dropped returns how many events were lost to a full buffer.
func (p *ChannelPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// MultiPublisher fans out to several publishers.
type MultiPublisher struct {
	publishers []Publisher
}

func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (p *MultiPublisher) Publish(ctx context.Context, event Event) error {
	var lastErr error
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, event); err != nil {
			lastErr = err
			slog.Warn("[Events] Publisher failed", "error", err, "type", event.Type())
		}
	}
	return lastErr
}

func (p *MultiPublisher) Close() error {
	var lastErr error
	for _, pub := range p.publishers {
		if err := pub.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
