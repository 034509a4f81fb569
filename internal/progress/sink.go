package progress

import (
	"sync"

	"go.uber.org/zap"
)

// Sink consumes progress events. Implementations must tolerate being called
// from the run goroutine and should return quickly; the run loop is
// sequential and a slow sink delays the next page fetch.
type Sink interface {
	Consume(evt Event)
}

// Emitter publishes individual events; Broadcaster satisfies this so the
// runner stays agnostic about who listens.
type Emitter interface {
	Emit(evt Event)
}

// Broadcaster fans events out to registered sinks synchronously. Sinks may
// be added at any time; invalid events are dropped with a debug log.
type Broadcaster struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *zap.Logger
}

// NewBroadcaster constructs a Broadcaster over the given sinks.
func NewBroadcaster(logger *zap.Logger, sinks ...Sink) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{sinks: append([]Sink(nil), sinks...), logger: logger}
}

// Subscribe registers an additional sink.
func (b *Broadcaster) Subscribe(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Emit validates and fans out one event.
func (b *Broadcaster) Emit(evt Event) {
	if b == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		b.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		s.Consume(evt)
	}
}
