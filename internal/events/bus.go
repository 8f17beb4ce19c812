// Package events fans routing decisions out to interested consumers
// without letting a slow consumer block the poll loop.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

const subscriberBuffer = 256

// DecisionBus delivers every published decision to each subscriber on its
// own goroutine. Delivery order per subscriber matches publish order; a
// subscriber whose buffer fills drops the oldest pending events.
type DecisionBus struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   []chan types.Decision
	closed bool
}

// NewDecisionBus creates an empty bus.
func NewDecisionBus(logger *zap.Logger) *DecisionBus {
	return &DecisionBus{logger: logger.Named("decision-bus")}
}

// Subscribe registers a consumer. The handler runs on a dedicated goroutine
// until Close.
func (b *DecisionBus) Subscribe(handler func(types.Decision)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	ch := make(chan types.Decision, subscriberBuffer)
	b.subs = append(b.subs, ch)

	go func() {
		for d := range ch {
			handler(d)
		}
	}()
}

// Publish delivers a decision to every subscriber. Never blocks.
func (b *DecisionBus) Publish(d types.Decision) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- d:
		default:
			// Full buffer: drop the oldest event to keep the stream moving.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- d:
			default:
			}
			b.logger.Warn("Subscriber lagging, dropped decision event")
		}
	}
}

// Close stops delivery. Pending buffered events are still drained by the
// subscriber goroutines.
func (b *DecisionBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
