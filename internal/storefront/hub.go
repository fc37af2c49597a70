package storefront

import (
	"context"
	"sync"

	"github.com/smallbiznis/purchaseledger/internal/storefront/domain"
)

const DefaultSubscriberBuffer = 64

// Hub fans live results out to every open subscription.
type Hub struct {
	mu               sync.RWMutex
	subs             map[uint64]chan domain.VerificationResult
	nextID           uint64
	subscriberBuffer int
	closed           bool
}

type subscription struct {
	hub  *Hub
	id   uint64
	ch   chan domain.VerificationResult
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs:             make(map[uint64]chan domain.VerificationResult),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers event to every subscriber. A full subscriber buffer
// blocks until there is room or ctx is done, in which case the event stays
// unfinished in the transaction log and is picked up by the next replay.
func (h *Hub) Publish(ctx context.Context, event domain.VerificationResult) error {
	if h == nil {
		return nil
	}

	h.mu.RLock()
	subs := make([]chan domain.VerificationResult, 0, len(h.subs))
	for _, ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub) Subscribe() (domain.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, domain.ErrSourceClosed
	}
	id := h.nextID
	h.nextID++
	ch := make(chan domain.VerificationResult, h.subscriberBuffer)
	h.subs[id] = ch
	return &subscription{hub: h, id: id, ch: ch}, nil
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = make(map[uint64]chan domain.VerificationResult)
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (s *subscription) Events() <-chan domain.VerificationResult {
	return s.ch
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s.id)
	})
}
