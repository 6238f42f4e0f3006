package services

import (
	"sync"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Ensure StatusHub implements the interface.
var _ driven.StatusNotifier = (*StatusHub)(nil)

// DefaultSubscriberBuffer is the channel size of a status subscriber.
const DefaultSubscriberBuffer = 64

// StatusHub fans job status events out to per-business subscribers.
// Publishing never blocks; events for a full subscriber are dropped.
type StatusHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan domain.StatusEvent
}

// NewStatusHub creates an empty hub.
func NewStatusHub() *StatusHub {
	return &StatusHub{subs: make(map[string]map[int]chan domain.StatusEvent)}
}

// Subscribe returns a channel of events for the business and a function
// that unsubscribes and closes the channel.
func (h *StatusHub) Subscribe(businessID string, buffer int) (<-chan domain.StatusEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan domain.StatusEvent, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[businessID] == nil {
		h.subs[businessID] = make(map[int]chan domain.StatusEvent)
	}
	h.subs[businessID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[businessID], id)
			if len(h.subs[businessID]) == 0 {
				delete(h.subs, businessID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers the event to the business's subscribers.
func (h *StatusHub) Publish(event domain.StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs[event.BusinessID] {
		select {
		case ch <- event:
		default:
			logger.Debug("status subscriber %d of %s is full, dropping event for %s", id, event.BusinessID, event.DataSourceID)
		}
	}
}

// Subscribers returns the number of subscribers of a business.
func (h *StatusHub) Subscribers(businessID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[businessID])
}
