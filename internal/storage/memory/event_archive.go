package memory

import (
	"context"
	"sync"

	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/storage"
)

// EventArchive is an in-memory implementation of storage.EventArchive.
type EventArchive struct {
	mu   sync.RWMutex
	data []*domain.TradeEvent
}

// NewEventArchive creates a new in-memory event archive.
func NewEventArchive() *EventArchive {
	return &EventArchive{}
}

// InsertBulk appends a batch of trade events.
func (a *EventArchive) InsertBulk(_ context.Context, events []*domain.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		if ev == nil || ev.Mint == "" {
			return storage.ErrInvalidInput
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, ev := range events {
		copy := *ev
		a.data = append(a.data, &copy)
	}
	return nil
}

// All returns every archived event in insertion order.
func (a *EventArchive) All() []*domain.TradeEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]*domain.TradeEvent, 0, len(a.data))
	for _, ev := range a.data {
		copy := *ev
		result = append(result, &copy)
	}
	return result
}

var _ storage.EventArchive = (*EventArchive)(nil)
