// Package stream fans freshly ingested sensor readings out to live
// subscribers within one process.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"telemetra.io/internal/auth"
)

const subscriberBuffer = 16

// Reading is one ingested measurement as pushed to subscribers. Storage ids
// are not known at publish time and are not part of the event.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ReadingEvent announces readings ingested for one piece of equipment.
type ReadingEvent struct {
	EquipmentID int64     `json:"equipment_id"`
	Readings    []Reading `json:"readings"`
}

// NewReadingEvent builds the event for readings appended to equipmentID.
func NewReadingEvent(equipmentID int64, readings []auth.SensorReading) ReadingEvent {
	out := make([]Reading, len(readings))
	for i, r := range readings {
		out[i] = Reading{Timestamp: r.Timestamp, Value: r.Value}
	}
	return ReadingEvent{EquipmentID: equipmentID, Readings: out}
}

type subscriber struct {
	equipmentID int64
	ch          chan ReadingEvent
}

// Hub fan-outs reading events to subscribers of the matching equipment.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

// New initialises an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for equipmentID and returns a channel
// which will receive its events. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, equipmentID int64) <-chan ReadingEvent {
	ch := make(chan ReadingEvent, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{equipmentID: equipmentID, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to every subscriber of its equipment and returns how
// many received it. Slow subscribers miss the event instead of blocking
// ingestion.
func (h *Hub) Publish(evt ReadingEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, s := range h.subs {
		if s.equipmentID != evt.EquipmentID {
			continue
		}
		select {
		case s.ch <- evt:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
