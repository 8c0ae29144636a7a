package pipeline

import (
	"sync"

	"graphloom/pkg/types"
)

// DefaultFeedCapacity bounds the in-memory activity window
const DefaultFeedCapacity = 200

// subscriberBuffer is the channel depth given to each subscriber
const subscriberBuffer = 16

// Feed keeps a capped window of recent activity records and broadcasts each
// published record to subscribers. It backs the status API and the live
// WebSocket stream; the durable activity log lives in the store.
type Feed struct {
	mu       sync.RWMutex
	capacity int
	records  []types.ActivityRecord
	subs     map[chan types.ActivityRecord]struct{}
}

// NewFeed creates a feed holding at most capacity records. A non-positive
// capacity selects the default.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &Feed{
		capacity: capacity,
		subs:     make(map[chan types.ActivityRecord]struct{}),
	}
}

// Publish appends a record to the window and fans it out to subscribers.
// Subscribers with a full channel miss the record instead of blocking the
// pipeline.
func (f *Feed) Publish(rec types.ActivityRecord) {
	f.mu.Lock()
	f.records = append(f.records, rec)
	if len(f.records) > f.capacity {
		f.records = f.records[len(f.records)-f.capacity:]
	}
	subs := make([]chan types.ActivityRecord, 0, len(f.subs))
	for ch := range f.subs {
		subs = append(subs, ch)
	}
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Recent returns up to limit records, oldest first. A non-positive limit
// returns the whole window.
func (f *Feed) Recent(limit int) []types.ActivityRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()

	records := f.records
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]types.ActivityRecord, len(records))
	copy(out, records)
	return out
}

// Subscribe registers a listener for future records. The caller must drain
// the channel and release it with Unsubscribe.
func (f *Feed) Subscribe() chan types.ActivityRecord {
	ch := make(chan types.ActivityRecord, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (f *Feed) Unsubscribe(ch chan types.ActivityRecord) {
	f.mu.Lock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
	f.mu.Unlock()
}
