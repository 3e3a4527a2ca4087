package feed

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Kinds published by the receiver.
const (
	KindDelivery = "webhook.delivery"
	KindRejected = "webhook.rejected"
)

// Entry is one item on the feed.
type Entry struct {
	ID   int64           `json:"id"`
	Kind string          `json:"kind"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// DeliverySummary is the data of a KindDelivery entry. The body itself
// stays in the ledger under DeliveryID.
type DeliverySummary struct {
	DeliveryID  string `json:"delivery_id"`
	Event       string `json:"event"`
	RequestID   string `json:"request_id,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Verified    bool   `json:"verified"`
}

// Rejection is the data of a KindRejected entry.
type Rejection struct {
	Status int    `json:"status"`
	Reason string `json:"reason"`
	// Event is empty when the body never parsed.
	Event string `json:"event,omitempty"`
}

// Feed is an in-memory pub/sub with a ring buffer for late subscribers.
// Publish never blocks: subscribers that fall behind miss entries.
type Feed struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Entry
	start int
	size  int

	subs      map[int]chan Entry
	nextSubID int
	dropped   atomic.Int64
	now       func() time.Time
}

// New returns a feed retaining the last capacity entries.
func New(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 100
	}
	return &Feed{
		ring: make([]Entry, capacity),
		subs: make(map[int]chan Entry),
		now:  time.Now,
	}
}

// Publish appends an entry and fans it out to subscribers.
func (f *Feed) Publish(kind string, data any) Entry {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	e := Entry{
		ID:   f.nextID.Add(1),
		Kind: kind,
		At:   f.now().UTC(),
		Data: payload,
	}
	f.pushLocked(e)
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
			f.dropped.Add(1)
		}
	}
	return e
}

// Subscribe returns a channel of new entries and a cancel func that closes it.
func (f *Feed) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSubID
	f.nextSubID++
	ch := make(chan Entry, buffer)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
		f.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered entries with ID > lastID, oldest first.
func (f *Feed) SnapshotSince(lastID int64) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Entry, 0, f.size)
	for i := 0; i < f.size; i++ {
		e := f.ring[(f.start+i)%len(f.ring)]
		if e.ID > lastID {
			out = append(out, e)
		}
	}
	return out
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Dropped counts entries not delivered to a slow subscriber.
func (f *Feed) Dropped() int64 { return f.dropped.Load() }

func (f *Feed) pushLocked(e Entry) {
	capacity := len(f.ring)
	if f.size < capacity {
		f.ring[(f.start+f.size)%capacity] = e
		f.size++
		return
	}

	// Overwrite oldest.
	f.ring[f.start] = e
	f.start = (f.start + 1) % capacity
}
