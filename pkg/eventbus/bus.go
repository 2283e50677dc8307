// Package eventbus is the in-process, single-producer/multi-subscriber
// broadcast described in spec.md §4.7 (C8). It generalizes the teacher's
// pkg/pubsub Publisher/Subscription interface shape from an external NATS
// broker down to in-process channels — there is no second process for this
// station to talk to (see DESIGN.md).
package eventbus

import (
	"sync"
	"time"

	"github.com/LX-HMKK/SparkBox/pkg/types"
)

// mailboxSize bounds each subscriber's channel; on overflow the oldest
// queued event is dropped, per spec.md §4.7.
const mailboxSize = 64

// keepaliveInterval is the idle period after which a synthetic keepalive
// event is published so long-lived HTTP streams don't see a dead connection.
const keepaliveInterval = 30 * time.Second

// Subscription is a live mailbox handed back from Bus.Subscribe.
type Subscription struct {
	C      <-chan types.Event
	cancel func()
}

// Close stops delivery to this subscription and releases its mailbox.
func (s *Subscription) Close() {
	s.cancel()
}

// Bus is a single broadcaster over many bounded, oldest-drop mailboxes.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan types.Event
	nextID      int
	latest      *types.Event

	keepaliveTimer *time.Timer
	stop           chan struct{}
	stopOnce       sync.Once
}

// New builds a Bus and starts its keepalive ticker.
func New() *Bus {
	b := &Bus{
		subscribers: make(map[int]chan types.Event),
		stop:        make(chan struct{}),
	}
	go b.keepaliveLoop()
	return b
}

// Publish broadcasts ev to every live subscriber (dropping the oldest queued
// event on a full mailbox) and remembers it as the latest status.
func (b *Bus) Publish(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = &ev
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Mailbox full: drop the oldest queued event, then enqueue.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Subscribe registers a new bounded mailbox. Order within this mailbox
// matches publish order; order across subscribers is not synchronized.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan types.Event, mailboxSize)
	b.subscribers[id] = ch

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(c)
			}
		},
	}
}

// Latest returns the last published event, if any, so a late subscriber (or
// GET /api/status) can fetch current state without waiting on a new event.
func (b *Bus) Latest() (types.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return types.Event{}, false
	}
	return *b.latest, true
}

func (b *Bus) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			last := b.latest
			b.mu.Unlock()
			if last == nil {
				continue
			}
			if time.Since(last.Timestamp) >= keepaliveInterval {
				b.Publish(types.Event{State: last.State, Message: last.Message, Data: last.Data})
			}
		case <-b.stop:
			return
		}
	}
}

// Close stops the keepalive loop and closes all subscriber mailboxes.
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
