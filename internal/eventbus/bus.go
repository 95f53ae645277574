// Package eventbus is an in-process, non-blocking fanout of small events.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeCycle          = "forwarder.cycle"
	TypeAccountRemoved = "forwarder.account_removed"
	TypeChatRemoved    = "forwarder.chat_removed"
	TypeConfigReloaded = "config.reloaded"
)

// Event is a signal between components. Publish never blocks; slow
// subscribers drop events.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Recorder remembers the latest event of each type and counts them.
type Recorder struct {
	mu     sync.RWMutex
	last   map[string]Event
	counts map[string]uint64
}

func NewRecorder() *Recorder {
	return &Recorder{last: map[string]Event{}, counts: map[string]uint64{}}
}

// Run consumes bus events until ctx is done.
func (r *Recorder) Run(ctx context.Context, bus Bus) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.Record(e)
		}
	}
}

func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	r.last[e.Type] = e
	r.counts[e.Type]++
	r.mu.Unlock()
}

func (r *Recorder) Last(typ string) (Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.last[typ]
	return e, ok
}

func (r *Recorder) Count(typ string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[typ]
}
