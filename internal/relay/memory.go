package relay

import (
	"context"
	"sync"
)

const defaultCapacity = 256

// Broker is the in-process relay used by local dispatch. It keeps a bounded
// per-task history so a subscriber attaching after publication still sees
// prior events, including the terminal one.
type Broker struct {
	mu       sync.Mutex
	capacity int
	tasks    map[string]*taskStream
}

type taskStream struct {
	nextSeq uint64
	history []Event
	done    bool
	subs    map[chan Event]struct{}
}

// NewBroker creates a broker with the given per-task history capacity.
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Broker{capacity: capacity, tasks: make(map[string]*taskStream)}
}

func (b *Broker) stream(taskID string) *taskStream {
	ts, ok := b.tasks[taskID]
	if !ok {
		ts = &taskStream{nextSeq: 1, subs: make(map[chan Event]struct{})}
		b.tasks[taskID] = ts
	}
	return ts
}

// Publish assigns the next sequence number and fans the event out to all
// subscribers. Slow subscribers may miss intermediate events (they can
// detect the gap from Seq); terminal events close every subscription so the
// stream never hangs.
func (b *Broker) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	ts := b.stream(evt.TaskID)
	evt.Seq = ts.nextSeq
	ts.nextSeq++
	if len(ts.history) >= b.capacity {
		ts.history = ts.history[1:]
	}
	ts.history = append(ts.history, evt)

	// Sends and closes stay under the lock so a concurrent unsubscribe
	// cannot close a channel mid-send. Channels are buffered and the send
	// is non-blocking, so the lock is never held across a wait.
	for ch := range ts.subs {
		select {
		case ch <- evt:
		default:
		}
		if evt.Terminal() {
			close(ch)
		}
	}
	if evt.Terminal() {
		ts.done = true
		ts.subs = make(map[chan Event]struct{})
	}
	b.mu.Unlock()
	return nil
}

// Subscribe returns a channel that first replays the retained history and
// then receives live events. The channel is closed after a terminal event.
func (b *Broker) Subscribe(ctx context.Context, taskID string) (<-chan Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	ts := b.stream(taskID)
	ch := make(chan Event, b.capacity+16)
	for _, evt := range ts.history {
		ch <- evt
	}
	if ts.done {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	ts.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.tasks[taskID]; ok {
			if _, registered := cur.subs[ch]; registered {
				delete(cur.subs, ch)
				close(ch)
			}
		}
	}
	return ch, cancel, nil
}

var (
	_ Publisher  = (*Broker)(nil)
	_ Subscriber = (*Broker)(nil)
)
