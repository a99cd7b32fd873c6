package engine

import (
	"context"
	"sync"

	"github.com/seantiz/dsplatform/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// EventSink receives every lifecycle event the engine emits. Sinks must not
// block for long; errors are logged by the engine and otherwise ignored.
type EventSink interface {
	Publish(ctx context.Context, ev model.Event) error
}

// EventBroker fans lifecycle events out to per-experiment subscribers, such
// as SSE streams. It is safe for concurrent use.
//
// A topic lives only while it has subscribers. The terminal event closes
// every subscriber channel and drops the topic, so the broker holds nothing
// for finished experiments. A subscriber that arrives after the terminal
// event gets a fresh topic that will never publish; callers check the
// experiment's status after subscribing to cover that window.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan model.Event
	nextID int
}

var _ EventSink = (*EventBroker)(nil)

// NewEventBroker creates an empty broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel of events for the given experiment and an
// unsubscribe function. The channel is closed after the experiment's
// terminal event.
func (b *EventBroker) Subscribe(experimentID string) (<-chan model.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[experimentID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan model.Event)}
		b.topics[experimentID] = t
	}

	ch := make(chan model.Event, subscriberBufferSize)
	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		if len(t.subs) == 0 && b.topics[experimentID] == t {
			delete(b.topics, experimentID)
		}
	}
}

// Publish delivers ev to the experiment's subscribers and closes the topic
// when ev is a terminal transition. Slow subscribers miss events rather than
// block the publisher.
func (b *EventBroker) Publish(_ context.Context, ev model.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.ExperimentID]
	if !ok {
		return nil
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}

	if ev.To.Terminal() {
		b.closeLocked(ev.ExperimentID, t)
	}
	return nil
}

// Close closes the experiment's topic without publishing anything.
func (b *EventBroker) Close(experimentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[experimentID]; ok {
		b.closeLocked(experimentID, t)
	}
}

// Topics reports how many experiments currently have subscribers.
func (b *EventBroker) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

func (b *EventBroker) closeLocked(experimentID string, t *eventTopic) {
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	delete(b.topics, experimentID)
}
