package progress

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

// Broker is the in-process pub/sub hub. Subscribers attach by parent-entity
// key and immediately receive a connection-acknowledgement event carrying
// their opaque connection id.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan Event
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[string]chan Event)}
}

// Subscription is one attached listener. Close detaches it.
type Subscription struct {
	ID       string
	ParentID string
	C        <-chan Event
	close    func()
}

// Close detaches the subscription from its topic.
func (s *Subscription) Close() {
	if s.close != nil {
		s.close()
	}
}

// Subscribe attaches a listener to the given parent topic.
func (b *Broker) Subscribe(parentID string) *Subscription {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	topic, ok := b.subs[parentID]
	if !ok {
		topic = make(map[string]chan Event)
		b.subs[parentID] = topic
	}
	topic[id] = ch
	b.mu.Unlock()

	// Connection ack is the first event on the channel; buffer is empty here
	// so the send cannot block.
	ch <- Event{Type: EventConnected, ParentID: parentID, ConnectionID: id}

	return &Subscription{
		ID:       id,
		ParentID: parentID,
		C:        ch,
		close: func() {
			b.mu.Lock()
			if topic, ok := b.subs[parentID]; ok {
				if sub, ok := topic[id]; ok {
					delete(topic, id)
					close(sub)
				}
				if len(topic) == 0 {
					delete(b.subs, parentID)
				}
			}
			b.mu.Unlock()
		},
	}
}

// Publish fans the event out to the topic's subscribers. Events to slow
// subscribers with full buffers are dropped rather than blocking the
// reconciliation path.
func (b *Broker) Publish(ctx context.Context, parentID string, ev Event) {
	ev.ParentID = parentID

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[parentID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

var _ Publisher = (*Broker)(nil)
