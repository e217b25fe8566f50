// Package bus implements the in-process event bus that connects the
// analysis pipeline. Events on one topic are dispatched strictly in
// publish order; distinct topics dispatch concurrently.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"autocom/internal/logging"
	"autocom/internal/types"
)

// Well-known topics.
const (
	TopicMessageNew       = "message.new"
	TopicMessageAnalyzed  = "message.analyzed"
	TopicTaskCreated      = "task.created"
	TopicTaskCompleted    = "task.completed"
	TopicNotificationShow = "notification.show"
	TopicCommandReceived  = "command.received"
	TopicVoiceSpeak       = "voice.speak"
	TopicError            = "orchestrator.error"
)

// PublishPolicy controls behavior when a topic queue is full.
type PublishPolicy int

const (
	// PolicyBlock makes Publish wait for queue space.
	PolicyBlock PublishPolicy = iota
	// PolicyReject makes Publish fail fast with ErrBusFull.
	PolicyReject
)

// ParsePolicy converts the config string form.
func ParsePolicy(s string) (PublishPolicy, error) {
	switch s {
	case "block", "":
		return PolicyBlock, nil
	case "reject":
		return PolicyReject, nil
	}
	return PolicyBlock, fmt.Errorf("unknown publish policy %q", s)
}

// Event is one published occurrence. Seq is assigned per topic and is
// strictly increasing in dispatch order.
type Event struct {
	Topic     string
	Seq       uint64
	Timestamp time.Time
	Payload   any
}

// Handler processes one event. An error is logged and isolated; it
// never stops dispatch to other handlers or later events.
type Handler func(ctx context.Context, evt Event) error

// SubscriptionID identifies one registered handler for Unsubscribe.
type SubscriptionID uint64

type subscription struct {
	id SubscriptionID
	fn Handler
}

// Bus routes events from publishers to topic handlers.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*topicState
	policy PublishPolicy
	qsize  int
	closed bool

	wg sync.WaitGroup

	nextSub      atomic.Uint64
	published    atomic.Uint64
	rejected     atomic.Uint64
	handlerFails atomic.Uint64
}

type topicState struct {
	mu       sync.RWMutex
	handlers []subscription
	queue    chan Event
	seq      atomic.Uint64
	cancel   context.CancelFunc
}

// New creates a bus with the given per-topic queue size and policy.
func New(queueSize int, policy PublishPolicy) *Bus {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Bus{
		topics: make(map[string]*topicState),
		policy: policy,
		qsize:  queueSize,
	}
}

// topic returns (or creates) the state for a topic, starting its
// dispatch goroutine on first use.
func (b *Bus) topic(name string) (*topicState, error) {
	b.mu.RLock()
	if st, ok := b.topics[name]; ok {
		b.mu.RUnlock()
		return st, nil
	}
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("bus closed")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.topics[name]; ok {
		return st, nil
	}
	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &topicState{
		queue:  make(chan Event, b.qsize),
		cancel: cancel,
	}
	b.topics[name] = st

	b.wg.Add(1)
	go b.dispatch(ctx, name, st)
	return st, nil
}

// Subscribe registers a handler for a topic. Handlers run in
// subscription order for every event on that topic.
func (b *Bus) Subscribe(topic string, h Handler) (SubscriptionID, error) {
	if h == nil {
		return 0, fmt.Errorf("nil handler for topic %s", topic)
	}
	st, err := b.topic(topic)
	if err != nil {
		return 0, err
	}
	id := SubscriptionID(b.nextSub.Add(1))
	st.mu.Lock()
	st.handlers = append(st.handlers, subscription{id: id, fn: h})
	st.mu.Unlock()
	logging.BusDebug("subscribed handler %d to %s", id, topic)
	return id, nil
}

// Unsubscribe removes a previously registered handler. Events already
// dequeued may still reach it; no new dispatch will. Returns false for
// an unknown ID.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.RLock()
	topics := make([]*topicState, 0, len(b.topics))
	for _, st := range b.topics {
		topics = append(topics, st)
	}
	b.mu.RUnlock()

	for _, st := range topics {
		st.mu.Lock()
		for i, sub := range st.handlers {
			if sub.id == id {
				st.handlers = append(st.handlers[:i], st.handlers[i+1:]...)
				st.mu.Unlock()
				logging.BusDebug("unsubscribed handler %d", id)
				return true
			}
		}
		st.mu.Unlock()
	}
	return false
}

// Publish enqueues an event on a topic. Under PolicyBlock it waits for
// queue space or ctx cancellation; under PolicyReject a full queue
// returns types.ErrBusFull without waiting.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	st, err := b.topic(topic)
	if err != nil {
		return err
	}

	evt := Event{
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	// Holding the read lock keeps Close from closing the queue while
	// an enqueue is in flight.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus closed")
	}

	switch b.policy {
	case PolicyReject:
		select {
		case st.queue <- evt:
		default:
			b.rejected.Add(1)
			logging.Bus("rejected publish to %s: queue full", topic)
			return types.ErrBusFull
		}
	default:
		select {
		case st.queue <- evt:
		case <-ctx.Done():
			b.rejected.Add(1)
			return ctx.Err()
		}
	}

	b.published.Add(1)
	return nil
}

// dispatch drains one topic queue. A single goroutine per topic gives
// strict FIFO ordering within the topic.
func (b *Bus) dispatch(ctx context.Context, topic string, st *topicState) {
	defer b.wg.Done()

	for {
		select {
		case evt, ok := <-st.queue:
			if !ok {
				return
			}
			evt.Seq = st.seq.Add(1)
			b.invoke(ctx, topic, st, evt)
		case <-ctx.Done():
			// Drain what was already accepted before shutdown.
			for {
				select {
				case evt, ok := <-st.queue:
					if !ok {
						return
					}
					evt.Seq = st.seq.Add(1)
					b.invoke(context.Background(), topic, st, evt)
				default:
					return
				}
			}
		}
	}
}

// invoke runs every handler for the event, isolating errors and panics.
func (b *Bus) invoke(ctx context.Context, topic string, st *topicState, evt Event) {
	st.mu.RLock()
	handlers := make([]subscription, len(st.handlers))
	copy(handlers, st.handlers)
	st.mu.RUnlock()

	for _, sub := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.handlerFails.Add(1)
					logging.Get(logging.CategoryBus).Error(
						"handler %d panicked on %s seq=%d: %v", sub.id, topic, evt.Seq, r)
				}
			}()
			if err := sub.fn(ctx, evt); err != nil {
				b.handlerFails.Add(1)
				logging.Get(logging.CategoryBus).Error(
					"handler %d failed on %s seq=%d: %v", sub.id, topic, evt.Seq, err)
			}
		}()
	}
}

// Close stops accepting publishes, lets in-flight events drain, and
// waits for all dispatch goroutines to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := make([]*topicState, 0, len(b.topics))
	for _, st := range b.topics {
		topics = append(topics, st)
	}
	b.mu.Unlock()

	for _, st := range topics {
		close(st.queue)
	}
	b.wg.Wait()
	for _, st := range topics {
		st.cancel()
	}
	logging.Bus("bus closed, %d events published total", b.published.Load())
}

// Stats holds bus counters.
type Stats struct {
	Topics        int
	Published     uint64
	Rejected      uint64
	HandlerErrors uint64
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	topics := len(b.topics)
	b.mu.RUnlock()
	return Stats{
		Topics:        topics,
		Published:     b.published.Load(),
		Rejected:      b.rejected.Load(),
		HandlerErrors: b.handlerFails.Load(),
	}
}
