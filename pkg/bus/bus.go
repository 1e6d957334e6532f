// Package bus implements the in-process event bus: a broadcast-style,
// fan-out channel over Event with a dedicated inbound-message sub-channel,
// plus the simple default single-consumer queues picoclaw's channel
// adapters were built against.
//
// Go has no native multi-subscriber broadcast channel (unlike Rust's
// tokio::sync::broadcast, which this design is ported from), so Subscribe
// hands each caller its own buffered channel and tracks per-subscriber
// lag independently: a publish that finds a subscriber's buffer full
// drops the event for that subscriber and increments its lag counter,
// surfaced as a Lagged event the next time that subscriber receives.
package bus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/arjunmehta/relay/pkg/core"
)

// DefaultCapacity is the fan-out buffer size per subscriber.
const DefaultCapacity = 100

// InboundMessage is the payload of an inbound event, independent of the
// canonical core.Message so that channel adapters (which predate the full
// Message model) can keep constructing it directly.
type InboundMessage struct {
	Channel    string
	SenderID   string
	ChatID     string
	SessionKey string
	Content    string
	Media      []string
	Metadata   map[string]string
}

// OutboundMessage is the payload of an outbound event.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Media    []string
	Metadata map[string]string
}

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventInboundMessage EventKind = iota
	EventOutboundMessage
	EventSystemLog
)

// Event is the bus's broadcast payload: a tagged union mirroring the
// spec's {InboundMessage, OutboundMessage, SystemLog} variant set.
type Event struct {
	Kind     EventKind
	Inbound  InboundMessage
	Outbound OutboundMessage
	LogLevel string
	LogText  string
}

// MessageHandler processes an inbound message synchronously; used by the
// legacy per-channel handler registry.
type MessageHandler func(msg InboundMessage) error

type subscriber struct {
	id     uint64
	events chan Event
	lagged atomic.Uint64
}

// Subscription is a handle returned by Subscribe/SubscribeInbound. Recv
// yields the next Event, or a non-zero lag count when this subscriber fell
// behind and events were dropped for it.
type Subscription struct {
	bus  *MessageBus
	sub  *subscriber
	kind subscriptionKind
}

type subscriptionKind int

const (
	kindGeneral subscriptionKind = iota
	kindInboundOnly
)

// Recv blocks until the next event, ctx cancellation, or bus close. lagged
// is non-zero exactly when events were dropped for this subscriber since
// the last Recv call (mirrors tokio::broadcast::error::RecvError::Lagged).
func (s *Subscription) Recv(ctx context.Context) (event Event, lagged uint64, ok bool) {
	if n := s.sub.lagged.Swap(0); n > 0 {
		return Event{}, n, true
	}
	select {
	case e, open := <-s.sub.events:
		if !open {
			return Event{}, 0, false
		}
		return e, 0, true
	case <-s.bus.done:
		return Event{}, 0, false
	case <-ctx.Done():
		return Event{}, 0, false
	}
}

// Close unregisters this subscription from the bus.
func (s *Subscription) Close() {
	switch s.kind {
	case kindGeneral:
		s.bus.removeGeneral(s.sub.id)
	case kindInboundOnly:
		s.bus.removeInboundOnly(s.sub.id)
	}
}

// MessageBus is the process-wide broadcast event bus.
type MessageBus struct {
	mu          sync.RWMutex
	generalSubs map[uint64]*subscriber
	inboundSubs map[uint64]*subscriber
	nextID      uint64
	handlers    map[string]MessageHandler
	closed      bool
	closeOnce   sync.Once
	done        chan struct{}
	metrics     *core.MetricsStore

	// defaultInbound/defaultOutbound back the simple single-consumer
	// convenience API (ConsumeInbound/SubscribeOutbound) that channel
	// adapters and their tests are built against.
	defaultInbound  chan InboundMessage
	defaultOutbound chan OutboundMessage
}

// NewMessageBus creates an empty bus with no subscribers.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		generalSubs:     make(map[uint64]*subscriber),
		inboundSubs:     make(map[uint64]*subscriber),
		handlers:        make(map[string]MessageHandler),
		done:            make(chan struct{}),
		defaultInbound:  make(chan InboundMessage, DefaultCapacity),
		defaultOutbound: make(chan OutboundMessage, DefaultCapacity),
	}
}

// SetMetrics attaches a metrics store; Publish* calls increment its
// messages_in/messages_out counters when set.
func (mb *MessageBus) SetMetrics(m *core.MetricsStore) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.metrics = m
}

// Subscribe registers a new general-event subscriber (all event kinds).
// Used by the gateway's /ws/events stream and anything wanting a full
// view of bus traffic.
func (mb *MessageBus) Subscribe() *Subscription {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.nextID++
	sub := &subscriber{id: mb.nextID, events: make(chan Event, DefaultCapacity)}
	mb.generalSubs[sub.id] = sub
	return &Subscription{bus: mb, sub: sub, kind: kindGeneral}
}

// SubscribeInbound registers a subscriber limited to InboundMessage
// events, isolating it from outbound/log traffic so it sees only the
// stream the agent loop cares about.
func (mb *MessageBus) SubscribeInbound() *Subscription {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.nextID++
	sub := &subscriber{id: mb.nextID, events: make(chan Event, DefaultCapacity)}
	mb.inboundSubs[sub.id] = sub
	return &Subscription{bus: mb, sub: sub, kind: kindInboundOnly}
}

func (mb *MessageBus) removeGeneral(id uint64) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.generalSubs, id)
}

func (mb *MessageBus) removeInboundOnly(id uint64) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.inboundSubs, id)
}

func broadcast(subs map[uint64]*subscriber, e Event) {
	for _, sub := range subs {
		select {
		case sub.events <- e:
		default:
			sub.lagged.Add(1)
		}
	}
}

// PublishInbound pushes msg to the legacy default inbound queue and
// broadcasts it as an InboundMessage Event to every general and
// inbound-only subscriber (publishing an InboundMessage pushes to
// both queues").
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	if mb.metrics != nil {
		mb.metrics.IncMessagesIn()
	}

	select {
	case mb.defaultInbound <- msg:
	default:
		log.Printf("[WARN] bus: inbound channel full, dropping message from %s:%s", msg.Channel, msg.ChatID)
	}

	e := Event{Kind: EventInboundMessage, Inbound: msg}
	broadcast(mb.generalSubs, e)
	broadcast(mb.inboundSubs, e)
}

// ConsumeInbound receives from the legacy default inbound queue. Kept for
// callers (and tests) that want simple single-consumer semantics rather
// than a full Subscription.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	mb.mu.RLock()
	closed := mb.closed
	mb.mu.RUnlock()
	if closed {
		return InboundMessage{}, false
	}

	select {
	case msg := <-mb.defaultInbound:
		return msg, true
	case <-mb.done:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound pushes msg to the legacy default outbound queue and
// broadcasts it as an OutboundMessage Event to general subscribers only
// (outbound does not mirror to the inbound sub-channel).
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	if mb.metrics != nil {
		mb.metrics.IncMessagesOut()
	}

	select {
	case mb.defaultOutbound <- msg:
	default:
		log.Printf("[WARN] bus: outbound channel full, dropping message for %s:%s", msg.Channel, msg.ChatID)
	}

	broadcast(mb.generalSubs, Event{Kind: EventOutboundMessage, Outbound: msg})
}

// SubscribeOutbound receives from the legacy default outbound queue.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	mb.mu.RLock()
	closed := mb.closed
	mb.mu.RUnlock()
	if closed {
		return OutboundMessage{}, false
	}

	select {
	case msg := <-mb.defaultOutbound:
		return msg, true
	case <-mb.done:
		return OutboundMessage{}, false
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// PublishSystemLog broadcasts a SystemLog event to general subscribers,
// used for the /ws/events "system_log" envelope.
func (mb *MessageBus) PublishSystemLog(level, text string) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	broadcast(mb.generalSubs, Event{Kind: EventSystemLog, LogLevel: level, LogText: text})
}

// RegisterHandler registers a synchronous per-channel inbound handler.
func (mb *MessageBus) RegisterHandler(channel string, handler MessageHandler) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.handlers[channel] = handler
}

// GetHandler retrieves a previously registered handler.
func (mb *MessageBus) GetHandler(channel string) (MessageHandler, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	handler, ok := mb.handlers[channel]
	return handler, ok
}

// Close shuts the bus down; idempotent. All pending Subscriptions observe
// Recv returning ok=false.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		close(mb.done)
		mb.mu.Unlock()
	})
}
