package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"kubedesk/pkg/logging"
)

// Channel names an in-process delivery channel. The GUI subscribes to the
// channels it renders; the engine publishes to them.
type Channel string

const (
	// ChannelCommandResult carries command result envelopes.
	ChannelCommandResult Channel = "app.command-result"
	// ChannelLifecycle carries opaque lifecycle signals (cluster-changed,
	// namespace-changed, escape-key and friends).
	ChannelLifecycle Channel = "app.lifecycle"
	// ChannelError carries non-fatal error notices for the GUI banner.
	ChannelError Channel = "app.error"
	// ChannelLogs carries pod log lines.
	ChannelLogs Channel = "dashboard.logs"
	// ChannelMetrics carries streamed metric samples.
	ChannelMetrics Channel = "app.metrics"
)

// Event is the envelope delivered through the bus. Command echoes the
// originating command name for result envelopes; lifecycle signals carry the
// signal value in Data and leave Command empty.
type Event struct {
	Channel   Channel   `json:"channel"`
	Command   string    `json:"command,omitempty"`
	Data      string    `json:"data"`
	Meta      string    `json:"meta,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives events for the channels it subscribed to.
type Listener interface {
	Handle(Event)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(Event)

// Handle implements Listener.
func (f ListenerFunc) Handle(e Event) { f(e) }

// Token identifies a subscription for later removal.
type Token string

// Metrics tracks bus activity.
type Metrics struct {
	ActiveSubscriptions int
	EventsPublished     int64
	EventsDelivered     int64
	ListenerPanics      int64
}

type subscription struct {
	token    Token
	channel  Channel
	listener Listener
}

// Bus is an in-process publish/subscribe channel with best-effort
// synchronous fan-out in subscription order. It owns no data beyond the
// subscriber list; delivery happens on the publisher's goroutine.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Channel][]*subscription
	byToken map[Token]*subscription
	metrics Metrics
	closed  bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:    make(map[Channel][]*subscription),
		byToken: make(map[Token]*subscription),
	}
}

// Subscribe registers a listener on a channel and returns a token for
// unregistration. Listeners on the same channel are notified in
// subscription order.
func (b *Bus) Subscribe(ch Channel, l Listener) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || l == nil {
		return ""
	}

	sub := &subscription{
		token:    Token(uuid.NewString()),
		channel:  ch,
		listener: l,
	}
	b.subs[ch] = append(b.subs[ch], sub)
	b.byToken[sub.token] = sub
	b.metrics.ActiveSubscriptions++
	return sub.token
}

// Unsubscribe removes a subscription. Unsubscribing an unknown or already
// removed token is a no-op. After Unsubscribe returns, no further events are
// delivered to the listener.
func (b *Bus) Unsubscribe(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byToken[token]
	if !ok {
		return
	}
	delete(b.byToken, token)

	chain := b.subs[sub.channel]
	for i, s := range chain {
		if s.token == token {
			b.subs[sub.channel] = append(chain[:i:i], chain[i+1:]...)
			break
		}
	}
	b.metrics.ActiveSubscriptions--
}

// Publish delivers the event to every listener registered on its channel,
// synchronously and in subscription order. A panicking listener does not
// prevent delivery to subsequent listeners. Events are not retained; a
// listener registered afterwards never sees this event.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	chain := make([]*subscription, len(b.subs[ev.Channel]))
	copy(chain, b.subs[ev.Channel])
	b.mu.RUnlock()

	var delivered, panics int64
	for _, sub := range chain {
		b.deliver(sub, ev, &delivered, &panics)
	}

	b.mu.Lock()
	b.metrics.EventsPublished++
	b.metrics.EventsDelivered += delivered
	b.metrics.ListenerPanics += panics
	b.mu.Unlock()
}

func (b *Bus) deliver(sub *subscription, ev Event, delivered, panics *int64) {
	defer func() {
		if r := recover(); r != nil {
			*panics++
			logging.Warn("bus", "listener panic on channel %s: %v", ev.Channel, r)
		}
	}()

	// Re-check under the lock so a listener unsubscribed between the
	// snapshot and delivery never sees the event.
	b.mu.RLock()
	_, live := b.byToken[sub.token]
	b.mu.RUnlock()
	if !live {
		return
	}

	sub.listener.Handle(ev)
	*delivered++
}

// GetMetrics returns a copy of the bus metrics.
func (b *Bus) GetMetrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

// Close drops all subscriptions; further publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[Channel][]*subscription)
	b.byToken = make(map[Token]*subscription)
	b.metrics.ActiveSubscriptions = 0
}
