// Package events implements the process-wide EventBus: a bounded broadcast
// of Broadcast records consumed by each connection's SubscriberLoop.
// Unlike the federation outbound queue (internal/federation, backed by
// NATS JetStream), this bus never leaves the process — every subscriber
// gets its own buffered channel, and a lagging subscriber is dropped
// rather than allowed to stall the publisher.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/harborchat/harbor/internal/models"
)

// subscriberCapacity bounds each subscriber's backlog before it is
// considered lagging and disconnected.
const subscriberCapacity = 2048

// Sub selects which broadcasts a subscriber receives.
type Sub struct {
	Kind  string    `json:"kind"` // SubGuild, SubActions, or SubHomeserver
	Guild models.ID `json:"guild_id,omitempty"` // meaningful only when Kind == SubGuild
}

// Sub.Kind values.
const (
	SubGuild      = "guild"
	SubActions    = "actions"
	SubHomeserver = "homeserver"
)

// GuildSub returns the selector for a single guild's events.
func GuildSub(gid models.ID) Sub { return Sub{Kind: SubGuild, Guild: gid} }

var (
	// ActionsSub selects cross-guild action events (e.g. friend requests).
	ActionsSub = Sub{Kind: SubActions}
	// HomeserverSub selects instance-wide events (e.g. MOTD changes).
	HomeserverSub = Sub{Kind: SubHomeserver}
)

// PermCheck is re-evaluated per subscriber at delivery time; the bus
// itself never evaluates permissions.
type PermCheck struct {
	Permission string
	Channel    *models.ID
}

// Broadcast is one immutable event published on the bus.
type Broadcast struct {
	Sub       Sub             `json:"sub"`
	Kind      string          `json:"kind"` // e.g. "SentMessage", "LeftMember", "EditedMessage"
	Payload   json.RawMessage `json:"payload,omitempty"`
	PermCheck *PermCheck      `json:"-"`
	// Context, if non-empty, restricts delivery to these user ids (e.g. an
	// emote-pack update targeted at users who equipped it). Empty means
	// every subscriber matching Sub is a candidate.
	Context []models.ID `json:"-"`
}

// LagError is the error a SubscriberLoop surfaces when its subscription's
// Lagged channel closes.
type LagError struct{}

func (LagError) Error() string { return "events: subscriber lagged past bus capacity" }

// Subscription is a live receiver. Callers must call Close when the
// connection ends.
type Subscription struct {
	ch     chan Broadcast
	lag    chan struct{}
	bus    *Bus
	id     uint64
	closed sync.Once
}

// C returns the channel of delivered broadcasts.
func (s *Subscription) C() <-chan Broadcast { return s.ch }

// Lagged returns a channel that is closed if this subscriber lagged and
// was dropped.
func (s *Subscription) Lagged() <-chan struct{} { return s.lag }

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.bus.remove(s.id)
	})
}

// Bus is the process-wide broadcast hub.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[uint64]*Subscription), logger: logger}
}

// Subscribe registers a new receiver.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		ch:  make(chan Broadcast, subscriberCapacity),
		lag: make(chan struct{}),
		bus: b,
		id:  b.nextID,
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish fans a broadcast out to every current subscriber. Sub/context/
// perm-check filtering is each subscriber's own responsibility
// (internal/gateway); Publish only delivers or drops on backpressure.
func (b *Bus) Publish(ev Broadcast) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("subscriber lagged past bus capacity, disconnecting", "subscriber", id)
			close(sub.lag)
		}
	}
}

// Len reports the current subscriber count, for diagnostics.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
