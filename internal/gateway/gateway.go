// Package gateway implements SubscriberLoop: the per-connection state
// machine that owns a client's current subscription set and its outbound
// event stream over a WebSocket. Its send/receive task pair and paired
// one-shot cancellation signals are modeled directly on the upstream
// project's stream-events handler.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/models"
)

// ClientMessage is a subscription request sent by the client over the
// stream.
type ClientMessage struct {
	SubscribeToGuild       *models.ID `json:"subscribe_to_guild,omitempty"`
	SubscribeToActions     bool       `json:"subscribe_to_actions,omitempty"`
	SubscribeToHomeserver  bool       `json:"subscribe_to_homeserver,omitempty"`
}

// GuildChecker reports whether user belongs to guild, used to validate
// SubscribeToGuild requests before they're honored.
type GuildChecker interface {
	CheckGuildUser(guild, user models.ID) error
}

// PermissionRechecker re-evaluates a broadcast's optional PermCheck for
// this connection's user at delivery time.
type PermissionRechecker interface {
	Recheck(user models.ID, check *events.PermCheck) bool
}

// Loop is one connection's subscriber state machine.
type Loop struct {
	conn      *websocket.Conn
	bus       *events.Bus
	sub       *events.Subscription
	user      models.ID
	guilds    GuildChecker
	perms     PermissionRechecker
	logger    *slog.Logger
	heartbeat time.Duration

	mu            sync.Mutex
	subscriptions map[events.Sub]bool
}

// New creates a subscriber loop bound to an authenticated connection.
// heartbeat is the interval at which a ping is sent to detect a dead peer;
// zero disables heartbeating.
func New(conn *websocket.Conn, bus *events.Bus, user models.ID, guilds GuildChecker, perms PermissionRechecker, heartbeat time.Duration, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		conn:          conn,
		bus:           bus,
		sub:           bus.Subscribe(),
		user:          user,
		guilds:        guilds,
		perms:         perms,
		logger:        logger,
		heartbeat:     heartbeat,
		subscriptions: map[events.Sub]bool{events.ActionsSub: true},
	}
}

// Run drives the send and receive tasks until either finishes, then
// cancels the sibling via the paired close signals and waits for it to
// unwind. It returns the error (if any) that ended the connection.
func (l *Loop) Run(ctx context.Context) error {
	defer l.sub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	closeBySend := make(chan struct{})
	closeByRecv := make(chan struct{})

	sendErr := make(chan error, 1)
	recvErr := make(chan error, 1)

	go func() {
		err := l.sendLoop(ctx, closeByRecv)
		select {
		case <-closeBySend:
		default:
			close(closeBySend)
		}
		sendErr <- err
	}()

	go func() {
		err := l.recvLoop(ctx, closeBySend)
		select {
		case <-closeByRecv:
		default:
			close(closeByRecv)
		}
		recvErr <- err
	}()

	if l.heartbeat > 0 {
		go l.pingLoop(ctx)
	}

	var first error
	select {
	case first = <-sendErr:
		cancel()
		<-recvErr
	case first = <-recvErr:
		cancel()
		<-sendErr
	}
	return first
}

// pingLoop sends a WebSocket ping on every heartbeat tick until ctx is
// cancelled. A failed ping (typically a timeout against an unresponsive
// peer) cancels the connection by closing it, which unblocks the
// in-flight Read in recvLoop.
func (l *Loop) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.conn.Ping(ctx); err != nil {
				l.logger.Debug("heartbeat ping failed, closing connection", "user", l.user, "error", err)
				l.conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
				return
			}
		}
	}
}

// sendLoop consumes this connection's EventBus subscription and forwards
// matching broadcasts over the WebSocket until told to stop or it hits a
// write error.
func (l *Loop) sendLoop(ctx context.Context, stop <-chan struct{}) error {
	for {
		select {
		case ev, ok := <-l.sub.C():
			if !ok {
				return nil
			}
			if !l.shouldDeliver(ev) {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				l.logger.Error("encoding event broadcast failed", "error", err)
				continue
			}
			if err := l.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return err
			}
		case <-l.sub.Lagged():
			return events.LagError{}
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) shouldDeliver(ev events.Broadcast) bool {
	l.mu.Lock()
	subscribed := l.subscriptions[ev.Sub]
	l.mu.Unlock()
	if !subscribed {
		return false
	}
	if len(ev.Context) > 0 {
		found := false
		for _, uid := range ev.Context {
			if uid == l.user {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if ev.PermCheck != nil && l.perms != nil && !l.perms.Recheck(l.user, ev.PermCheck) {
		return false
	}
	return true
}

// recvLoop reads subscription requests from the client. On
// SubscribeToGuild it validates membership via CheckGuildUser; on failure
// it logs and continues without sending a client-visible acknowledgement,
// matching the upstream handler's documented silence on bad subscribes.
func (l *Loop) recvLoop(ctx context.Context, stop <-chan struct{}) error {
	for {
		done := make(chan struct{})
		var data []byte
		var readErr error
		go func() {
			_, data, readErr = l.conn.Read(ctx)
			close(done)
		}()

		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
		if readErr != nil {
			return readErr
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Debug("discarding malformed client message", "error", err)
			continue
		}

		switch {
		case msg.SubscribeToGuild != nil:
			gid := *msg.SubscribeToGuild
			if err := l.guilds.CheckGuildUser(gid, l.user); err != nil {
				l.logger.Debug("subscribe to guild rejected", "guild", gid, "user", l.user, "error", err)
				continue
			}
			l.mu.Lock()
			l.subscriptions[events.GuildSub(gid)] = true
			l.mu.Unlock()
		case msg.SubscribeToActions:
			l.mu.Lock()
			l.subscriptions[events.ActionsSub] = true
			l.mu.Unlock()
		case msg.SubscribeToHomeserver:
			l.mu.Lock()
			l.subscriptions[events.HomeserverSub] = true
			l.mu.Unlock()
		}
	}
}
