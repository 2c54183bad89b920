package signaling

import (
	"context"
	"log/slog"
	"time"

	"github.com/BioHazard786/huddle/internal/loop"
)

// Conn is an open transport connection.
type Conn interface {
	Send(frame []byte) error
	Close()
}

// DialFunc opens a transport connection. onMessage and onClose may be called
// from any goroutine; onClose is called at most once.
type DialFunc func(ctx context.Context, url string, onMessage func([]byte), onClose func(code int)) (Conn, error)

// DialWebsocket is the production DialFunc.
func DialWebsocket(ctx context.Context, url string, onMessage func([]byte), onClose func(int)) (Conn, error) {
	c, err := Dial(ctx, url, onMessage, onClose)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ReconnectPolicy bounds reconnection after an unexpected close. The delay
// before attempt n is min(Step*n, Cap).
type ReconnectPolicy struct {
	MaxAttempts int
	Step        time.Duration
	Cap         time.Duration
}

// DefaultPolicy retries five times, 2s apart growing linearly to 10s.
func DefaultPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 5, Step: 2 * time.Second, Cap: 10 * time.Second}
}

// Delay returns the wait before the given 1-based attempt.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	return min(p.Step*time.Duration(attempt), p.Cap)
}

// Handlers receive channel events. All of them run on the loop.
type Handlers struct {
	Envelope     func(Envelope)
	Closed       func(code int)
	Reconnecting func(attempt, max int, delay time.Duration)
	Reconnected  func()
	Terminal     func(err error)
}

type ChannelConfig struct {
	URL       string
	Policy    ReconnectPolicy
	Heartbeat time.Duration
	Dial      DialFunc
	Logger    *slog.Logger
}

const dialTimeout = 10 * time.Second

// Channel owns the single connection to the session server and reconnects
// it while a room is active. Except for Connect, every method must be called
// on the loop.
type Channel struct {
	loop      *loop.Loop
	dial      DialFunc
	url       string
	policy    ReconnectPolicy
	heartbeat time.Duration
	handlers  Handlers
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// owned by the loop
	link    *link
	roomID  string
	name    string
	userID  string
	leaving bool
	attempt int
	retry   *loop.Timer
	beat    *loop.Timer
}

// link is one dial attempt. Callbacks from an abandoned link are ignored.
type link struct {
	ch   *Channel
	conn Conn
	dead bool
}

func (l *link) onMessage(data []byte) {
	ch := l.ch
	ch.loop.Post(func() {
		if ch.link != l || l.dead {
			return
		}
		ch.receive(data)
	})
}

func (l *link) onClose(code int) {
	ch := l.ch
	ch.loop.Post(func() {
		if ch.link != l || l.dead {
			return
		}
		ch.dropped(code)
	})
}

func NewChannel(lp *loop.Loop, cfg ChannelConfig, h Handlers) *Channel {
	if cfg.Dial == nil {
		cfg.Dial = DialWebsocket
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if h.Envelope == nil {
		h.Envelope = func(Envelope) {}
	}
	if h.Closed == nil {
		h.Closed = func(int) {}
	}
	if h.Reconnecting == nil {
		h.Reconnecting = func(int, int, time.Duration) {}
	}
	if h.Reconnected == nil {
		h.Reconnected = func() {}
	}
	if h.Terminal == nil {
		h.Terminal = func(error) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		loop:      lp,
		dial:      cfg.Dial,
		url:       cfg.URL,
		policy:    cfg.Policy,
		heartbeat: cfg.Heartbeat,
		handlers:  h,
		log:       cfg.Logger.With("component", "signaling"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect opens the initial connection. It blocks and must not be called on
// the loop.
func (c *Channel) Connect(ctx context.Context) error {
	var l *link
	if err := c.loop.Do(ctx, func() {
		if c.leaving {
			return
		}
		l = c.newLink()
	}); err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	if l == nil {
		return &TransportError{Op: "connect", Err: ErrClosed}
	}

	conn, err := c.dial(ctx, c.url, l.onMessage, l.onClose)
	if err != nil {
		c.loop.Post(func() {
			if c.link == l {
				c.link = nil
			}
		})
		return &TransportError{Op: "connect", Err: err}
	}

	attached := false
	if err := c.loop.Do(ctx, func() { attached = c.attach(l, conn) }); err != nil || !attached {
		conn.Close()
		return &TransportError{Op: "connect", Err: ErrClosed}
	}
	c.log.Info("connected", "url", c.url)
	return nil
}

func (c *Channel) newLink() *link {
	l := &link{ch: c}
	c.link = l
	return l
}

func (c *Channel) attach(l *link, conn Conn) bool {
	if c.link != l || l.dead || c.leaving {
		return false
	}
	l.conn = conn
	c.attempt = 0
	c.beat.Stop()
	c.beat = c.loop.Every(c.heartbeat, c.ping)
	return true
}

// Connected reports whether a connection is currently open.
func (c *Channel) Connected() bool {
	return c.link != nil && c.link.conn != nil && !c.link.dead
}

// Send encodes env and writes it to the current connection.
func (c *Channel) Send(env Envelope) error {
	if !c.Connected() {
		return &TransportError{Op: "send " + string(env.Type()), Err: ErrNotConnected}
	}
	frame, err := Encode(env)
	if err != nil {
		return err
	}
	if err := c.link.conn.Send(frame); err != nil {
		return &TransportError{Op: "send " + string(env.Type()), Err: err}
	}
	c.log.Debug("sent", "type", env.Type())
	return nil
}

// Join sends join_room and remembers the room, so that a reconnect re-issues
// it. From here on an unexpected close triggers reconnection.
func (c *Channel) Join(roomID string) error {
	c.roomID = roomID
	return c.Send(JoinRoom{RoomID: roomID, UserName: c.name})
}

// SetName sets the preferred display name sent with join_room.
func (c *Channel) SetName(name string) {
	c.name = name
}

// Identify sets the participant id carried by heartbeats.
func (c *Channel) Identify(userID string) {
	c.userID = userID
}

// Close disables reconnection for good and closes the connection after
// flushing anything already sent.
func (c *Channel) Close() {
	if c.leaving {
		return
	}
	c.leaving = true
	c.retry.Stop()
	c.beat.Stop()
	c.cancel()
	if l := c.link; l != nil {
		l.dead = true
		c.link = nil
		if l.conn != nil {
			l.conn.Close()
		}
	}
}

func (c *Channel) ping() {
	if c.userID == "" || c.roomID == "" {
		return
	}
	if err := c.Send(Ping{UserID: c.userID, RoomID: c.roomID}); err != nil {
		c.log.Debug("heartbeat not sent", "error", err)
	}
}

func (c *Channel) receive(data []byte) {
	env, err := Decode(data)
	if err != nil {
		c.log.Warn("dropping envelope", "error", err)
		return
	}
	c.log.Debug("received", "type", env.Type())
	c.handlers.Envelope(env)
}

func (c *Channel) dropped(code int) {
	l := c.link
	c.link = nil
	l.dead = true
	if l.conn != nil {
		l.conn.Close()
	}
	c.beat.Stop()

	c.log.Info("connection closed", "code", code)
	c.handlers.Closed(code)

	if c.leaving || c.roomID == "" {
		return
	}
	c.scheduleReconnect()
}

func (c *Channel) scheduleReconnect() {
	c.attempt++
	if c.attempt > c.policy.MaxAttempts {
		err := &TransportError{Op: "reconnect", Attempt: c.policy.MaxAttempts, Err: ErrReconnectExhausted}
		c.log.Error("giving up", "error", err)
		c.handlers.Terminal(err)
		return
	}

	delay := c.policy.Delay(c.attempt)
	c.log.Info("reconnecting", "attempt", c.attempt, "delay", delay)
	c.handlers.Reconnecting(c.attempt, c.policy.MaxAttempts, delay)
	c.retry = c.loop.AfterFunc(delay, c.redial)
}

func (c *Channel) redial() {
	if c.leaving {
		return
	}
	l := c.newLink()
	attempt := c.attempt

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, dialTimeout)
		defer cancel()

		conn, err := c.dial(ctx, c.url, l.onMessage, l.onClose)
		if !c.loop.Post(func() { c.redialed(l, attempt, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (c *Channel) redialed(l *link, attempt int, conn Conn, err error) {
	if err != nil {
		if c.link != l || l.dead || c.leaving {
			return
		}
		c.link = nil
		l.dead = true
		c.log.Warn("reconnect failed", "error", &TransportError{Op: "reconnect", Attempt: attempt, Err: err})
		c.scheduleReconnect()
		return
	}

	if !c.attach(l, conn) {
		// Closed before it was attached, or we are leaving. A close that
		// arrived first has already scheduled the next attempt.
		conn.Close()
		return
	}

	c.log.Info("reconnected", "attempt", attempt)
	if err := c.Send(JoinRoom{RoomID: c.roomID, UserName: c.name}); err != nil {
		c.log.Warn("rejoin not sent", "error", err)
	}
	c.handlers.Reconnected()
}
