package relay

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/google/uuid"
)

var ErrStopped = errors.New("relay stopped")

const (
	DefaultHistorySize = 20
	DefaultHistoryKeep = 100
	DefaultIdleTimeout = 90 * time.Second
)

// storedFile is an upload held in memory.
type storedFile struct {
	signaling.FileEntry
	roomID string
	data   []byte
}

// room is a named group of clients, in join order.
type room struct {
	id       string
	members  []*client
	messages []signaling.ChatEntry
	typing   map[string]bool
	files    []*storedFile
}

func (r *room) member(userID string) *client {
	for _, c := range r.members {
		if c.userID == userID {
			return c
		}
	}
	return nil
}

// Hub is the single goroutine that owns every room and client.
type Hub struct {
	rooms   map[string]*room
	clients map[*client]bool

	register   chan *client
	unreg      chan *client
	broadcast  chan inbound
	calls      chan func()
	done       chan struct{}
	historyMax int
	keep       int
	idle       time.Duration
	log        *slog.Logger
	now        func() time.Time
}

type HubConfig struct {
	// HistorySize is how many recent messages a joiner receives.
	HistorySize int
	// HistoryKeep is how many messages a room retains.
	HistoryKeep int
	// IdleTimeout evicts clients that sent nothing for this long.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.HistoryKeep < cfg.HistorySize {
		cfg.HistoryKeep = max(DefaultHistoryKeep, cfg.HistorySize)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]*room),
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unreg:      make(chan *client),
		broadcast:  make(chan inbound),
		calls:      make(chan func()),
		done:       make(chan struct{}),
		historyMax: cfg.HistorySize,
		keep:       cfg.HistoryKeep,
		idle:       cfg.IdleTimeout,
		log:        cfg.Logger.With("component", "relay"),
		now:        time.Now,
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(h.idle / 3)
	defer sweep.Stop()
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			c.lastSeen = h.now()
			h.clients[c] = true
			h.log.Debug("client registered", "remote", c.conn.RemoteAddr())

		case c := <-h.unreg:
			if !h.clients[c] {
				continue
			}
			h.log.Debug("client unregistered", "remote", c.conn.RemoteAddr())
			h.depart(c, signaling.UserDisconnected{UserID: c.userID})
			delete(h.clients, c)
			h.close(c)

		case in := <-h.broadcast:
			if h.clients[in.client] {
				in.client.lastSeen = h.now()
				h.dispatch(in.client, in.data)
			}

		case fn := <-h.calls:
			fn()

		case <-sweep.C:
			h.evictIdle()

		case <-ctx.Done():
			for c := range h.clients {
				h.close(c)
			}
			return
		}
	}
}

func (h *Hub) unregister(c *client) {
	select {
	case h.unreg <- c:
	case <-h.done:
	}
}

func (h *Hub) receive(in inbound) bool {
	select {
	case h.broadcast <- in:
		return true
	case <-h.done:
		return false
	}
}

// exec runs fn on the hub goroutine and waits for it.
func (h *Hub) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.calls <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (h *Hub) dispatch(c *client, data []byte) {
	env, err := signaling.Decode(data)
	if err != nil {
		h.log.Warn("dropping envelope", "remote", c.conn.RemoteAddr(), "error", err)
		h.send(c, signaling.Error{Message: "malformed message"})
		return
	}

	switch e := env.(type) {
	case signaling.JoinRoom:
		h.join(c, e)
	case signaling.LeaveRoom:
		if c.roomID != "" && e.UserID == c.userID {
			h.depart(c, signaling.UserLeft{UserID: c.userID})
		}
	case signaling.Offer:
		h.forward(c, e.TargetUserID, data)
	case signaling.Answer:
		h.forward(c, e.TargetUserID, data)
	case signaling.ICECandidate:
		h.forward(c, e.TargetUserID, data)
	case signaling.TextMessage:
		h.chat(c, e)
	case signaling.TypingStart:
		h.typing(c, e.UserID, e.RoomID, true)
	case signaling.TypingEnd:
		h.typing(c, e.UserID, e.RoomID, false)
	case signaling.Ping:
		h.log.Debug("ping", "user", e.UserID, "room", e.RoomID)
	default:
		h.send(c, signaling.Error{Message: "unexpected message type " + string(env.Type())})
	}
}

func (h *Hub) join(c *client, e signaling.JoinRoom) {
	if e.RoomID == "" {
		h.send(c, signaling.Error{Message: "missing roomId"})
		return
	}
	if c.roomID != "" {
		h.depart(c, signaling.UserLeft{UserID: c.userID})
	}

	r, ok := h.rooms[e.RoomID]
	if !ok {
		r = &room{id: e.RoomID, typing: make(map[string]bool)}
		h.rooms[e.RoomID] = r
		h.log.Info("room created", "room", r.id)
	}

	c.roomID = r.id
	c.userID = uuid.NewString()[:8]
	c.userName = e.UserName
	if c.userName == "" {
		c.userName = DisplayName()
	}

	others := make([]signaling.UserInfo, 0, len(r.members))
	for _, m := range r.members {
		others = append(others, signaling.UserInfo{UserID: m.userID, UserName: m.userName})
	}
	r.members = append(r.members, c)
	h.log.Info("joined", "room", r.id, "user", c.userID, "name", c.userName)

	h.send(c, signaling.RoomUsers{UserID: c.userID, UserName: c.userName, Users: others})
	if len(r.messages) > 0 {
		from := max(0, len(r.messages)-h.historyMax)
		h.send(c, signaling.MessageHistory{Messages: slices.Clone(r.messages[from:])})
	}
	if len(r.files) > 0 {
		h.send(c, signaling.FileList{Files: r.fileEntries()})
	}
	h.roomcast(r, signaling.UserJoined{UserID: c.userID, UserName: c.userName}, c)
}

// depart removes c from its room and tells the others with notice.
func (h *Hub) depart(c *client, notice signaling.Envelope) {
	r, ok := h.rooms[c.roomID]
	c.roomID = ""
	if !ok {
		return
	}
	r.members = slices.DeleteFunc(r.members, func(m *client) bool { return m == c })
	delete(r.typing, c.userID)

	if len(r.members) == 0 {
		delete(h.rooms, r.id)
		h.log.Info("room deleted", "room", r.id)
		return
	}
	h.roomcast(r, notice, nil)
}

func (h *Hub) forward(c *client, target string, frame []byte) {
	r, ok := h.rooms[c.roomID]
	if !ok {
		h.send(c, signaling.Error{Message: "you must join a room first"})
		return
	}
	peer := r.member(target)
	if peer == nil {
		h.log.Debug("signal target gone", "room", r.id, "target", target)
		return
	}
	h.deliver(peer, frame)
}

func (h *Hub) chat(c *client, e signaling.TextMessage) {
	r, ok := h.rooms[c.roomID]
	if !ok || e.RoomID != c.roomID || e.UserID != c.userID {
		h.send(c, signaling.Error{Message: "not a member of that room"})
		return
	}
	if e.Content == "" {
		h.send(c, signaling.Error{Message: "empty message"})
		return
	}

	entry := signaling.ChatEntry{
		MessageID: uuid.NewString(),
		UserID:    c.userID,
		UserName:  c.userName,
		Content:   e.Content,
		Timestamp: h.now().UnixMilli(),
	}
	r.messages = append(r.messages, entry)
	if len(r.messages) > h.keep {
		r.messages = slices.Clone(r.messages[len(r.messages)-h.keep:])
	}

	h.roomcast(r, signaling.TextMessage{
		MessageID: entry.MessageID,
		UserID:    entry.UserID,
		UserName:  entry.UserName,
		Content:   entry.Content,
		Timestamp: entry.Timestamp,
	}, nil)
}

func (h *Hub) typing(c *client, userID, roomID string, on bool) {
	r, ok := h.rooms[c.roomID]
	if !ok || userID != c.userID || (roomID != "" && roomID != c.roomID) {
		return
	}
	if r.typing[userID] == on {
		return
	}
	if on {
		r.typing[userID] = true
		h.roomcast(r, signaling.TypingStart{UserID: userID}, c)
		return
	}
	delete(r.typing, userID)
	h.roomcast(r, signaling.TypingEnd{UserID: userID}, c)
}

func (h *Hub) evictIdle() {
	cutoff := h.now().Add(-h.idle)
	for c := range h.clients {
		if c.lastSeen.Before(cutoff) {
			h.log.Info("evicting idle client", "user", c.userID, "room", c.roomID)
			h.close(c)
		}
	}
}

// roomcast sends env to every member of r except skip.
func (h *Hub) roomcast(r *room, env signaling.Envelope, skip *client) {
	frame, err := signaling.Encode(env)
	if err != nil {
		h.log.Error("encode failed", "type", env.Type(), "error", err)
		return
	}
	for _, m := range r.members {
		if m != skip {
			h.deliver(m, frame)
		}
	}
}

func (h *Hub) send(c *client, env signaling.Envelope) {
	frame, err := signaling.Encode(env)
	if err != nil {
		h.log.Error("encode failed", "type", env.Type(), "error", err)
		return
	}
	h.deliver(c, frame)
}

// deliver queues frame for c, dropping the client if it cannot keep up.
func (h *Hub) deliver(c *client, frame []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.log.Warn("client too slow, closing", "user", c.userID)
		h.close(c)
	}
}

// close ends c's write pump. The read pump then fails and unregisters.
func (h *Hub) close(c *client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (r *room) fileEntries() []signaling.FileEntry {
	out := make([]signaling.FileEntry, len(r.files))
	for i, f := range r.files {
		out[len(r.files)-1-i] = f.FileEntry
	}
	return out
}
