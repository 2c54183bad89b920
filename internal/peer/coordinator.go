package peer

import (
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/BioHazard786/huddle/internal/loop"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Events are notifications for the UI layer. They carry peer ids only.
type Events struct {
	StateChanged func(peerID string, state State)
	Detached     func(peerID string)
	Track        func(peerID, kind string)
	Media        func(peerID string, state media.MediaState)
}

type Config struct {
	Loop   *loop.Loop
	Engine media.Engine
	// Emit sends an envelope to the session server.
	Emit   func(signaling.Envelope) error
	Events Events
	Logger *slog.Logger
}

// session is one entry in the arena. A removed session is never reused.
type session struct {
	id        string
	handle    media.Session
	state     State
	offered   bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	media     media.MediaState
}

// Info is a read-only view of one peer session.
type Info struct {
	ID    string
	State State
	Media media.MediaState
}

// Coordinator runs one negotiation state machine per remote participant.
// All methods must be called on the loop.
type Coordinator struct {
	loop   *loop.Loop
	engine media.Engine
	emit   func(signaling.Envelope) error
	events Events
	log    *slog.Logger

	selfID string
	peers  map[string]*session
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ev := cfg.Events
	if ev.StateChanged == nil {
		ev.StateChanged = func(string, State) {}
	}
	if ev.Detached == nil {
		ev.Detached = func(string) {}
	}
	if ev.Track == nil {
		ev.Track = func(string, string) {}
	}
	if ev.Media == nil {
		ev.Media = func(string, media.MediaState) {}
	}
	return &Coordinator{
		loop:   cfg.Loop,
		engine: cfg.Engine,
		emit:   cfg.Emit,
		events: ev,
		log:    cfg.Logger.With("component", "peer"),
		peers:  make(map[string]*session),
	}
}

// SetSelf sets the participant id stamped on outbound envelopes.
func (c *Coordinator) SetSelf(id string) {
	c.selfID = id
}

// Initiate opens a session toward peerID as the offerer and sends the offer.
// An existing session for the same id is replaced.
func (c *Coordinator) Initiate(peerID string) error {
	if peerID == c.selfID {
		return nil
	}
	c.Remove(peerID)

	s, err := c.create(peerID)
	if err != nil {
		return c.fail("initiate", peerID, err)
	}

	offer, err := s.handle.CreateOffer()
	if err != nil {
		return c.fail("create offer", peerID, err)
	}
	s.offered = true

	c.log.Debug("sending offer", "peer", peerID)
	return c.emit(signaling.Offer{TargetUserID: peerID, UserID: c.selfID, Offer: offer})
}

// HandleOffer answers a remote offer, creating the session if needed.
func (c *Coordinator) HandleOffer(peerID string, offer webrtc.SessionDescription) error {
	s := c.peers[peerID]
	if s != nil && s.offered && !s.remoteSet {
		// Both sides offered. The lower id yields and answers; the higher id
		// keeps its offer and waits for that answer.
		if !yields(c.selfID, peerID) {
			c.log.Info("offer collision, keeping local offer", "peer", peerID)
			return nil
		}
		c.log.Info("offer collision, answering remote offer", "peer", peerID)
		c.Remove(peerID)
		s = nil
	}
	if s == nil {
		var err error
		if s, err = c.create(peerID); err != nil {
			return c.fail("accept offer", peerID, err)
		}
	}

	if err := s.handle.SetRemoteDescription(offer); err != nil {
		return c.fail("apply offer", peerID, err)
	}
	s.remoteSet = true
	c.flush(s)

	answer, err := s.handle.CreateAnswer()
	if err != nil {
		return c.fail("create answer", peerID, err)
	}

	c.log.Debug("sending answer", "peer", peerID)
	return c.emit(signaling.Answer{TargetUserID: peerID, UserID: c.selfID, Answer: answer})
}

// HandleAnswer applies the answer to our earlier offer. An answer for an
// unknown peer, or one that arrives when no offer is outstanding, is logged
// and returned as a *StaleReferenceError.
func (c *Coordinator) HandleAnswer(peerID string, answer webrtc.SessionDescription) error {
	s := c.peers[peerID]
	if s == nil || !s.offered || s.remoteSet {
		return c.stale("answer", peerID)
	}

	if err := s.handle.SetRemoteDescription(answer); err != nil {
		return c.fail("apply answer", peerID, err)
	}
	s.remoteSet = true
	c.flush(s)
	return nil
}

// HandleICECandidate applies a remote candidate, or buffers it until the
// remote description is set.
func (c *Coordinator) HandleICECandidate(peerID string, cand webrtc.ICECandidateInit) error {
	s := c.peers[peerID]
	if s == nil {
		return c.stale("ice candidate", peerID)
	}

	if !s.remoteSet {
		s.pending = append(s.pending, cand)
		return nil
	}
	c.apply(s, cand)
	return nil
}

// Remove closes and evicts the session for peerID and tells the UI to
// detach it. Removing an unknown peer does nothing.
func (c *Coordinator) Remove(peerID string) {
	s, ok := c.peers[peerID]
	if !ok {
		return
	}
	delete(c.peers, peerID)

	s.state = StateClosed
	s.pending = nil
	if err := s.handle.Close(); err != nil {
		c.log.Debug("close session", "peer", peerID, "error", err)
	}
	c.log.Info("peer removed", "peer", peerID)
	c.events.StateChanged(peerID, StateClosed)
	c.events.Detached(peerID)
}

// CloseAll removes every session.
func (c *Coordinator) CloseAll() {
	for _, id := range slices.Sorted(maps.Keys(c.peers)) {
		c.Remove(id)
	}
}

// BroadcastMediaState tells every connected peer about our track state.
func (c *Coordinator) BroadcastMediaState(state media.MediaState) {
	for id, s := range c.peers {
		if err := s.handle.SendMediaState(state); err != nil && !errors.Is(err, media.ErrControlNotOpen) {
			c.log.Warn("media state not sent", "peer", id, "error", err)
		}
	}
}

// Has reports whether a session exists for peerID.
func (c *Coordinator) Has(peerID string) bool {
	_, ok := c.peers[peerID]
	return ok
}

// Peers returns every live session ordered by id.
func (c *Coordinator) Peers() []Info {
	out := make([]Info, 0, len(c.peers))
	for _, id := range slices.Sorted(maps.Keys(c.peers)) {
		s := c.peers[id]
		out = append(out, Info{ID: id, State: s.state, Media: s.media})
	}
	return out
}

// yields reports whether self gives up its own offer when both sides offered.
func yields(selfID, peerID string) bool {
	return selfID < peerID
}

func (c *Coordinator) create(peerID string) (*session, error) {
	s := &session{id: peerID, state: StateNew}

	// Engine callbacks arrive on engine goroutines. Each one is moved onto
	// the loop and dropped if the session has since been replaced.
	onLoop := func(fn func()) {
		c.loop.Post(func() {
			if c.peers[peerID] != s {
				return
			}
			fn()
		})
	}

	handle, err := c.engine.NewSession(peerID, media.Callbacks{
		OnICECandidate: func(cand webrtc.ICECandidateInit) {
			onLoop(func() {
				err := c.emit(signaling.ICECandidate{TargetUserID: peerID, UserID: c.selfID, Candidate: cand})
				if err != nil {
					c.log.Debug("candidate not sent", "peer", peerID, "error", err)
				}
			})
		},
		OnStateChange: func(state webrtc.PeerConnectionState) {
			onLoop(func() { c.transition(s, state) })
		},
		OnTrack: func(kind string) {
			onLoop(func() { c.events.Track(peerID, kind) })
		},
		OnMediaState: func(state media.MediaState) {
			onLoop(func() {
				s.media = state
				c.events.Media(peerID, state)
			})
		},
	})
	if err != nil {
		return nil, err
	}

	s.handle = handle
	c.peers[peerID] = s
	c.events.StateChanged(peerID, StateNew)
	return s, nil
}

func (c *Coordinator) transition(s *session, engineState webrtc.PeerConnectionState) {
	next, ok := fromEngine(engineState)
	if !ok || next == s.state {
		return
	}

	c.log.Info("peer state", "peer", s.id, "from", s.state, "to", next)
	s.state = next
	c.events.StateChanged(s.id, next)

	if next == StateDisconnected || next == StateFailed {
		c.Remove(s.id)
	}
}

func (c *Coordinator) flush(s *session) {
	pending := s.pending
	s.pending = nil
	for _, cand := range pending {
		c.apply(s, cand)
	}
}

func (c *Coordinator) apply(s *session, cand webrtc.ICECandidateInit) {
	if err := s.handle.AddICECandidate(cand); err != nil {
		c.log.Warn("candidate rejected", "peer", s.id, "error", err)
	}
}

func (c *Coordinator) fail(op, peerID string, err error) error {
	c.Remove(peerID)
	nerr := &NegotiationError{Op: op, PeerID: peerID, Err: err}
	c.log.Error("negotiation failed", "error", nerr)
	return nerr
}

func (c *Coordinator) stale(op, peerID string) error {
	err := &StaleReferenceError{Op: op, PeerID: peerID}
	c.log.Warn("stale peer reference", "error", err)
	return err
}
