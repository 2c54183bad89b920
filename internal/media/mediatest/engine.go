// Package mediatest provides a recording media.Engine for tests.
package mediatest

import (
	"errors"
	"sync"

	"github.com/BioHazard786/huddle/internal/media"
	"github.com/pion/webrtc/v4"
)

var ErrRejected = errors.New("rejected by fake engine")

// ErrUnexpectedAnswer mirrors the error a real engine returns for an answer
// applied without an outstanding local offer.
var ErrUnexpectedAnswer = errors.New("answer without local offer")

// Engine records every session it creates. Set FailOffer or FailAnswer to
// make the next sessions reject negotiation.
type Engine struct {
	mu         sync.Mutex
	sessions   []*Session
	FailOffer  bool
	FailAnswer bool
	FailCreate bool
}

func (e *Engine) NewSession(peerID string, cb media.Callbacks) (media.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailCreate {
		return nil, ErrRejected
	}
	s := &Session{
		PeerID:     peerID,
		cb:         cb,
		failOffer:  e.FailOffer,
		failAnswer: e.FailAnswer,
	}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Sessions returns all sessions created so far, in creation order.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// For returns the sessions created for peerID, in creation order.
func (e *Engine) For(peerID string) []*Session {
	var out []*Session
	for _, s := range e.Sessions() {
		if s.PeerID == peerID {
			out = append(out, s)
		}
	}
	return out
}

// Session records calls as strings such as "offer", "remote:answer",
// "candidate:<candidate>" and "close".
type Session struct {
	PeerID string

	mu         sync.Mutex
	cb         media.Callbacks
	calls      []string
	remote     bool
	offered    bool
	closed     bool
	failOffer  bool
	failAnswer bool
	states     []media.MediaState
}

func (s *Session) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *Session) CreateOffer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("offer")
	if s.failOffer {
		return webrtc.SessionDescription{}, ErrRejected
	}
	s.offered = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + s.PeerID}, nil
}

func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("answer")
	if s.failAnswer {
		return webrtc.SessionDescription{}, ErrRejected
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + s.PeerID}, nil
}

func (s *Session) SetRemoteDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("remote:" + desc.Type.String())
	if desc.Type == webrtc.SDPTypeAnswer && (!s.offered || s.remote) {
		return ErrUnexpectedAnswer
	}
	s.remote = true
	return nil
}

func (s *Session) AddICECandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.remote {
		return errors.New("candidate before remote description")
	}
	s.record("candidate:" + c.Candidate)
	return nil
}

func (s *Session) SendMediaState(state media.MediaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.record("close")
	}
	s.closed = true
	return nil
}

// Calls returns the recorded calls.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SentStates returns the media states pushed over the control channel.
func (s *Session) SentStates() []media.MediaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.MediaState(nil), s.states...)
}

// SetState simulates a connection state notification from the engine.
func (s *Session) SetState(state webrtc.PeerConnectionState) {
	if cb := s.callbacks().OnStateChange; cb != nil {
		cb(state)
	}
}

// EmitCandidate simulates a locally gathered candidate.
func (s *Session) EmitCandidate(c webrtc.ICECandidateInit) {
	if cb := s.callbacks().OnICECandidate; cb != nil {
		cb(c)
	}
}

// EmitMediaState simulates a control message from the remote peer.
func (s *Session) EmitMediaState(state media.MediaState) {
	if cb := s.callbacks().OnMediaState; cb != nil {
		cb(state)
	}
}

// EmitTrack simulates a remote track arriving.
func (s *Session) EmitTrack(kind string) {
	if cb := s.callbacks().OnTrack; cb != nil {
		cb(kind)
	}
}

func (s *Session) callbacks() media.Callbacks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb
}
