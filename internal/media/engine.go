package media

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	ErrControlNotOpen = errors.New("control channel not open")
	ErrCaptureClosed  = errors.New("capture closed")
)

// Callbacks are invoked from engine goroutines, never from the caller's.
type Callbacks struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnStateChange  func(webrtc.PeerConnectionState)
	OnTrack        func(kind string)
	OnMediaState   func(MediaState)
}

// Engine creates one negotiated media session per remote participant.
type Engine interface {
	NewSession(peerID string, cb Callbacks) (Session, error)
}

// Session is the handle for one peer relationship. CreateOffer and
// CreateAnswer also apply the result as the local description.
type Session interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	SendMediaState(MediaState) error
	Close() error
}
