package media

import (
	"fmt"
	"log/slog"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/utils"
	"github.com/pion/webrtc/v4"
)

// controlChannelID is the pre-negotiated id of the control data channel.
// Both sides create it, so neither has to wait for an OnDataChannel.
const controlChannelID uint16 = 0

// PionEngine builds sessions on pion peer connections sharing one Capture.
type PionEngine struct {
	rtc     webrtc.Configuration
	capture *Capture
	log     *slog.Logger
}

func NewPionEngine(cfg *config.Config, capture *Capture, log *slog.Logger) *PionEngine {
	if log == nil {
		log = slog.Default()
	}
	return &PionEngine{
		rtc:     RTCConfiguration(cfg),
		capture: capture,
		log:     log.With("component", "media"),
	}
}

// RTCConfiguration derives ICE servers and transport policy from cfg.
func RTCConfiguration(cfg *config.Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || utils.ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

func (e *PionEngine) NewSession(peerID string, cb Callbacks) (Session, error) {
	pc, err := webrtc.NewPeerConnection(e.rtc)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	for _, track := range e.capture.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("attach %s track: %w", track.Kind(), err)
		}
	}

	negotiated := true
	id := controlChannelID
	dc, err := pc.CreateDataChannel("control", &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create control channel: %w", err)
	}

	s := &pionSession{pc: pc, dc: dc}
	log := e.log.With("peer", peerID)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || cb.OnICECandidate == nil {
			return
		}
		cb.OnICECandidate(c.ToJSON())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("connection state", "state", state)
		if cb.OnStateChange != nil {
			cb.OnStateChange(state)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := track.Kind().String()
		log.Debug("remote track", "kind", kind, "codec", track.Codec().MimeType)
		if cb.OnTrack != nil {
			cb.OnTrack(kind)
		}
		// Nothing renders remote media here; keep the receive buffers moving.
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})

	dc.OnOpen(func() {
		if err := s.SendMediaState(e.capture.State()); err != nil {
			log.Debug("initial media state not sent", "error", err)
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		state, ok, err := DecodeControl(msg.Data)
		if err != nil {
			log.Warn("bad control message", "error", err)
			return
		}
		if ok && cb.OnMediaState != nil {
			cb.OnMediaState(state)
		}
	})

	return s, nil
}

type pionSession struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
}

func (s *pionSession) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

func (s *pionSession) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

func (s *pionSession) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (s *pionSession) AddICECandidate(c webrtc.ICECandidateInit) error {
	if err := s.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (s *pionSession) SendMediaState(state MediaState) error {
	if s.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrControlNotOpen
	}
	data, err := EncodeMediaState(state)
	if err != nil {
		return err
	}
	return s.dc.Send(data)
}

func (s *pionSession) Close() error {
	return s.pc.Close()
}
