package room

import (
	"errors"
	"slices"

	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/signaling"
)

// handle dispatches one inbound envelope. Every envelope type is listed;
// after leaving nothing is handled.
func (s *Session) handle(env signaling.Envelope) {
	if s.left {
		s.log.Debug("ignoring envelope after leave", "type", env.Type())
		return
	}

	switch e := env.(type) {
	case signaling.RoomUsers:
		s.onRoomUsers(e)
	case signaling.UserJoined:
		s.onUserJoined(e)
	case signaling.UserLeft:
		s.onUserGone(e.UserID, "%s left the room", Info)
	case signaling.UserDisconnected:
		s.onUserGone(e.UserID, "%s disconnected unexpectedly", Warning)
	case signaling.Offer:
		if s.requireJoined(e) {
			s.negotiated(e.UserID, s.peers.HandleOffer(e.UserID, e.Offer))
		}
	case signaling.Answer:
		if s.requireJoined(e) {
			s.negotiated(e.UserID, s.peers.HandleAnswer(e.UserID, e.Answer))
		}
	case signaling.ICECandidate:
		if s.requireJoined(e) {
			s.negotiated(e.UserID, s.peers.HandleICECandidate(e.UserID, e.Candidate))
		}
	case signaling.TextMessage:
		s.onText(e)
	case signaling.MessageHistory:
		s.chat.replace(e.Messages)
		s.emit(HistoryReplaced{Messages: s.chat.list()})
	case signaling.TypingStart:
		if s.typists.Start(e.UserID) {
			s.emitTyping()
		}
	case signaling.TypingEnd:
		if s.typists.Stop(e.UserID) {
			s.emitTyping()
		}
	case signaling.Error:
		s.log.Warn("server error", "message", e.Message)
		s.status(Failure, "error: %s", e.Message)
	case signaling.FileUploaded:
		s.status(Info, "%s uploaded %s", e.Uploader(), e.Filename)
		s.refreshFiles()
	case signaling.FileList:
		s.fileList = append([]signaling.FileEntry(nil), e.Files...)
		s.emit(FilesChanged{Files: append([]signaling.FileEntry(nil), e.Files...)})
	case signaling.JoinRoom, signaling.LeaveRoom, signaling.Ping:
		s.log.Debug("ignoring client envelope", "type", e.Type())
	default:
		s.log.Warn("unhandled envelope", "type", env.Type())
	}
}

func (s *Session) onRoomUsers(e signaling.RoomUsers) {
	rejoin := s.joined
	if rejoin {
		// The server hands out a fresh id on every join, so every
		// relationship built under the old one is void.
		s.log.Info("rejoined, resetting peers", "old", s.selfID, "new", e.UserID)
		s.settle.Stop()
		s.peers.CloseAll()
		s.local.Reset()
		if s.typists.Clear() {
			s.emitTyping()
		}
	}

	s.joined = true
	s.selfID = e.UserID
	s.selfName = e.UserName
	s.channel.Identify(e.UserID)
	s.peers.SetSelf(e.UserID)
	s.typists.SetSelf(e.UserID)
	s.roster.reset(e.UserID, e.UserName, e.Users)

	s.log.Info("joined", "self", e.UserID, "name", e.UserName, "participants", len(e.Users))
	s.emit(Joined{RoomID: s.cfg.RoomID, SelfID: e.UserID, SelfName: e.UserName, Rejoin: rejoin})
	s.emit(RosterChanged{Roster: s.roster.list()})

	existing := s.roster.others()
	s.settle = s.loop.AfterFunc(s.cfg.SettleDelay, func() { s.initiate(existing) })
	s.refreshFiles()
}

// initiate offers to every participant that was present when we joined and
// is still here. Later joiners offer to us instead.
func (s *Session) initiate(ids []string) {
	if s.left {
		return
	}
	current := s.roster.others()
	for _, id := range ids {
		if !slices.Contains(current, id) || s.peers.Has(id) {
			continue
		}
		s.negotiated(id, s.peers.Initiate(id))
	}
}

func (s *Session) onUserJoined(e signaling.UserJoined) {
	if !s.roster.add(e.UserID, e.UserName) {
		return
	}
	s.emit(RosterChanged{Roster: s.roster.list()})
	s.status(Info, "%s joined the room", e.UserName)
}

func (s *Session) onUserGone(id, format string, level Level) {
	p, ok := s.roster.remove(id)
	s.peers.Remove(id)
	if s.typists.Stop(id) {
		s.emitTyping()
	}
	if !ok {
		return
	}
	s.emit(RosterChanged{Roster: s.roster.list()})
	s.status(level, format, p.Name)
}

func (s *Session) onText(e signaling.TextMessage) {
	entry := signaling.ChatEntry{
		MessageID: e.MessageID,
		UserID:    e.UserID,
		UserName:  e.UserName,
		Content:   e.Content,
		Timestamp: e.Timestamp,
	}
	if entry.UserName == "" {
		entry.UserName, _ = s.roster.name(e.UserID)
	}
	if !s.chat.append(entry) {
		return
	}
	s.emit(ChatAppended{Message: entry, Own: e.UserID != "" && e.UserID == s.selfID})
}

func (s *Session) requireJoined(env signaling.Envelope) bool {
	if s.joined {
		return true
	}
	s.log.Warn("negotiation before join", "type", env.Type())
	return false
}

// negotiated reports a failed negotiation step. Stale references are
// expected under churn and were already logged by the coordinator.
func (s *Session) negotiated(peerID string, err error) {
	if err == nil {
		return
	}
	var stale *peer.StaleReferenceError
	if errors.As(err, &stale) {
		return
	}
	name, ok := s.roster.name(peerID)
	if !ok {
		name = peerID
	}
	var nerr *peer.NegotiationError
	if errors.As(err, &nerr) {
		s.status(Failure, "connection to %s failed", name)
		return
	}
	s.log.Warn("signaling send failed", "peer", peerID, "error", err)
	s.status(Warning, "could not reach %s", name)
}
