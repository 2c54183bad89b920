package room

import (
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/transfer"
)

// Event is something the UI should react to. The set of events is closed.
type Event interface {
	event()
}

// Sink receives events on the session loop. It must not block.
type Sink func(Event)

// Joined is emitted when the roster snapshot arrives, including after a
// rejoin.
type Joined struct {
	RoomID   string
	SelfID   string
	SelfName string
	Rejoin   bool
}

type RosterChanged struct {
	Roster []Participant
}

type ChatAppended struct {
	Message signaling.ChatEntry
	Own     bool
}

type HistoryReplaced struct {
	Messages []signaling.ChatEntry
}

// TypingChanged carries the participants currently typing and the rendered
// line, which is empty when nobody is.
type TypingChanged struct {
	IDs  []string
	Line string
}

type PeerStateChanged struct {
	PeerID string
	State  peer.State
}

type PeerDetached struct {
	PeerID string
}

type PeerTrack struct {
	PeerID string
	Kind   string
}

type PeerMedia struct {
	PeerID string
	State  media.MediaState
}

type UploadChanged struct {
	Task transfer.Task
}

type FilesChanged struct {
	Files []signaling.FileEntry
}

type Level int

const (
	Info Level = iota
	Success
	Warning
	Failure
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Failure:
		return "error"
	}
	return "info"
}

// Status is a transient message for the user.
type Status struct {
	Level Level
	Text  string
}

// Terminal means the session cannot continue without a manual restart.
type Terminal struct {
	Err error
}

type Left struct{}

func (Joined) event()           {}
func (RosterChanged) event()    {}
func (ChatAppended) event()     {}
func (HistoryReplaced) event()  {}
func (TypingChanged) event()    {}
func (PeerStateChanged) event() {}
func (PeerDetached) event()     {}
func (PeerTrack) event()        {}
func (PeerMedia) event()        {}
func (UploadChanged) event()    {}
func (FilesChanged) event()     {}
func (Status) event()           {}
func (Terminal) event()         {}
func (Left) event()             {}
