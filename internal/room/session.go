// Package room ties signaling, peer negotiation, typing presence and file
// transfer into one session object owned by a single loop.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/fileapi"
	"github.com/BioHazard786/huddle/internal/files"
	"github.com/BioHazard786/huddle/internal/loop"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/transfer"
	"github.com/BioHazard786/huddle/internal/typing"
	"golang.org/x/text/language"
)

var (
	ErrLeft          = errors.New("session has left the room")
	ErrNoFileService = errors.New("file service not configured")
)

const listTimeout = 10 * time.Second

type Config struct {
	URL    string
	RoomID string
	// Name is the preferred display name; empty lets the server choose.
	Name string

	SettleDelay time.Duration
	TypingIdle  time.Duration
	Heartbeat   time.Duration
	Policy      signaling.ReconnectPolicy

	UploadGap     time.Duration
	UploadTimeout time.Duration
	RefreshDelay  time.Duration

	Lang language.Tag
}

// ConfigFrom builds a session config for roomID from loaded settings.
func ConfigFrom(cfg *config.Config, roomID string) Config {
	return Config{
		URL:         cfg.Server,
		RoomID:      roomID,
		Name:        cfg.Name,
		SettleDelay: cfg.SettleDelay,
		TypingIdle:  cfg.TypingIdle,
		Heartbeat:   cfg.Heartbeat,
		Policy: signaling.ReconnectPolicy{
			MaxAttempts: cfg.ReconnectAttempts,
			Step:        cfg.ReconnectStep,
			Cap:         cfg.ReconnectCap,
		},
		UploadGap:     cfg.UploadGap,
		UploadTimeout: cfg.UploadTimeout,
		RefreshDelay:  cfg.RefreshDelay,
		Lang:          typing.ParseLang(cfg.Lang),
	}
}

// FileService is the HTTP side of file sharing. *fileapi.Client satisfies it.
type FileService interface {
	transfer.Uploader
	ListFiles(ctx context.Context, id fileapi.Identity) ([]signaling.FileEntry, error)
}

// MediaControl is the local capture shared by every peer session.
// *media.Capture satisfies it.
type MediaControl interface {
	SetAudioEnabled(on bool)
	SetVideoEnabled(on bool)
	State() media.MediaState
}

type Deps struct {
	Engine  media.Engine
	Capture MediaControl
	Files   FileService
	// Dial defaults to a websocket dialer.
	Dial   signaling.DialFunc
	Sink   Sink
	Logger *slog.Logger
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	RoomID    string
	SelfID    string
	SelfName  string
	Joined    bool
	Left      bool
	Connected bool
	Roster    []Participant
	Messages  []signaling.ChatEntry
	Typing    []string
	Peers     []peer.Info
	Uploads   []transfer.Task
	Files     []signaling.FileEntry
	Media     media.MediaState
}

// Session is one participant's view of a room. Exported methods may be
// called from any goroutine except the session's own loop; Join, Upload and
// Snapshot block until the loop has handled them.
type Session struct {
	cfg  Config
	log  *slog.Logger
	loop *loop.Loop
	sink Sink

	channel *signaling.Channel
	peers   *peer.Coordinator
	local   *typing.Local
	queue   *transfer.Queue
	files   FileService
	capture MediaControl

	// owned by the loop
	joined   bool
	left     bool
	selfID   string
	selfName string
	roster   roster
	chat     chatLog
	typists  typing.Set
	fileList []signaling.FileEntry
	settle   *loop.Timer
	listGen  int
}

func New(cfg Config, deps Deps) *Session {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = time.Second
	}
	if cfg.Lang == language.Und {
		cfg.Lang = language.English
	}
	sink := deps.Sink
	if sink == nil {
		sink = func(Event) {}
	}
	capture := deps.Capture
	if capture == nil {
		capture = &mediaFlags{state: media.MediaState{Audio: true, Video: true}}
	}

	s := &Session{
		cfg:     cfg,
		log:     log.With("component", "room", "room", cfg.RoomID),
		sink:    sink,
		files:   deps.Files,
		capture: capture,
	}
	s.loop = loop.New(log)

	s.channel = signaling.NewChannel(s.loop, signaling.ChannelConfig{
		URL:       cfg.URL,
		Policy:    cfg.Policy,
		Heartbeat: cfg.Heartbeat,
		Dial:      deps.Dial,
		Logger:    log,
	}, signaling.Handlers{
		Envelope:     s.handle,
		Closed:       s.onClosed,
		Reconnecting: s.onReconnecting,
		Reconnected:  s.onReconnected,
		Terminal:     s.onTerminal,
	})
	s.channel.SetName(cfg.Name)

	s.peers = peer.NewCoordinator(peer.Config{
		Loop:   s.loop,
		Engine: deps.Engine,
		Emit:   s.channel.Send,
		Events: peer.Events{
			StateChanged: func(id string, st peer.State) { s.emit(PeerStateChanged{PeerID: id, State: st}) },
			Detached:     func(id string) { s.emit(PeerDetached{PeerID: id}) },
			Track:        func(id, kind string) { s.emit(PeerTrack{PeerID: id, Kind: kind}) },
			Media:        func(id string, st media.MediaState) { s.emit(PeerMedia{PeerID: id, State: st}) },
		},
		Logger: log,
	})

	s.local = typing.NewLocal(s.loop, cfg.TypingIdle, s.sendTyping)

	var uploader transfer.Uploader
	if deps.Files != nil {
		uploader = deps.Files
	}
	s.queue = transfer.NewQueue(transfer.Config{
		Loop:         s.loop,
		Uploader:     uploader,
		Identity:     s.identity,
		Gap:          cfg.UploadGap,
		Timeout:      cfg.UploadTimeout,
		RefreshDelay: cfg.RefreshDelay,
		OnChange:     s.onUpload,
		OnRefresh:    s.refreshFiles,
		Logger:       log,
	})
	return s
}

// Run drives the session until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	err := s.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Join connects to the signaling server and asks to enter the room. The
// roster arrives later as a Joined event.
func (s *Session) Join(ctx context.Context) error {
	if err := s.channel.Connect(ctx); err != nil {
		return err
	}
	var err error
	if derr := s.loop.Do(ctx, func() {
		if s.left {
			err = ErrLeft
			return
		}
		s.log.Info("joining")
		err = s.channel.Join(s.cfg.RoomID)
	}); derr != nil {
		return derr
	}
	return err
}

// Leave sends leave_room once and releases every peer session, pending
// upload and the local capture. Later inbound envelopes are ignored.
func (s *Session) Leave() {
	s.loop.Post(s.leave)
}

// Close leaves the room, if the session has not already, and waits until
// the loop has released everything.
func (s *Session) Close(ctx context.Context) error {
	err := s.loop.Do(ctx, s.leave)
	if errors.Is(err, loop.ErrStopped) {
		return nil
	}
	return err
}

func (s *Session) leave() {
	if s.left {
		return
	}
	s.left = true

	if s.channel.Connected() {
		if err := s.channel.Send(signaling.LeaveRoom{RoomID: s.cfg.RoomID, UserID: s.selfID}); err != nil {
			s.log.Warn("leave not sent", "error", err)
		}
	}
	s.settle.Stop()
	s.local.Reset()
	s.typists.Clear()
	s.peers.CloseAll()
	s.queue.Stop()
	s.channel.Close()
	if c, ok := s.capture.(interface{ Close() }); ok {
		c.Close()
	}
	s.log.Info("left")
	s.emit(Left{})
}

// SendText sends a chat message. Blank messages are ignored. The message
// shows up in the log when the server echoes it.
func (s *Session) SendText(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	s.loop.Post(func() {
		if !s.active() {
			s.status(Warning, "not connected to a room")
			return
		}
		s.local.End()
		err := s.channel.Send(signaling.TextMessage{UserID: s.selfID, RoomID: s.cfg.RoomID, Content: content})
		if err != nil {
			s.log.Warn("message not sent", "error", err)
			s.status(Failure, "%s", "message not sent: "+err.Error())
		}
	})
}

// InputChanged reports an edit of the message input.
func (s *Session) InputChanged(content string) {
	s.loop.Post(func() {
		if s.active() {
			s.local.Input(content)
		}
	})
}

// InputBlurred reports that the message input lost focus.
func (s *Session) InputBlurred() {
	s.loop.Post(func() {
		if s.active() {
			s.local.Blur()
		}
	})
}

// Upload validates batch and queues the files that pass. The error, if
// any, is a *files.ValidationError listing every rejected file.
func (s *Session) Upload(batch []files.FileInfo) ([]transfer.TaskID, error) {
	if s.files == nil {
		return nil, ErrNoFileService
	}
	var (
		ids []transfer.TaskID
		err error
	)
	if derr := s.loop.Do(context.Background(), func() {
		if !s.active() {
			err = transfer.NewError("upload", transfer.ErrNotJoined)
			return
		}
		ids, err = s.queue.Enqueue(batch)
		var verr *files.ValidationError
		if errors.As(err, &verr) {
			for _, v := range verr.Violations {
				s.status(Failure, "%s", v.Error())
			}
		}
	}); derr != nil {
		return nil, derr
	}
	return ids, err
}

// AckUpload dismisses a finished upload.
func (s *Session) AckUpload(id transfer.TaskID) {
	s.loop.Post(func() { s.queue.Ack(id) })
}

// RefreshFiles fetches the room's file list from the server.
func (s *Session) RefreshFiles() {
	s.loop.Post(s.refreshFiles)
}

func (s *Session) SetAudioEnabled(on bool) {
	s.loop.Post(func() {
		s.capture.SetAudioEnabled(on)
		s.peers.BroadcastMediaState(s.capture.State())
	})
}

func (s *Session) SetVideoEnabled(on bool) {
	s.loop.Post(func() {
		s.capture.SetVideoEnabled(on)
		s.peers.BroadcastMediaState(s.capture.State())
	})
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.loop.Do(ctx, func() {
		snap = Snapshot{
			RoomID:    s.cfg.RoomID,
			SelfID:    s.selfID,
			SelfName:  s.selfName,
			Joined:    s.joined,
			Left:      s.left,
			Connected: s.channel.Connected(),
			Roster:    s.roster.list(),
			Messages:  s.chat.list(),
			Typing:    s.typists.IDs(),
			Peers:     s.peers.Peers(),
			Uploads:   s.queue.Tasks(),
			Files:     append([]signaling.FileEntry(nil), s.fileList...),
			Media:     s.capture.State(),
		}
	})
	return snap, err
}

func (s *Session) active() bool {
	return s.joined && !s.left
}

func (s *Session) identity() fileapi.Identity {
	return fileapi.Identity{RoomID: s.cfg.RoomID, UserID: s.selfID}
}

func (s *Session) emit(ev Event) {
	s.sink(ev)
}

func (s *Session) status(level Level, format string, args ...any) {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	s.emit(Status{Level: level, Text: text})
}

func (s *Session) sendTyping(on bool) {
	var env signaling.Envelope = signaling.TypingEnd{UserID: s.selfID, RoomID: s.cfg.RoomID}
	if on {
		env = signaling.TypingStart{UserID: s.selfID, RoomID: s.cfg.RoomID}
	}
	if err := s.channel.Send(env); err != nil {
		s.log.Debug("typing not sent", "error", err)
	}
}

func (s *Session) emitTyping() {
	ids := s.typists.IDs()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := s.roster.name(id); ok {
			names = append(names, name)
		}
	}
	s.emit(TypingChanged{IDs: ids, Line: typing.Render(s.cfg.Lang, names)})
}

func (s *Session) onUpload(t transfer.Task) {
	s.emit(UploadChanged{Task: t})
	switch t.Status {
	case transfer.Succeeded:
		s.status(Success, "uploaded %s", t.File.Name)
	case transfer.Failed:
		if !errors.Is(t.Err, transfer.ErrCancelled) {
			s.status(Failure, "%v", t.Err)
		}
	}
}

func (s *Session) refreshFiles() {
	if s.files == nil || !s.active() {
		return
	}
	s.listGen++
	gen := s.listGen
	id := s.identity()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
		defer cancel()
		list, err := s.files.ListFiles(ctx, id)
		s.loop.Post(func() {
			if s.left || gen != s.listGen {
				return
			}
			if err != nil {
				s.log.Warn("file list refresh failed", "error", err)
				s.status(Warning, "could not load the file list")
				return
			}
			s.fileList = list
			s.emit(FilesChanged{Files: append([]signaling.FileEntry(nil), list...)})
		})
	}()
}

func (s *Session) onClosed(code int) {
	if s.left {
		return
	}
	s.status(Warning, "connection lost (code %d)", code)
}

func (s *Session) onReconnecting(attempt, limit int, delay time.Duration) {
	if s.left {
		return
	}
	s.status(Warning, "reconnecting (%d/%d) in %s", attempt, limit, delay)
}

func (s *Session) onReconnected() {
	s.status(Success, "reconnected")
}

func (s *Session) onTerminal(err error) {
	if s.left {
		return
	}
	s.log.Error("session terminated", "error", err)
	s.emit(Terminal{Err: err})
}

// mediaFlags stands in for a capture when the session has no local media.
type mediaFlags struct {
	state media.MediaState
}

func (m *mediaFlags) SetAudioEnabled(on bool) { m.state.Audio = on }
func (m *mediaFlags) SetVideoEnabled(on bool) { m.state.Video = on }
func (m *mediaFlags) State() media.MediaState { return m.state }
