package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/huddle/internal/files"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/room"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/transfer"
	"github.com/BioHazard786/huddle/internal/utils"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sidebarWidth = 30
	maxLines     = 1000
)

const helpText = "/upload <paths>  /files  /mute  /unmute  /video  /clear  /quit"

// Controller is what the room screen drives. *room.Session satisfies it.
type Controller interface {
	SendText(content string)
	InputChanged(content string)
	InputBlurred()
	Upload(batch []files.FileInfo) ([]transfer.TaskID, error)
	AckUpload(id transfer.TaskID)
	RefreshFiles()
	SetAudioEnabled(on bool)
	SetVideoEnabled(on bool)
	Leave()
}

// Room runs the interactive room screen. Create it before the session so
// its Sink can be handed to room.New.
type Room struct {
	box   *mailbox
	model *roomModel
}

func NewRoom(roomID string) *Room {
	box := newMailbox()
	return &Room{box: box, model: newRoomModel(roomID, box)}
}

// Sink queues ev for the screen. It never blocks.
func (r *Room) Sink(ev room.Event) {
	r.box.put(ev)
}

// Run shows the screen until the user leaves, the session ends or ctx is
// cancelled. It returns the session's terminal error, if there was one.
func (r *Room) Run(ctx context.Context, ctl Controller) error {
	r.model.ctl = ctl
	defer r.box.close()

	p := tea.NewProgram(r.model, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if m, ok := final.(*roomModel); ok && m.fatal != nil {
		return m.fatal
	}
	return nil
}

// mailbox is an unbounded queue from the session loop to the screen.
type mailbox struct {
	mu     sync.Mutex
	queue  []room.Event
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1), closed: make(chan struct{})}
}

func (b *mailbox) put(ev room.Event) {
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *mailbox) take() []room.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue
	b.queue = nil
	return q
}

func (b *mailbox) close() {
	b.once.Do(func() { close(b.closed) })
}

// eventsMsg carries a batch of session events into Update.
type eventsMsg []room.Event

type uploadQueuedMsg struct {
	ids []transfer.TaskID
	err error
}

func (b *mailbox) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-b.ready:
			return eventsMsg(b.take())
		case <-b.closed:
			return nil
		}
	}
}

type peerView struct {
	state  peer.State
	media  media.MediaState
	known  bool // media state received
	tracks map[string]bool
}

type roomModel struct {
	ctl Controller
	box *mailbox

	roomID    string
	selfID    string
	selfName  string
	joined    bool
	connected bool
	audio     bool
	video     bool

	roster    []room.Participant
	peers     map[string]*peerView
	lines     []string
	typing    string
	files     []signaling.FileEntry
	showFiles bool
	uploads   *UploadsModel
	fatal     error

	input    textinput.Model
	chat     viewport.Model
	spinner  spinner.Model
	width    int
	height   int
	quitting bool
	now      func() time.Time
}

func newRoomModel(roomID string, box *mailbox) *roomModel {
	in := textinput.New()
	in.Placeholder = "Type a message or /help"
	in.CharLimit = 2000
	in.Prompt = "> "
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &roomModel{
		box:     box,
		roomID:  roomID,
		audio:   true,
		video:   true,
		peers:   make(map[string]*peerView),
		uploads: NewUploadsModel(),
		input:   in,
		chat:    viewport.New(80, 20),
		spinner: s,
		width:   80,
		height:  24,
		now:     time.Now,
	}
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.box.listen())
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, m.quit()
		case tea.KeyEnter:
			if !m.input.Focused() {
				break
			}
			cmd := m.submit(m.input.Value())
			m.input.SetValue("")
			m.layout()
			return m, cmd
		case tea.KeyTab:
			if m.input.Focused() {
				m.input.Blur()
				m.ctl.InputBlurred()
			} else {
				cmds = append(cmds, m.input.Focus())
			}
			return m, tea.Batch(cmds...)
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.chat, cmd = m.chat.Update(msg)
			return m, cmd
		}

		if m.input.Focused() {
			before := m.input.Value()
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			if after := m.input.Value(); after != before {
				m.ctl.InputChanged(after)
			}
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.uploads.SetWidth(msg.Width)
		m.layout()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case eventsMsg:
		for _, ev := range msg {
			m.apply(ev)
		}
		m.layout()
		if m.quitting {
			return m, tea.Quit
		}
		cmds = append(cmds, m.box.listen())

	case uploadQueuedMsg:
		var verr *files.ValidationError
		if msg.err != nil && !errors.As(msg.err, &verr) {
			m.system(room.Failure, msg.err.Error())
		}
		m.layout()

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *roomModel) quit() tea.Cmd {
	m.quitting = true
	m.ctl.Leave()
	return tea.Quit
}

// submit handles one line of input: a slash command or a chat message.
func (m *roomModel) submit(line string) tea.Cmd {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		m.ctl.SendText(line)
		return nil
	}
	// A command is not chat, so the typing it started ends here.
	m.ctl.InputChanged("")

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/leave", "/exit":
		return m.quit()
	case "/help":
		m.system(room.Info, helpText)
	case "/mute":
		m.audio = false
		m.ctl.SetAudioEnabled(false)
	case "/unmute":
		m.audio = true
		m.ctl.SetAudioEnabled(true)
	case "/video":
		m.video = !m.video
		m.ctl.SetVideoEnabled(m.video)
	case "/files":
		m.showFiles = !m.showFiles
		if m.showFiles {
			m.ctl.RefreshFiles()
		}
	case "/clear":
		for _, id := range m.uploads.Finished() {
			m.ctl.AckUpload(id)
			m.uploads.Remove(id)
		}
	case "/upload":
		return m.upload(fields[1:])
	default:
		m.system(room.Warning, "unknown command "+fields[0]+"; try /help")
	}
	return nil
}

func (m *roomModel) upload(paths []string) tea.Cmd {
	if len(paths) == 0 {
		m.system(room.Warning, "usage: /upload <path> [path...]")
		return nil
	}
	infos, err := files.Inspect(paths)
	var verr *files.ValidationError
	if errors.As(err, &verr) {
		for _, v := range verr.Violations {
			m.system(room.Failure, v.Error())
		}
	}
	if len(infos) == 0 {
		return nil
	}
	noun := "files"
	if len(infos) == 1 {
		noun = "file"
	}
	m.system(room.Info, fmt.Sprintf("queueing %d %s (%s)", len(infos), noun, utils.FormatSize(files.GetTotalSize(infos))))
	ctl := m.ctl
	return func() tea.Msg {
		ids, err := ctl.Upload(infos)
		return uploadQueuedMsg{ids: ids, err: err}
	}
}

// apply folds one session event into the screen state.
func (m *roomModel) apply(ev room.Event) {
	switch e := ev.(type) {
	case room.Joined:
		m.selfID, m.selfName = e.SelfID, e.SelfName
		m.joined, m.connected = true, true
		if e.Rejoin {
			clear(m.peers)
			m.system(room.Success, "rejoined "+e.RoomID)
		} else {
			m.system(room.Success, fmt.Sprintf("joined %s as %s", e.RoomID, e.SelfName))
		}
	case room.RosterChanged:
		m.roster = e.Roster
	case room.ChatAppended:
		m.appendLine(m.chatLine(e.Message, e.Own))
	case room.HistoryReplaced:
		m.lines = m.lines[:0]
		for _, msg := range e.Messages {
			m.appendLine(m.chatLine(msg, msg.UserID == m.selfID))
		}
	case room.TypingChanged:
		m.typing = e.Line
	case room.PeerStateChanged:
		m.peer(e.PeerID).state = e.State
	case room.PeerDetached:
		delete(m.peers, e.PeerID)
	case room.PeerTrack:
		m.peer(e.PeerID).tracks[e.Kind] = true
	case room.PeerMedia:
		p := m.peer(e.PeerID)
		p.media, p.known = e.State, true
	case room.UploadChanged:
		m.uploads.Set(e.Task)
	case room.FilesChanged:
		m.files = e.Files
	case room.Status:
		if strings.HasPrefix(e.Text, "connection lost") || strings.HasPrefix(e.Text, "reconnecting") {
			m.connected = false
		} else if e.Text == "reconnected" {
			m.connected = true
		}
		m.system(e.Level, e.Text)
	case room.Terminal:
		m.connected = false
		m.fatal = e.Err
		m.quitting = true
	case room.Left:
		m.quitting = true
	}
}

func (m *roomModel) peer(id string) *peerView {
	p, ok := m.peers[id]
	if !ok {
		p = &peerView{tracks: make(map[string]bool)}
		m.peers[id] = p
	}
	return p
}

func (m *roomModel) chatLine(msg signaling.ChatEntry, own bool) string {
	stamp := MutedStyle.Render(time.UnixMilli(msg.Timestamp).In(m.now().Location()).Format("15:04"))
	name := PeerNameStyle.Render(msg.UserName)
	if own {
		name = SelfStyle.Render(msg.UserName)
	}
	return fmt.Sprintf("%s %s: %s", stamp, name, msg.Content)
}

func (m *roomModel) system(level room.Level, text string) {
	style := MutedStyle
	switch level {
	case room.Success:
		style = SuccessStyle
	case room.Warning:
		style = WarningStyle
	case room.Failure:
		style = ErrorStyle
	}
	m.appendLine(style.Render("* " + text))
}

func (m *roomModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	atBottom := m.chat.AtBottom()
	m.chat.SetContent(strings.Join(m.lines, "\n"))
	if atBottom {
		m.chat.GotoBottom()
	}
}

// layout sizes the chat pane to whatever the other panels leave over.
func (m *roomModel) layout() {
	used := 1 + 1 + 3 + 1 // header, typing line, input box, footer
	if n := m.uploads.Len(); n > 0 {
		used += n + 1
	}
	if m.showFiles {
		used += lipgloss.Height(FilesView(m.files, m.now()))
	}
	m.chat.Width = max(20, m.width-sidebarWidth-2)
	m.chat.Height = max(3, m.height-used)
	m.input.Width = max(10, m.width-8)
}

func (m *roomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")

	chat := lipgloss.NewStyle().Width(m.chat.Width).Render(m.chat.View())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, chat, m.sidebarView()))
	b.WriteString("\n")

	if m.typing != "" {
		b.WriteString(MutedStyle.Italic(true).Render(IconTyping + " " + m.typing))
	}
	b.WriteString("\n")

	if m.uploads.Len() > 0 {
		b.WriteString(BoldStyle.Render("Uploads") + "\n")
		b.WriteString(m.uploads.View(m.spinner.View()))
	}
	if m.showFiles {
		b.WriteString(FilesView(m.files, m.now()) + "\n")
	}

	b.WriteString(InputStyle.Width(max(10, m.width-4)).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render("enter send · tab focus · pgup/pgdn scroll · esc leave · /help"))
	return b.String()
}

func (m *roomModel) headerView() string {
	state := SuccessStyle.Render("connected")
	switch {
	case !m.joined:
		state = m.spinner.View() + " joining"
	case !m.connected:
		state = WarningStyle.Render(m.spinner.View() + " reconnecting")
	}

	mic, cam := IconMic, IconCamera+" on"
	if !m.audio {
		mic = IconMuted
	}
	if !m.video {
		cam = IconCamera + " off"
	}

	name := m.selfName
	if name == "" {
		name = "..."
	}
	return HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.roomID)) +
		fmt.Sprintf(" %s %s  %s  %s %s", IconPeer, SelfStyle.Render(name), state, mic, cam)
}

func (m *roomModel) sidebarView() string {
	var b strings.Builder
	b.WriteString(BoldStyle.Render(fmt.Sprintf("In room (%d)", len(m.roster))))
	for _, p := range m.roster {
		b.WriteString("\n")
		if p.Self {
			b.WriteString(SelfStyle.Render(utils.TruncateString(p.Name, 18)) + MutedStyle.Render(" (you)"))
			continue
		}
		b.WriteString(PeerNameStyle.Render(utils.TruncateString(p.Name, 18)))
		if v, ok := m.peers[p.ID]; ok {
			b.WriteString(" " + peerBadge(v))
		} else {
			b.WriteString(" " + MutedStyle.Render("waiting"))
		}
	}
	return PanelStyle.Width(sidebarWidth - 2).Height(max(1, m.chat.Height-2)).Render(b.String())
}

func peerBadge(v *peerView) string {
	var style lipgloss.Style
	switch v.state {
	case peer.StateConnected:
		style = SuccessStyle
	case peer.StateFailed, peer.StateClosed:
		style = ErrorStyle
	case peer.StateDisconnected:
		style = WarningStyle
	default:
		style = MutedStyle
	}
	badge := style.Render(v.state.String())

	if v.known {
		if !v.media.Audio {
			badge += " " + IconMuted
		}
		if !v.media.Video {
			badge += " " + MutedStyle.Render("no cam")
		}
	}
	if len(v.tracks) > 0 {
		kinds := make([]string, 0, len(v.tracks))
		for k := range v.tracks {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		badge += " " + MutedStyle.Render(strings.Join(kinds, "+"))
	}
	return badge
}
