package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/huddle/internal/fileapi"
	"github.com/BioHazard786/huddle/internal/files"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
)

func startRelay(t *testing.T, cfg HubConfig) *httptest.Server {
	t.Helper()
	s := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

type peerConn struct {
	t      *testing.T
	c      *signaling.Client
	got    chan signaling.Envelope
	closed chan int
}

func connect(t *testing.T, srv *httptest.Server) *peerConn {
	t.Helper()
	p := &peerConn{t: t, got: make(chan signaling.Envelope, 64), closed: make(chan int, 1)}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, err := signaling.Dial(context.Background(), url, func(data []byte) {
		env, err := signaling.Decode(data)
		if err != nil {
			t.Errorf("relay sent malformed frame %q: %v", data, err)
			return
		}
		p.got <- env
	}, func(code int) { p.closed <- code })
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	p.c = c
	t.Cleanup(c.Close)
	return p
}

func (p *peerConn) send(env signaling.Envelope) {
	p.t.Helper()
	frame, err := signaling.Encode(env)
	if err != nil {
		p.t.Fatal(err)
	}
	if err := p.c.Send(frame); err != nil {
		p.t.Fatalf("send: %v", err)
	}
}

func (p *peerConn) next() signaling.Envelope {
	p.t.Helper()
	select {
	case env := <-p.got:
		return env
	case <-time.After(2 * time.Second):
		p.t.Fatal("timed out waiting for an envelope")
		return nil
	}
}

func expect[T signaling.Envelope](p *peerConn) T {
	p.t.Helper()
	env := p.next()
	v, ok := env.(T)
	if !ok {
		var want T
		p.t.Fatalf("got %T %+v, want %T", env, env, want)
	}
	return v
}

func (p *peerConn) quiet(d time.Duration) {
	p.t.Helper()
	select {
	case env := <-p.got:
		p.t.Fatalf("unexpected %T %+v", env, env)
	case <-time.After(d):
	}
}

func (p *peerConn) join(room, name string) signaling.RoomUsers {
	p.t.Helper()
	p.send(signaling.JoinRoom{RoomID: room, UserName: name})
	return expect[signaling.RoomUsers](p)
}

func TestJoinAssignsIdentityAndAnnounces(t *testing.T) {
	srv := startRelay(t, HubConfig{})
	a, b := connect(t, srv), connect(t, srv)

	ra := a.join("A1B2", "Alice")
	if ra.UserID == "" || ra.UserName != "Alice" || len(ra.Users) != 0 {
		t.Fatalf("alice roster = %+v", ra)
	}

	rb := b.join("A1B2", "")
	if rb.UserName == "" || rb.UserID == ra.UserID {
		t.Fatalf("bob identity = %+v", rb)
	}
	if len(rb.Users) != 1 || rb.Users[0] != (signaling.UserInfo{UserID: ra.UserID, UserName: "Alice"}) {
		t.Fatalf("bob roster = %+v", rb.Users)
	}

	joined := expect[signaling.UserJoined](a)
	if joined.UserID != rb.UserID || joined.UserName != rb.UserName {
		t.Errorf("user_joined = %+v", joined)
	}
	b.quiet(50 * time.Millisecond)
}

func TestSignalsReachOnlyTheTarget(t *testing.T) {
	srv := startRelay(t, HubConfig{})
	a, b, c := connect(t, srv), connect(t, srv), connect(t, srv)
	ra := a.join("room", "A")
	rb := b.join("room", "B")
	expect[signaling.UserJoined](a)
	c.join("room", "C")
	expect[signaling.UserJoined](a)
	expect[signaling.UserJoined](b)

	offer := signaling.Offer{TargetUserID: rb.UserID, UserID: ra.UserID, Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}}
	a.send(offer)
	if got := expect[signaling.Offer](b); got != offer {
		t.Errorf("offer = %+v", got)
	}

	cand := signaling.ICECandidate{TargetUserID: ra.UserID, UserID: rb.UserID, Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}
	b.send(cand)
	if got := expect[signaling.ICECandidate](a); got.Candidate.Candidate != cand.Candidate.Candidate {
		t.Errorf("candidate = %+v", got)
	}
	c.quiet(50 * time.Millisecond)
}

func TestChatIsBroadcastAndReplayed(t *testing.T) {
	srv := startRelay(t, HubConfig{})
	a := connect(t, srv)
	ra := a.join("room", "A")

	for i := 0; i < 25; i++ {
		a.send(signaling.TextMessage{UserID: ra.UserID, RoomID: "room", Content: fmt.Sprintf("msg %d", i)})
		echo := expect[signaling.TextMessage](a)
		if echo.MessageID == "" || echo.UserName != "A" || echo.Timestamp == 0 {
			t.Fatalf("echo = %+v", echo)
		}
	}

	b := connect(t, srv)
	b.join("room", "B")
	history := expect[signaling.MessageHistory](b)
	if len(history.Messages) != DefaultHistorySize {
		t.Fatalf("history length = %d", len(history.Messages))
	}
	if history.Messages[0].Content != "msg 5" || history.Messages[19].Content != "msg 24" {
		t.Errorf("history bounds = %q..%q", history.Messages[0].Content, history.Messages[19].Content)
	}

	a.send(signaling.TextMessage{UserID: "someone-else", RoomID: "room", Content: "spoof"})
	expect[signaling.UserJoined](a)
	if e := expect[signaling.Error](a); e.Message == "" {
		t.Error("spoofed message accepted")
	}
}

func TestTypingIsRelayedOnce(t *testing.T) {
	srv := startRelay(t, HubConfig{})
	a, b := connect(t, srv), connect(t, srv)
	ra := a.join("room", "A")
	b.join("room", "B")
	expect[signaling.UserJoined](a)

	a.send(signaling.TypingStart{UserID: ra.UserID, RoomID: "room"})
	a.send(signaling.TypingStart{UserID: ra.UserID, RoomID: "room"})
	a.send(signaling.TypingEnd{UserID: ra.UserID, RoomID: "room"})

	if got := expect[signaling.TypingStart](b); got.UserID != ra.UserID {
		t.Errorf("typing_start = %+v", got)
	}
	expect[signaling.TypingEnd](b)
	b.quiet(50 * time.Millisecond)
	a.quiet(10 * time.Millisecond)
}

func TestLeaveAndDisconnect(t *testing.T) {
	srv := startRelay(t, HubConfig{})
	a, b, c := connect(t, srv), connect(t, srv), connect(t, srv)
	a.join("room", "A")
	rb := b.join("room", "B")
	expect[signaling.UserJoined](a)
	rc := c.join("room", "C")
	expect[signaling.UserJoined](a)
	expect[signaling.UserJoined](b)

	b.send(signaling.LeaveRoom{RoomID: "room", UserID: rb.UserID})
	if got := expect[signaling.UserLeft](a); got.UserID != rb.UserID {
		t.Errorf("user_left = %+v", got)
	}
	expect[signaling.UserLeft](c)

	c.c.Close()
	if got := expect[signaling.UserDisconnected](a); got.UserID != rc.UserID {
		t.Errorf("user_disconnected = %+v", got)
	}
	b.quiet(50 * time.Millisecond)
}

func TestMalformedFrameGetsError(t *testing.T) {
	srv := startRelay(t, HubConfig{})
	a := connect(t, srv)
	if err := a.c.Send([]byte(`{"no":"type"}`)); err != nil {
		t.Fatal(err)
	}
	if e := expect[signaling.Error](a); e.Message != "malformed message" {
		t.Errorf("error = %+v", e)
	}
}

func TestIdleClientsAreEvicted(t *testing.T) {
	srv := startRelay(t, HubConfig{IdleTimeout: 60 * time.Millisecond})
	a, b := connect(t, srv), connect(t, srv)
	a.join("room", "A")
	rb := b.join("room", "B")
	expect[signaling.UserJoined](a)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(15 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				frame, _ := signaling.Encode(signaling.Ping{UserID: "a", RoomID: "room"})
				a.c.Send(frame)
			}
		}
	}()

	select {
	case <-b.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("idle client was not evicted")
	}
	if got := expect[signaling.UserDisconnected](a); got.UserID != rb.UserID {
		t.Errorf("user_disconnected = %+v", got)
	}
	select {
	case <-a.closed:
		t.Fatal("active client evicted")
	default:
	}
}

func writeTemp(t *testing.T, name string, content []byte) files.FileInfo {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return files.FileInfo{Path: path, Name: name, Size: int64(len(content)), Type: files.DetectType(path)}
}

func TestFileEndpoints(t *testing.T) {
	srv := startRelay(t, HubConfig{})
	a, b := connect(t, srv), connect(t, srv)
	ra := a.join("room", "A")
	rb := b.join("room", "B")
	expect[signaling.UserJoined](a)

	api := fileapi.New(srv.URL+"/api", nil)
	ctx := context.Background()
	content := []byte("col1,col2\n1,2\n")

	up, err := api.Upload(ctx, fileapi.Identity{RoomID: "room", UserID: ra.UserID}, writeTemp(t, "data.csv", content), nil)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if up.FileID == "" || up.Size != int64(len(content)) || up.MimeType != "text/csv" {
		t.Errorf("uploaded = %+v", up)
	}
	for _, p := range []*peerConn{a, b} {
		if n := expect[signaling.FileUploaded](p); n.Uploader() != "A" || n.Filename != "data.csv" {
			t.Errorf("file_uploaded = %+v", n)
		}
	}

	list, err := api.ListFiles(ctx, fileapi.Identity{RoomID: "room", UserID: rb.UserID})
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(list) != 1 || list[0].FileID != up.FileID || list[0].UploaderName != "A" || list[0].UploadTime == 0 {
		t.Fatalf("list = %+v", list)
	}

	var buf bytes.Buffer
	n, name, err := api.Download(ctx, up.FileID, &buf)
	if err != nil || n != int64(len(content)) || name != "data.csv" || !bytes.Equal(buf.Bytes(), content) {
		t.Fatalf("Download n=%d name=%q err=%v", n, name, err)
	}

	var se *fileapi.StatusError
	_, err = api.ListFiles(ctx, fileapi.Identity{RoomID: "room", UserID: "stranger"})
	if !errors.As(err, &se) || se.Status != http.StatusForbidden {
		t.Errorf("stranger list: %v", err)
	}
	_, err = api.Upload(ctx, fileapi.Identity{RoomID: "room", UserID: ra.UserID}, writeTemp(t, "tool.sh", []byte("#!/bin/sh\n")), nil)
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Errorf("disallowed upload: %v", err)
	}
	_, _, err = api.Download(ctx, "missing", &buf)
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Errorf("missing download: %v", err)
	}
}

func TestNames(t *testing.T) {
	if n := DisplayName(); len(strings.Fields(n)) != 2 {
		t.Errorf("DisplayName = %q", n)
	}
	if id := RoomID(); strings.Count(id, "-") != 2 {
		t.Errorf("RoomID = %q", id)
	}
}
