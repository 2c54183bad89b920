package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/huddle/internal/loop"
)

type fakeConn struct {
	mu        sync.Mutex
	sent      []Envelope
	closed    bool
	onMessage func([]byte)
	onClose   func(int)
}

func (c *fakeConn) Send(frame []byte) error {
	env, err := Decode(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) envelopes() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.sent...)
}

// fakeDialer hands out fakeConns, failing every dial after the first ok ones.
type fakeDialer struct {
	mu    sync.Mutex
	ok    int
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) dial(_ context.Context, _ string, onMessage func([]byte), onClose func(int)) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials > d.ok {
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{onMessage: onMessage, onClose: onClose}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l := loop.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func fastPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 5, Step: time.Millisecond, Cap: 5 * time.Millisecond}
}

func TestReconnectDelays(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{2000, 4000, 6000, 8000, 10000}
	for i, ms := range want {
		if got := p.Delay(i + 1); got != ms*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, ms*time.Millisecond)
		}
	}
	if got := p.Delay(9); got != 10*time.Second {
		t.Errorf("Delay(9) = %v, want cap", got)
	}
}

func TestConnectAndJoin(t *testing.T) {
	lp := startLoop(t)
	d := &fakeDialer{ok: 1}
	got := make(chan Envelope, 1)
	ch := NewChannel(lp, ChannelConfig{Dial: d.dial, Policy: fastPolicy()}, Handlers{
		Envelope: func(e Envelope) { got <- e },
	})

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	lp.Do(context.Background(), func() {
		if err := ch.Join("A1B2"); err != nil {
			t.Errorf("Join: %v", err)
		}
	})

	sent := d.conn(0).envelopes()
	if len(sent) != 1 || sent[0] != (JoinRoom{RoomID: "A1B2"}) {
		t.Fatalf("sent %v", sent)
	}

	d.conn(0).onMessage([]byte(`{"type":"user_left","userId":"u2"}`))
	select {
	case e := <-got:
		if e != (UserLeft{UserID: "u2"}) {
			t.Errorf("got %#v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestConnectFailureIsTransportError(t *testing.T) {
	lp := startLoop(t)
	d := &fakeDialer{ok: 0}
	ch := NewChannel(lp, ChannelConfig{Dial: d.dial}, Handlers{})

	err := ch.Connect(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	lp := startLoop(t)
	ch := NewChannel(lp, ChannelConfig{}, Handlers{})

	var err error
	lp.Do(context.Background(), func() { err = ch.Send(Ping{}) })
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestMalformedEnvelopeIsDropped(t *testing.T) {
	lp := startLoop(t)
	d := &fakeDialer{ok: 1}
	var got []Envelope
	ch := NewChannel(lp, ChannelConfig{Dial: d.dial}, Handlers{
		Envelope: func(e Envelope) { got = append(got, e) },
	})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c := d.conn(0)
	c.onMessage([]byte(`not json`))
	c.onMessage([]byte(`{"type":"mystery"}`))
	c.onMessage([]byte(`{"type":"user_joined","userId":"u3","userName":"Cy"}`))

	var n int
	waitFor(t, "valid envelope", func() bool {
		lp.Do(context.Background(), func() { n = len(got) })
		return n > 0
	})
	lp.Do(context.Background(), func() { n = len(got) })
	if n != 1 {
		t.Fatalf("delivered %d envelopes, want 1", n)
	}
}

func TestReconnectRejoinsRoom(t *testing.T) {
	lp := startLoop(t)
	d := &fakeDialer{ok: 2}
	reconnected := make(chan struct{}, 1)
	var attempts []int
	ch := NewChannel(lp, ChannelConfig{Dial: d.dial, Policy: fastPolicy()}, Handlers{
		Reconnecting: func(attempt, _ int, _ time.Duration) { attempts = append(attempts, attempt) },
		Reconnected:  func() { reconnected <- struct{}{} },
	})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	lp.Do(context.Background(), func() { ch.Join("A1B2") })

	d.conn(0).onClose(1006)

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("never reconnected")
	}

	if !d.conn(0).isClosed() {
		t.Error("old transport was not torn down")
	}
	sent := d.conn(1).envelopes()
	if len(sent) != 1 || sent[0] != (JoinRoom{RoomID: "A1B2"}) {
		t.Fatalf("rejoin sent %v", sent)
	}
	lp.Do(context.Background(), func() {
		if len(attempts) != 1 || attempts[0] != 1 {
			t.Errorf("attempts = %v", attempts)
		}
		if ch.attempt != 0 {
			t.Errorf("attempt counter not reset: %d", ch.attempt)
		}
	})
}

func TestReconnectGivesUpAfterFiveAttempts(t *testing.T) {
	lp := startLoop(t)
	d := &fakeDialer{ok: 1}
	terminal := make(chan error, 2)
	var delays []time.Duration
	policy := ReconnectPolicy{MaxAttempts: 5, Step: 2 * time.Millisecond, Cap: 10 * time.Millisecond}
	ch := NewChannel(lp, ChannelConfig{Dial: d.dial, Policy: policy}, Handlers{
		Reconnecting: func(_, _ int, delay time.Duration) { delays = append(delays, delay) },
		Terminal:     func(err error) { terminal <- err },
	})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	lp.Do(context.Background(), func() { ch.Join("A1B2") })

	d.conn(0).onClose(1006)

	select {
	case err := <-terminal:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Fatalf("terminal error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal error")
	}

	time.Sleep(30 * time.Millisecond)
	if got := d.count(); got != 6 {
		t.Fatalf("dialed %d times, want 1 initial + 5 retries", got)
	}
	lp.Do(context.Background(), func() {
		want := []time.Duration{2, 4, 6, 8, 10}
		if len(delays) != len(want) {
			t.Errorf("delays = %v", delays)
			return
		}
		for i := range want {
			if delays[i] != want[i]*time.Millisecond {
				t.Errorf("delay %d = %v", i+1, delays[i])
			}
		}
	})
	select {
	case err := <-terminal:
		t.Fatalf("second terminal error: %v", err)
	default:
	}
}

func TestCloseDisablesReconnect(t *testing.T) {
	lp := startLoop(t)
	d := &fakeDialer{ok: 5}
	closed := make(chan int, 1)
	ch := NewChannel(lp, ChannelConfig{Dial: d.dial, Policy: fastPolicy()}, Handlers{
		Closed: func(code int) { closed <- code },
	})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c := d.conn(0)
	lp.Do(context.Background(), func() {
		ch.Join("A1B2")
		ch.Send(LeaveRoom{RoomID: "A1B2", UserID: "u1"})
		ch.Close()
	})
	c.onClose(1000)

	time.Sleep(30 * time.Millisecond)
	if got := d.count(); got != 1 {
		t.Fatalf("dialed %d times after Close", got)
	}
	select {
	case code := <-closed:
		t.Fatalf("Closed handler ran after intentional close (code %d)", code)
	default:
	}
	sent := c.envelopes()
	if len(sent) != 2 || sent[1].Type() != TypeLeaveRoom {
		t.Fatalf("sent %v", sent)
	}
}

func TestCloseDuringBackoffCancelsRetry(t *testing.T) {
	lp := startLoop(t)
	d := &fakeDialer{ok: 5}
	policy := ReconnectPolicy{MaxAttempts: 5, Step: 20 * time.Millisecond, Cap: 100 * time.Millisecond}
	ch := NewChannel(lp, ChannelConfig{Dial: d.dial, Policy: policy}, Handlers{})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	lp.Do(context.Background(), func() { ch.Join("A1B2") })

	d.conn(0).onClose(1006)
	lp.Do(context.Background(), func() { ch.Close() })

	time.Sleep(60 * time.Millisecond)
	if got := d.count(); got != 1 {
		t.Fatalf("dialed %d times after Close", got)
	}
}

func TestHeartbeatCarriesIdentity(t *testing.T) {
	lp := startLoop(t)
	d := &fakeDialer{ok: 1}
	ch := NewChannel(lp, ChannelConfig{Dial: d.dial, Heartbeat: 5 * time.Millisecond}, Handlers{})
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	lp.Do(context.Background(), func() {
		ch.Join("A1B2")
		ch.Identify("u1")
	})

	waitFor(t, "heartbeat", func() bool {
		for _, e := range d.conn(0).envelopes() {
			if e == (Ping{UserID: "u1", RoomID: "A1B2"}) {
				return true
			}
		}
		return false
	})
}
