package typing

import (
	"time"

	"github.com/BioHazard786/huddle/internal/loop"
)

// Local debounces our own typing presence. Notify(true) is called once when
// typing starts and Notify(false) once when it ends. Methods must be called
// on the loop.
type Local struct {
	loop   *loop.Loop
	idle   time.Duration
	notify func(typing bool)

	active bool
	timer  *loop.Timer
}

func NewLocal(lp *loop.Loop, idle time.Duration, notify func(typing bool)) *Local {
	return &Local{loop: lp, idle: idle, notify: notify}
}

// Input handles a content-changing edit. Empty content ends typing.
func (l *Local) Input(content string) {
	if content == "" {
		l.End()
		return
	}
	if !l.active {
		l.active = true
		l.notify(true)
	}
	l.timer.Stop()
	l.timer = l.loop.AfterFunc(l.idle, l.End)
}

// Blur ends typing when the input loses focus.
func (l *Local) Blur() {
	l.End()
}

// End stops the idle timer and sends the end notification if typing was
// signaled.
func (l *Local) End() {
	l.timer.Stop()
	l.timer = nil
	if !l.active {
		return
	}
	l.active = false
	l.notify(false)
}

// Reset forgets local state without notifying, for when the room is gone.
func (l *Local) Reset() {
	l.timer.Stop()
	l.timer = nil
	l.active = false
}
