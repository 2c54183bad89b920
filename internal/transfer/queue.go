package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BioHazard786/huddle/internal/fileapi"
	"github.com/BioHazard786/huddle/internal/files"
	"github.com/BioHazard786/huddle/internal/loop"
	"github.com/google/uuid"
)

const (
	DefaultGap          = 500 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
	DefaultRefreshDelay = 500 * time.Millisecond
)

type TaskID string

type Status int

const (
	Queued Status = iota
	Uploading
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Uploading:
		return "uploading"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether the task will not change again.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Task is a snapshot of one upload.
type Task struct {
	ID       TaskID
	File     files.FileInfo
	Status   Status
	Progress int
	FileID   string
	Err      error
}

// Uploader performs one upload. *fileapi.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, id fileapi.Identity, f files.FileInfo, progress func(percent int)) (fileapi.Uploaded, error)
}

type Config struct {
	Loop     *loop.Loop
	Uploader Uploader

	// Identity is read on the loop when an upload starts.
	Identity func() fileapi.Identity

	Gap          time.Duration
	Timeout      time.Duration
	RefreshDelay time.Duration

	// OnChange receives every status or progress change.
	OnChange func(Task)
	// OnRefresh runs RefreshDelay after a successful upload.
	OnRefresh func()

	Logger *slog.Logger
}

// Queue uploads files one at a time in FIFO order. All methods must be
// called on the loop.
type Queue struct {
	cfg Config
	log *slog.Logger

	tasks   []*Task
	pending []*Task

	busy    bool
	current *Task
	cancel  context.CancelFunc
	gap     *loop.Timer
	refresh *loop.Timer
	stopped bool
}

func NewQueue(cfg Config) *Queue {
	if cfg.Gap <= 0 {
		cfg.Gap = DefaultGap
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = DefaultRefreshDelay
	}
	if cfg.Identity == nil {
		cfg.Identity = func() fileapi.Identity { return fileapi.Identity{} }
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Queue{cfg: cfg, log: log.With("component", "transfer")}
}

// Enqueue validates batch and queues the files that pass. The returned
// error is a *files.ValidationError naming every rejected file; valid
// siblings are queued regardless.
func (q *Queue) Enqueue(batch []files.FileInfo) ([]TaskID, error) {
	if q.stopped {
		return nil, NewError("enqueue", ErrCancelled)
	}
	valid, verr := files.Validate(batch)

	ids := make([]TaskID, 0, len(valid))
	for _, f := range valid {
		t := &Task{ID: TaskID(uuid.NewString()), File: f, Status: Queued}
		q.tasks = append(q.tasks, t)
		q.pending = append(q.pending, t)
		ids = append(ids, t.ID)
		q.changed(t)
	}
	if verr != nil {
		q.log.Warn("rejected files", "error", verr)
	}
	q.pump()
	return ids, verr
}

// Ack forgets a finished task. Tasks still queued or uploading are kept.
func (q *Queue) Ack(id TaskID) bool {
	for i, t := range q.tasks {
		if t.ID != id {
			continue
		}
		if !t.Status.Terminal() {
			return false
		}
		q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
		return true
	}
	return false
}

// Tasks returns snapshots of every unacknowledged task in queue order.
func (q *Queue) Tasks() []Task {
	out := make([]Task, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = *t
	}
	return out
}

// Uploading returns the number of tasks currently uploading.
func (q *Queue) Uploading() int {
	n := 0
	for _, t := range q.tasks {
		if t.Status == Uploading {
			n++
		}
	}
	return n
}

// Stop cancels the upload in flight and discards pending work. Discarded
// tasks are marked failed with ErrCancelled without notification.
func (q *Queue) Stop() {
	if q.stopped {
		return
	}
	q.stopped = true
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	if q.current != nil {
		q.current.Status = Failed
		q.current.Err = NewFileError("upload", q.current.File.Name, ErrCancelled)
		q.current = nil
	}
	for _, t := range q.pending {
		t.Status = Failed
		t.Err = NewFileError("upload", t.File.Name, ErrCancelled)
	}
	q.pending = nil
	q.gap.Stop()
	q.refresh.Stop()
}

func (q *Queue) pump() {
	if q.busy || q.stopped || len(q.pending) == 0 {
		return
	}
	t := q.pending[0]
	q.pending = q.pending[1:]

	q.busy = true
	q.current = t
	t.Status = Uploading
	t.Progress = 0
	q.changed(t)

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
	q.cancel = cancel
	id := q.cfg.Identity()
	q.log.Info("upload started", "file", t.File.Name, "size", t.File.Size)

	go func() {
		res, err := q.cfg.Uploader.Upload(ctx, id, t.File, func(p int) {
			q.cfg.Loop.Post(func() { q.progressed(t, p) })
		})
		ctxErr := ctx.Err()
		cancel()
		q.cfg.Loop.Post(func() { q.finished(t, res, err, ctxErr) })
	}()
}

func (q *Queue) progressed(t *Task, p int) {
	if q.current != t || p <= t.Progress {
		return
	}
	if p > 100 {
		p = 100
	}
	t.Progress = p
	q.changed(t)
}

func (q *Queue) finished(t *Task, res fileapi.Uploaded, err, ctxErr error) {
	if q.current != t {
		return
	}
	q.current = nil
	q.cancel = nil

	if err != nil {
		t.Status = Failed
		t.Err = q.classify(t, err, ctxErr)
		q.log.Error("upload failed", "file", t.File.Name, "error", t.Err)
	} else {
		t.Status = Succeeded
		t.Progress = 100
		t.FileID = res.FileID
		q.log.Info("upload finished", "file", t.File.Name, "fileId", res.FileID)
		q.scheduleRefresh()
	}
	q.changed(t)

	q.gap = q.cfg.Loop.AfterFunc(q.cfg.Gap, func() {
		q.busy = false
		q.pump()
	})
}

func (q *Queue) classify(t *Task, err, ctxErr error) error {
	name := t.File.Name
	var se *fileapi.StatusError
	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return &TransferError{Op: "upload", File: name, Err: ErrTimeout,
			Details: fmt.Sprintf("no response within %s", q.cfg.Timeout)}
	case errors.Is(ctxErr, context.Canceled):
		return NewFileError("upload", name, ErrCancelled)
	case errors.As(err, &se):
		return &TransferError{Op: "upload", File: name, Err: ErrServerRejected, Details: se.Message}
	default:
		return &TransferError{Op: "upload", File: name, Err: ErrNetwork, Details: err.Error()}
	}
}

func (q *Queue) scheduleRefresh() {
	if q.cfg.OnRefresh == nil {
		return
	}
	q.refresh.Stop()
	q.refresh = q.cfg.Loop.AfterFunc(q.cfg.RefreshDelay, q.cfg.OnRefresh)
}

func (q *Queue) changed(t *Task) {
	if q.cfg.OnChange != nil {
		q.cfg.OnChange(*t)
	}
}
