package loop

import (
	"context"
	"sync"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func TestTasksRunInPostOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := range 100 {
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	if len(got) != 100 {
		t.Fatalf("expected 100 tasks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestPostFromTaskDoesNotBlock(t *testing.T) {
	l := startLoop(t)

	ran := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(ran) })
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestTasksNeverOverlap(t *testing.T) {
	l := startLoop(t)

	var (
		mu      sync.Mutex
		running int
		overlap bool
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				l.Post(func() {
					mu.Lock()
					running++
					if running > 1 {
						overlap = true
					}
					mu.Unlock()
					time.Sleep(10 * time.Microsecond)
					mu.Lock()
					running--
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()
	l.Do(context.Background(), func() {})

	if overlap {
		t.Fatal("two tasks ran at the same time")
	}
}

func TestStoppedTimerNeverFires(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{}, 1)
	var timer *Timer
	l.Do(context.Background(), func() {
		timer = l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	})
	l.Do(context.Background(), func() { timer.Stop() })

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestAfterFuncFires(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{})
	l.Post(func() {
		l.AfterFunc(5*time.Millisecond, func() { close(fired) })
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestEveryRepeatsUntilStopped(t *testing.T) {
	l := startLoop(t)

	var (
		count int
		timer *Timer
	)
	l.Do(context.Background(), func() {
		timer = l.Every(5*time.Millisecond, func() { count++ })
	})
	time.Sleep(40 * time.Millisecond)

	var atStop int
	l.Do(context.Background(), func() {
		timer.Stop()
		atStop = count
	})
	if atStop < 2 {
		t.Fatalf("expected several ticks, got %d", atStop)
	}

	time.Sleep(30 * time.Millisecond)
	var after int
	l.Do(context.Background(), func() { after = count })
	if after != atStop {
		t.Fatalf("ticker kept running after Stop: %d -> %d", atStop, after)
	}
}

func TestPanickingTaskDoesNotKillLoop(t *testing.T) {
	l := startLoop(t)

	l.Post(func() { panic("boom") })
	ok := false
	if err := l.Do(context.Background(), func() { ok = true }); err != nil {
		t.Fatalf("Do after panic: %v", err)
	}
	if !ok {
		t.Fatal("loop stopped processing after a panic")
	}
}

func TestDoAfterStop(t *testing.T) {
	l := startLoop(t)
	l.Stop()
	<-l.Done()

	if err := l.Do(context.Background(), func() {}); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
