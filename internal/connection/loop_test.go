package connection

import (
	"context"
	"testing"
	"time"
)

func TestEventLoop_FIFO(t *testing.T) {
	l := newEventLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.run(ctx)

	got := make(chan int, 10)
	for i := 0; i < 10; i++ {
		l.post(func() { got <- i })
	}

	for want := 0; want < 10; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("task %d ran, want %d", v, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for task")
		}
	}
}

func TestEventLoop_PostFromTask(t *testing.T) {
	l := newEventLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.run(ctx)

	done := make(chan struct{})
	l.post(func() {
		// Nested posts must not block the running task.
		l.post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested task never ran")
	}
}

func TestEventLoop_PostBeforeRun(t *testing.T) {
	l := newEventLoop()
	ran := make(chan struct{})
	l.post(func() { close(ran) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.run(ctx)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task posted before run was lost")
	}
}

func TestEventLoop_PostAfterStop(t *testing.T) {
	l := newEventLoop()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		l.run(ctx)
		close(stopped)
	}()

	cancel()
	<-stopped

	if l.post(func() {}) {
		t.Error("post after stop should return false")
	}
}
