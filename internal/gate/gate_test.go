package gate

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type bufferPort struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *bufferPort) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufferPort) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *bufferPort) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingController struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (r *recordingController) Open(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("port unplugged")
	}
	r.calls = append(r.calls, "open")
	return nil
}

func (r *recordingController) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "close")
	return nil
}

func (r *recordingController) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestSerialControllerWritesCommands(t *testing.T) {
	port := &bufferPort{}
	ctrl := NewSerialController(port, "test", zerolog.Nop())
	ctx := context.Background()

	if err := ctrl.Open(ctx); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := ctrl.Close(ctx); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if got := port.String(); got != "OC" {
		t.Errorf("written = %q, want %q", got, "OC")
	}

	if err := ctrl.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if !port.closed {
		t.Error("port should be closed")
	}
	if err := ctrl.Open(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Open() after shutdown = %v, want ErrClosed", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCyclerRunsOpenHoldClose(t *testing.T) {
	ctrl := &recordingController{}
	c := NewCycler(ctrl, 20*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if !c.Trigger("entry:MH04AB1234") || !c.Trigger("exit:MH04AB1234") {
		t.Fatal("Trigger() should accept requests")
	}

	waitFor(t, func() bool { return c.Completed() == 2 })

	want := []string{"open", "close", "open", "close"}
	got := ctrl.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestCyclerClosesGateOnShutdown(t *testing.T) {
	ctrl := &recordingController{}
	c := NewCycler(ctrl, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	c.Trigger("entry")
	waitFor(t, func() bool { return len(ctrl.Calls()) == 1 })
	cancel()
	<-done

	if calls := ctrl.Calls(); len(calls) != 2 || calls[1] != "close" {
		t.Errorf("calls = %v, want gate closed after shutdown", calls)
	}
}

func TestCyclerOpenFailureSkipsClose(t *testing.T) {
	ctrl := &recordingController{fail: true}
	c := NewCycler(ctrl, time.Millisecond, zerolog.Nop())

	c.cycle(context.Background(), "entry")

	if calls := ctrl.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
	if c.Completed() != 0 {
		t.Errorf("Completed() = %d, want 0", c.Completed())
	}
}

func TestCyclerTriggerQueueFull(t *testing.T) {
	c := NewCycler(&recordingController{}, time.Millisecond, zerolog.Nop())
	for i := 0; i < queueSize; i++ {
		if !c.Trigger("entry") {
			t.Fatalf("Trigger() #%d rejected before queue was full", i)
		}
	}
	if c.Trigger("entry") {
		t.Error("Trigger() should reject when queue is full")
	}
}
