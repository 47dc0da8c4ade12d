package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vmelnikau/echolink/internal/wire"
)

// fakeWriter is an in-memory FrameWriter.
type fakeWriter struct {
	mu     sync.Mutex
	frames []wire.Frame
	closed bool
	fail   bool
}

func (w *fakeWriter) WriteFrame(frame wire.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("connection gone")
	}
	w.frames = append(w.frames, frame)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func TestHubWriteToUser(t *testing.T) {
	hub := NewHub(time.Hour, time.Hour)
	writer := &fakeWriter{}
	hub.Register(1, writer)
	defer hub.Unregister(1, writer)

	frame := wire.NewAck("x")
	if err := hub.WriteToUser(1, frame); err != nil {
		t.Fatalf("WriteToUser: %v", err)
	}
	if len(writer.frames) != 1 || writer.frames[0].ID != "x" {
		t.Errorf("writer got %+v, want the ack frame", writer.frames)
	}

	if err := hub.WriteToUser(2, frame); !errors.Is(err, ErrOffline) {
		t.Errorf("offline write: err = %v, want ErrOffline", err)
	}
}

func TestHubSingleRegistrationPerUser(t *testing.T) {
	hub := NewHub(time.Hour, time.Hour)

	var disconnects []uint
	var mu sync.Mutex
	hub.OnDisconnect(func(userID uint) {
		mu.Lock()
		disconnects = append(disconnects, userID)
		mu.Unlock()
	})

	first := &fakeWriter{}
	second := &fakeWriter{}
	hub.Register(1, first)
	hub.Register(1, second)
	defer hub.Unregister(1, second)

	if !first.isClosed() {
		t.Error("replaced handle not closed")
	}
	if second.isClosed() {
		t.Error("replacement handle closed")
	}
	if hub.Count() != 1 {
		t.Errorf("count = %d, want 1", hub.Count())
	}

	mu.Lock()
	got := len(disconnects)
	mu.Unlock()
	if got != 1 {
		t.Errorf("disconnect callbacks = %d, want 1 for the replaced handle", got)
	}

	// Writes go to the new handle only.
	if err := hub.WriteToUser(1, wire.NewAck("y")); err != nil {
		t.Fatalf("WriteToUser: %v", err)
	}
	if len(first.frames) != 0 || len(second.frames) != 1 {
		t.Errorf("frames split %d/%d, want 0/1", len(first.frames), len(second.frames))
	}
}

func TestHubUnregisterIgnoresStaleWriter(t *testing.T) {
	hub := NewHub(time.Hour, time.Hour)

	first := &fakeWriter{}
	second := &fakeWriter{}
	hub.Register(1, first)
	hub.Register(1, second)

	// The replaced connection's read loop exits late and unregisters;
	// that must not tear down the successor.
	hub.Unregister(1, first)

	if !hub.IsOnline(1) {
		t.Error("stale unregister removed the live registration")
	}
	hub.Unregister(1, second)
	if hub.IsOnline(1) {
		t.Error("user still online after real unregister")
	}
}

func TestHubDropsConnectionOnWriteError(t *testing.T) {
	hub := NewHub(time.Hour, time.Hour)

	writer := &fakeWriter{fail: true}
	hub.Register(1, writer)

	if err := hub.WriteToUser(1, wire.NewAck("x")); err == nil {
		t.Fatal("write on a broken connection succeeded")
	}
	if hub.IsOnline(1) {
		t.Error("broken connection still registered")
	}
}
