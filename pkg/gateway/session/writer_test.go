package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/voxdeck-ai/voxdeck/pkg/gateway/protocol"
)

type fakeWS struct {
	mu     sync.Mutex
	frames [][]byte
	wrote  chan struct{}
}

func newFakeWS() *fakeWS {
	return &fakeWS{wrote: make(chan struct{}, 64)}
}

func (f *fakeWS) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWS) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	f.mu.Unlock()
	f.wrote <- struct{}{}
	return nil
}

func (f *fakeWS) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeWS) Close() error                              { return nil }

func (f *fakeWS) frameTypes(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, raw := range f.frames {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("decode written frame: %v", err)
		}
		types = append(types, envelope.Type)
	}
	return types
}

func TestWriterPriorityBeforeNormal(t *testing.T) {
	s := New("s-1", "native", newFakeHandle(), nil)
	ws := newFakeWS()

	// Queue a normal frame first, then a priority frame. The writer must
	// still put the priority frame on the wire first.
	if err := s.Send(protocol.ServerAudio{Data: "AAA="}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.SendPriority(protocol.ServerError{Message: "bad frame"}); err != nil {
		t.Fatalf("SendPriority: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunWriter(ws, WriterConfig{}) }()

	for i := 0; i < 2; i++ {
		select {
		case <-ws.wrote:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for writes")
		}
	}
	s.Close()
	if err := <-done; err != nil {
		t.Fatalf("RunWriter: %v", err)
	}

	types := ws.frameTypes(t)
	if len(types) < 2 || types[0] != "error" || types[1] != "audio" {
		t.Fatalf("unexpected write order: %v", types)
	}
}

func TestWriterFlushesPriorityOnClose(t *testing.T) {
	s := New("s-1", "native", newFakeHandle(), nil)
	ws := newFakeWS()

	if err := s.SendPriority(protocol.ServerDraining{Message: "bye"}); err != nil {
		t.Fatalf("SendPriority: %v", err)
	}
	s.Close()

	if err := s.RunWriter(ws, WriterConfig{}); err != nil {
		t.Fatalf("RunWriter: %v", err)
	}

	types := ws.frameTypes(t)
	if len(types) != 1 || types[0] != "draining" {
		t.Fatalf("expected draining frame flushed on close, got %v", types)
	}
}
