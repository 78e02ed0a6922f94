package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxdeck-ai/voxdeck/pkg/core/adapter"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/protocol"
)

type fakeHandle struct {
	closes atomic.Int64
	events chan adapter.Event
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan adapter.Event)}
}

func (f *fakeHandle) SendAudio([]byte) error                         { return nil }
func (f *fakeHandle) SendText(string) error                          { return nil }
func (f *fakeHandle) SendInvocationResult(string, string, any) error { return nil }
func (f *fakeHandle) Events() <-chan adapter.Event                   { return f.events }
func (f *fakeHandle) Err() error                                     { return nil }
func (f *fakeHandle) Close() error {
	f.closes.Add(1)
	return nil
}

func TestStateTransitions(t *testing.T) {
	s := New("s-1", "native", newFakeHandle(), nil)
	if got := s.State(); got != StateUninitialized {
		t.Fatalf("new session state = %v", got)
	}
	if err := s.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := s.Activate(); err == nil {
		t.Fatal("second Activate must fail")
	}
	s.BeginDraining()
	if got := s.State(); got != StateDraining {
		t.Fatalf("state after drain = %v", got)
	}
	s.Close()
	if got := s.State(); got != StateClosed {
		t.Fatalf("state after close = %v", got)
	}
}

func TestDoubleCloseReleasesHandleOnce(t *testing.T) {
	handle := newFakeHandle()
	s := New("s-1", "native", handle, nil)
	_ = s.Activate()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()

	if got := handle.closes.Load(); got != 1 {
		t.Fatalf("handle released %d times, want exactly 1", got)
	}
}

func TestCounters(t *testing.T) {
	s := New("s-1", "turn-based", newFakeHandle(), nil)
	s.IncrementTurn()
	s.IncrementTurn()
	s.IncrementInvocations()
	if s.Turns() != 2 || s.Invocations() != 1 {
		t.Fatalf("counters = %d turns, %d invocations", s.Turns(), s.Invocations())
	}
}

func TestResumptionTokenLatestWins(t *testing.T) {
	s := New("s-1", "native", newFakeHandle(), nil)
	s.SetResumptionToken("tok-1")
	s.SetResumptionToken("tok-2")
	if got := s.ResumptionToken(); got != "tok-2" {
		t.Fatalf("token = %q", got)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	s := New("s-1", "native", newFakeHandle(), nil)
	s.Close()
	if err := s.Send(protocol.ServerTurnComplete{Turn: 1}); err == nil {
		t.Fatal("Send after close must fail")
	}
}

func TestRegistryDrainAll(t *testing.T) {
	r := NewRegistry()
	s := New("s-1", "native", newFakeHandle(), nil)
	_ = s.Activate()
	s.SetResumptionToken("tok-live")
	unregister := r.Register(s)
	defer unregister()

	if got := r.Count(); got != 1 {
		t.Fatalf("count = %d", got)
	}
	if got := r.Get("s-1"); got != s {
		t.Fatal("Get returned wrong session")
	}

	if notified := r.DrainAll("going away"); notified != 1 {
		t.Fatalf("notified = %d", notified)
	}
	if got := s.State(); got != StateDraining {
		t.Fatalf("state after DrainAll = %v", got)
	}

	// The draining frame sits on the priority lane with the session token.
	select {
	case payload := <-s.outPriority:
		var frame struct {
			Type            string `json:"type"`
			ResumptionToken string `json:"resumption_token"`
		}
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("decode draining frame: %v", err)
		}
		if frame.Type != "draining" || frame.ResumptionToken != "tok-live" {
			t.Fatalf("unexpected draining frame: %+v", frame)
		}
	default:
		t.Fatal("no priority frame queued")
	}
}

func TestRegistryWaitAfterUnregister(t *testing.T) {
	r := NewRegistry()
	s := New("s-1", "native", newFakeHandle(), nil)
	unregister := r.Register(s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if r.Wait(ctx) {
		t.Fatal("Wait must time out while a session is registered")
	}

	unregister()
	unregister() // idempotent
	if !r.Wait(context.Background()) {
		t.Fatal("Wait must return once all sessions unregister")
	}
}

func TestTasksPanicCoerced(t *testing.T) {
	s := New("s-1", "native", newFakeHandle(), nil)
	results := make(chan any, 1)
	s.Tasks().Go("task-1", "explode", func() any {
		panic("boom")
	}, func(_, _ string, payload any) {
		results <- payload
	})
	s.Tasks().Wait()

	payload := (<-results).(map[string]any)
	if payload["success"] != false {
		t.Fatalf("panic must coerce to failure, got %v", payload)
	}
}

func TestTasksAbandonedAfterClose(t *testing.T) {
	s := New("s-1", "native", newFakeHandle(), nil)
	started := make(chan struct{})
	delivered := make(chan struct{}, 1)

	s.Tasks().Go("task-1", "slow", func() any {
		close(started)
		<-s.Done()
		return map[string]any{"success": true}
	}, func(_, _ string, _ any) {
		delivered <- struct{}{}
	})

	<-started
	s.Close()
	s.Tasks().Wait()

	select {
	case <-delivered:
		t.Fatal("result must be abandoned after close")
	default:
	}
}
