package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxdeck-ai/voxdeck/pkg/gateway/protocol"
)

// scriptedConn yields queued frames, then fails reads with failErr.
type scriptedConn struct {
	mu     sync.Mutex
	reads  [][]byte
	writes [][]byte

	failErr error
	closed  bool
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		if c.failErr != nil {
			return 0, nil, c.failErr
		}
		return 0, nil, io.EOF
	}
	raw := c.reads[0]
	c.reads = c.reads[1:]
	return 1, raw, nil
}

func (c *scriptedConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedConn) sentStart(t *testing.T) protocol.ClientStart {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		t.Fatal("no start frame was written")
	}
	var start protocol.ClientStart
	if err := json.Unmarshal(c.writes[0], &start); err != nil {
		t.Fatalf("decode start frame: %v", err)
	}
	return start
}

func encodeFrames(t *testing.T, frames ...any) [][]byte {
	t.Helper()
	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		raw, err := protocol.EncodeServerFrame(f)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out = append(out, raw)
	}
	return out
}

func newTestSupervisor(conns []*scriptedConn, dialErrs []error) (*Supervisor, *[]time.Duration) {
	s := New(Options{
		URL:    "ws://gateway.test/v1/session",
		Mode:   protocol.ModeNative,
		Model:  "test-model",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	var delays []time.Duration
	s.sleep = func(d time.Duration) { delays = append(delays, d) }

	calls := 0
	s.dial = func(context.Context, string) (wsConn, error) {
		defer func() { calls++ }()
		if calls < len(dialErrs) && dialErrs[calls] != nil {
			return nil, dialErrs[calls]
		}
		idx := calls
		if idx >= len(conns) {
			return nil, errors.New("no more scripted connections")
		}
		return conns[idx], nil
	}
	return s, &delays
}

func TestRunDeliversFramesAndStoresToken(t *testing.T) {
	conn := &scriptedConn{reads: encodeFrames(t,
		protocol.ServerSetupComplete{SessionID: "s_abc", Mode: "native"},
		protocol.ServerTranscript{Role: "assistant", Text: "hello"},
		protocol.ServerDraining{ResumptionToken: "tok-1", Message: "bye"},
	)}
	conn.failErr = io.EOF

	s, _ := newTestSupervisor([]*scriptedConn{conn}, nil)
	s.opts.MaxReconnects = 1

	frames := make(chan any, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, frames) }()

	var got []any
	for f := range frames {
		got = append(got, f)
		if len(got) == 3 {
			cancel()
		}
	}
	<-done

	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	if s.SessionID() != "s_abc" {
		t.Errorf("SessionID = %q", s.SessionID())
	}
	if s.ResumptionToken() != "tok-1" {
		t.Errorf("ResumptionToken = %q", s.ResumptionToken())
	}
}

func TestReconnectBackoffThenTerminalError(t *testing.T) {
	conn := &scriptedConn{failErr: io.ErrUnexpectedEOF}
	dialErr := errors.New("connection refused")
	s, delays := newTestSupervisor(
		[]*scriptedConn{conn},
		[]error{nil, dialErr, dialErr, dialErr},
	)

	frames := make(chan any, 1)
	err := s.Run(context.Background(), frames)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !errors.Is(err, dialErr) {
		t.Fatalf("terminal error = %v, want wrap of dial error", err)
	}

	want := []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], d)
		}
	}
}

func TestReconnectResendsStartWithToken(t *testing.T) {
	first := &scriptedConn{
		reads:   encodeFrames(t, protocol.ServerDraining{ResumptionToken: "tok-9"}),
		failErr: io.EOF,
	}
	second := &scriptedConn{failErr: io.EOF}
	s, _ := newTestSupervisor([]*scriptedConn{first, second}, nil)
	s.opts.MaxReconnects = 1

	frames := make(chan any, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, frames) }()
	for range frames {
	}
	<-done

	if start := first.sentStart(t); start.ResumptionToken != "" {
		t.Errorf("first start carried token %q", start.ResumptionToken)
	}
	start := second.sentStart(t)
	if start.ResumptionToken != "tok-9" {
		t.Errorf("reconnect start token = %q, want tok-9", start.ResumptionToken)
	}
	if start.Mode != protocol.ModeNative || start.Model != "test-model" {
		t.Errorf("reconnect start = %+v", start)
	}
}

func TestRecoveredSessionContinues(t *testing.T) {
	first := &scriptedConn{failErr: io.EOF}
	second := &scriptedConn{
		reads:   encodeFrames(t, protocol.ServerText{Text: "back online"}),
		failErr: io.EOF,
	}
	third := &scriptedConn{failErr: io.EOF}
	s, delays := newTestSupervisor([]*scriptedConn{first, second, third}, nil)
	s.opts.MaxReconnects = 1

	frames := make(chan any, 8)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), frames) }()

	var got []any
	for f := range frames {
		got = append(got, f)
	}
	<-done

	if len(got) != 1 {
		t.Fatalf("frames = %v, want the post-reconnect text", got)
	}
	text, ok := got[0].(protocol.ServerText)
	if !ok || text.Text != "back online" {
		t.Fatalf("frame = %#v", got[0])
	}
	// Each successful reconnect resets the backoff, so every drop here
	// slept the base delay exactly once.
	for i, d := range *delays {
		if d != 500*time.Millisecond {
			t.Errorf("delay[%d] = %v, want 500ms", i, d)
		}
	}
	if len(*delays) != 3 {
		t.Fatalf("delays = %v, want 3 backoff sleeps", *delays)
	}
}
