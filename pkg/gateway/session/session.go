// Package session holds the per-connection state machine, the serialized
// outbound writer, the process-wide session registry and the supervised
// async task set. One session exists per accepted WebSocket connection
// and owns exactly one upstream adapter handle.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voxdeck-ai/voxdeck/pkg/core"
	"github.com/voxdeck-ai/voxdeck/pkg/core/adapter"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/protocol"
)

// State is the session lifecycle phase. Transitions only move forward:
// uninitialized -> active -> draining -> closed, with draining optional.
type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one live connection. All outbound frames funnel through its
// writer channels so WebSocket writes stay serialized; the upstream
// handle is released exactly once no matter how many paths reach Close.
type Session struct {
	ID     string
	Mode   string
	logger *slog.Logger

	state       atomic.Int32
	turns       atomic.Int64
	invocations atomic.Int64

	mu              sync.Mutex
	resumptionToken string

	handle adapter.Handle

	outPriority chan []byte
	outNormal   chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	tasks *Tasks
}

// New creates a session in the uninitialized state. The handle is owned
// by the session from this point on.
func New(id, mode string, handle adapter.Handle, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		ID:          id,
		Mode:        mode,
		logger:      logger.With("session_id", id, "mode", mode),
		handle:      handle,
		outPriority: make(chan []byte, 32),
		outNormal:   make(chan []byte, 256),
		closed:      make(chan struct{}),
	}
	s.tasks = newTasks(s.logger, s.closed)
	return s
}

// State reports the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Activate moves the session from uninitialized to active. It fails on
// any other starting state so a second start frame cannot re-arm a
// session.
func (s *Session) Activate() error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateActive)) {
		return core.NewInvalidRequestError("session is already initialized")
	}
	return nil
}

// BeginDraining marks the session draining. Frames keep flowing; the
// client is expected to reconnect with the stored resumption token.
func (s *Session) BeginDraining() {
	s.state.CompareAndSwap(int32(StateActive), int32(StateDraining))
}

// IncrementTurn bumps the completed-turn counter and returns the new value.
func (s *Session) IncrementTurn() int64 { return s.turns.Add(1) }

// Turns reports completed model turns.
func (s *Session) Turns() int64 { return s.turns.Load() }

// IncrementInvocations bumps the invocation counter.
func (s *Session) IncrementInvocations() int64 { return s.invocations.Add(1) }

// Invocations reports dispatched invocations.
func (s *Session) Invocations() int64 { return s.invocations.Load() }

// SetResumptionToken stores the freshest upstream resumption handle.
func (s *Session) SetResumptionToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumptionToken = token
}

// ResumptionToken returns the stored handle, empty if none arrived yet.
func (s *Session) ResumptionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumptionToken
}

// Handle exposes the upstream adapter handle.
func (s *Session) Handle() adapter.Handle { return s.handle }

// Tasks exposes the supervised async task set.
func (s *Session) Tasks() *Tasks { return s.tasks }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Send encodes a server frame and queues it on the normal lane. It
// returns a transport error once the session is closed.
func (s *Session) Send(frame any) error {
	return s.enqueue(s.outNormal, frame)
}

// SendPriority queues a frame on the priority lane. Errors, draining
// notices and invocation frames go here so a full audio queue cannot
// starve them.
func (s *Session) SendPriority(frame any) error {
	return s.enqueue(s.outPriority, frame)
}

func (s *Session) enqueue(lane chan []byte, frame any) error {
	payload, err := protocol.EncodeServerFrame(frame)
	if err != nil {
		return err
	}
	select {
	case <-s.closed:
		return core.NewTransportError("session is closed")
	case lane <- payload:
		return nil
	}
}

// Close tears the session down: state flips to closed, the writer stops,
// pending async results are abandoned and the upstream handle is
// released. Safe to call from any goroutine any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.closed)
		if s.handle != nil {
			if err := s.handle.Close(); err != nil {
				s.logger.Warn("upstream handle close failed", "error", err)
			}
		}
		s.logger.Info("session closed",
			"turns", s.Turns(), "invocations", s.Invocations())
	})
}
