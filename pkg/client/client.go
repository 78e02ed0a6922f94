// Package client is the Go client for a voxdeck gateway: it holds one
// session over WebSocket, decodes server frames, and supervises
// reconnection with the most recent resumption token.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxdeck-ai/voxdeck/pkg/gateway/protocol"
)

const (
	// Reconnect policy: up to 3 attempts with doubling backoff
	// (500ms, 1s, 2s by default), then a terminal error.
	defaultMaxReconnects = 3
	defaultReconnectBase = 500 * time.Millisecond
)

// wsConn is the slice of *websocket.Conn the supervisor uses. Tests
// substitute scripted connections.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc establishes one WebSocket connection.
type DialFunc func(ctx context.Context, url string) (wsConn, error)

func gorillaDial(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// Options configures a Supervisor.
type Options struct {
	URL                  string
	Mode                 string
	Model                string
	Voice                string
	SystemPromptAddendum string

	MaxReconnects int
	ReconnectBase time.Duration
	Logger        *slog.Logger
}

// Supervisor owns one logical session across physical reconnects. Run
// drives it; the Send methods are safe from other goroutines once Run
// has connected.
type Supervisor struct {
	opts   Options
	dial   DialFunc
	sleep  func(time.Duration)
	logger *slog.Logger

	mu        sync.Mutex
	conn      wsConn
	token     string
	sessionID string
}

// New creates a supervisor. Zero reconnect options take the defaults.
func New(opts Options) *Supervisor {
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = defaultMaxReconnects
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = defaultReconnectBase
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		opts:   opts,
		dial:   gorillaDial,
		sleep:  time.Sleep,
		logger: logger,
	}
}

// SessionID returns the server-assigned id once setup completes.
func (s *Supervisor) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// ResumptionToken returns the most recent token handed out by the server.
func (s *Supervisor) ResumptionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Run connects, then reads server frames onto frames until ctx is
// canceled or the reconnect budget is exhausted. The frames channel is
// closed when Run returns.
func (s *Supervisor) Run(ctx context.Context, frames chan<- any) error {
	defer close(frames)

	if err := s.connect(ctx); err != nil {
		return err
	}
	defer s.closeConn()

	for {
		raw, err := s.readRaw()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.reconnect(ctx, err); err != nil {
				return err
			}
			continue
		}

		frame, err := protocol.DecodeServerFrame(raw)
		if err != nil {
			s.logger.Warn("dropping malformed server frame", "error", err)
			continue
		}

		switch f := frame.(type) {
		case protocol.ServerSetupComplete:
			s.mu.Lock()
			s.sessionID = f.SessionID
			s.mu.Unlock()
		case protocol.ServerDraining:
			if f.ResumptionToken != "" {
				s.mu.Lock()
				s.token = f.ResumptionToken
				s.mu.Unlock()
			}
		}

		select {
		case frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SendText sends one typed caller turn.
func (s *Supervisor) SendText(text string) error {
	return s.writeFrame(protocol.ClientText{Type: "text", Text: text})
}

// SendAudio sends one caller audio frame (16 kHz mono s16le PCM).
func (s *Supervisor) SendAudio(pcm []byte) error {
	return s.writeFrame(protocol.ClientAudio{
		Type: "audio",
		Data: base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendBrowserResult resolves a delegated function call.
func (s *Supervisor) SendBrowserResult(name, correlationID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal browser result: %w", err)
	}
	return s.writeFrame(protocol.ClientBrowserFunctionResult{
		Type:          "browser_function_result",
		Name:          name,
		CorrelationID: correlationID,
		Result:        raw,
	})
}

// End asks the server to drain and close the session.
func (s *Supervisor) End() error {
	return s.writeFrame(protocol.ClientEnd{Type: "end"})
}

func (s *Supervisor) connect(ctx context.Context) error {
	conn, err := s.dial(ctx, s.opts.URL)
	if err != nil {
		return err
	}

	start := protocol.ClientStart{
		Type:                 "start",
		Mode:                 s.opts.Mode,
		Model:                s.opts.Model,
		Voice:                s.opts.Voice,
		SystemPromptAddendum: s.opts.SystemPromptAddendum,
	}
	// Only the native backend can resume; the turn-based server rejects
	// tokens outright.
	if s.opts.Mode == protocol.ModeNative {
		start.ResumptionToken = s.ResumptionToken()
	}

	payload, err := json.Marshal(start)
	if err != nil {
		conn.Close()
		return fmt.Errorf("marshal start frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return fmt.Errorf("send start frame: %w", err)
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// reconnect retries the connection with doubling backoff. It fails
// terminally once the attempt budget is spent.
func (s *Supervisor) reconnect(ctx context.Context, cause error) error {
	s.closeConn()

	lastErr := cause
	for attempt := 0; attempt < s.opts.MaxReconnects; attempt++ {
		delay := s.opts.ReconnectBase << attempt
		s.logger.Info("reconnecting",
			"attempt", attempt+1, "max", s.opts.MaxReconnects, "delay", delay)
		s.sleep(delay)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.connect(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("connection lost after %d reconnect attempts: %w",
		s.opts.MaxReconnects, lastErr)
}

func (s *Supervisor) readRaw() ([]byte, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, errors.New("not connected")
	}

	_, raw, err := conn.ReadMessage()
	return raw, err
}

func (s *Supervisor) writeFrame(frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("not connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Supervisor) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
