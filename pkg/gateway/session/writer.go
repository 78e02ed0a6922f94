package session

import (
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// WriterConfig tunes the outbound writer.
type WriterConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// RunWriter drains the session's outbound lanes onto one WebSocket
// connection. Priority frames always win over normal frames; a queued
// normal frame can still be preempted by a priority frame that arrives
// before it is written. Runs until the session closes or a write fails.
func (s *Session) RunWriter(ws wsWriter, cfg WriterConfig) error {
	if ws == nil {
		return nil
	}

	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var pendingNormal []byte

	writeText := func(payload []byte) error {
		if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return ws.WriteMessage(websocket.TextMessage, payload)
	}

	for {
		select {
		case <-s.closed:
			s.flushPriorityOnShutdown(ws, writeTimeout)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			_ = ws.Close()
			return nil
		default:
		}

		// Hard priority: drain the priority lane before anything else.
		select {
		case payload := <-s.outPriority:
			if err := writeText(payload); err != nil {
				return err
			}
			continue
		default:
		}

		if pendingNormal != nil {
			select {
			case payload := <-s.outPriority:
				if err := writeText(payload); err != nil {
					return err
				}
				continue
			default:
			}
			if err := writeText(pendingNormal); err != nil {
				return err
			}
			pendingNormal = nil
			continue
		}

		select {
		case <-s.closed:
			continue
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case payload := <-s.outPriority:
			if err := writeText(payload); err != nil {
				return err
			}
		case payload := <-s.outNormal:
			pendingNormal = payload
		}
	}
}

// flushPriorityOnShutdown gives queued priority frames (errors, draining
// notices) a short window to reach the client before the socket closes.
func (s *Session) flushPriorityOnShutdown(ws wsWriter, writeTimeout time.Duration) {
	flushTimeout := 100 * time.Millisecond
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}

	deadline := time.Now().Add(flushTimeout)
	const maxFlushFrames = 8

	for i := 0; i < maxFlushFrames && time.Now().Before(deadline); i++ {
		select {
		case payload := <-s.outPriority:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = ws.WriteMessage(websocket.TextMessage, payload)
		default:
			return
		}
	}
}
