package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxdeck-ai/voxdeck/pkg/core"
	"github.com/voxdeck-ai/voxdeck/pkg/core/adapter"
	"github.com/voxdeck-ai/voxdeck/pkg/core/capability"
	"github.com/voxdeck-ai/voxdeck/pkg/core/chat"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/config"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/dispatch"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/metrics"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/protocol"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/session"
	"github.com/voxdeck-ai/voxdeck/pkg/workspace"
)

const handshakeTimeout = 5 * time.Second

// SessionHandler handles /v1/session WebSocket connections: one session
// per connection, created by the first (start) frame.
type SessionHandler struct {
	Config       config.Config
	Native       adapter.Adapter
	ChatFactory  *chat.Factory
	Capabilities *capability.Registry
	Awareness    workspace.ContextProvider
	Sessions     *session.Registry
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

func (h SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeCoreError(w, r, http.StatusMethodNotAllowed, &core.Error{
			Type: core.ErrInvalidRequest, Message: "method not allowed",
		})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.WSMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxMessageBytes)
	}

	start, ok := h.readStartFrame(conn)
	if !ok {
		return
	}

	sess, dispatcher, ok := h.openSession(r.Context(), conn, start)
	if !ok {
		return
	}
	startedAt := time.Now()
	h.Metrics.RecordSessionStart()
	unregister := h.Sessions.Register(sess)

	defer func() {
		sess.Close()
		unregister()
		h.Metrics.RecordSessionEnd(sess.Mode, sess.State().String(), time.Since(startedAt))
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := sess.RunWriter(conn, session.WriterConfig{
			PingInterval: h.Config.WSPingInterval,
			WriteTimeout: h.Config.WSWriteTimeout,
		}); err != nil {
			h.Logger.Warn("session writer stopped", "session_id", sess.ID, "error", err)
			sess.Close()
		}
	}()

	go h.forwardAdapterEvents(r.Context(), sess, dispatcher)

	_ = sess.SendPriority(protocol.ServerSetupComplete{
		SessionID: sess.ID,
		Mode:      sess.Mode,
		Resumed:   strings.TrimSpace(start.ResumptionToken) != "",
	})

	h.receiveLoop(conn, sess, dispatcher)
	sess.Close()
	<-writerDone
}

// readStartFrame reads and validates the handshake frame. Any failure
// here is terminal: the session never existed.
func (h SessionHandler) readStartFrame(conn *websocket.Conn) (protocol.ClientStart, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, raw, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "failed to read start frame")
		return protocol.ClientStart{}, false
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "first frame must be start")
		return protocol.ClientStart{}, false
	}

	decoded, err := protocol.DecodeClientFrame(raw)
	if err != nil {
		h.writeWSError(conn, err.Error())
		return protocol.ClientStart{}, false
	}
	start, ok := decoded.(protocol.ClientStart)
	if !ok {
		h.writeWSError(conn, "first frame must be start")
		return protocol.ClientStart{}, false
	}
	if err := protocol.ValidateStart(start); err != nil {
		h.writeWSError(conn, err.Error())
		return protocol.ClientStart{}, false
	}
	_ = conn.SetReadDeadline(time.Time{})
	return start, true
}

// openSession assembles the prompt, opens the upstream handle and
// activates the session. Configuration failures surface as an error
// frame; the session never reaches active.
func (h SessionHandler) openSession(ctx context.Context, conn *websocket.Conn, start protocol.ClientStart) (*session.Session, *dispatch.Dispatcher, bool) {
	prompt := workspace.SystemPrompt(h.Capabilities.Describe(), h.Awareness, start.SystemPromptAddendum)

	// Start-frame values win over the configured defaults; the adapters
	// carry built-in fallbacks for when both are empty.
	model := strings.TrimSpace(start.Model)
	if model == "" {
		switch start.Mode {
		case protocol.ModeNative:
			model = strings.TrimSpace(h.Config.DefaultNativeModel)
		case protocol.ModeTurnBased:
			model = strings.TrimSpace(h.Config.DefaultTurnModel)
		}
	}
	voice := strings.TrimSpace(start.Voice)
	if voice == "" {
		voice = strings.TrimSpace(h.Config.DefaultVoice)
	}

	req := adapter.OpenRequest{
		Model:           model,
		SystemPrompt:    prompt,
		Capabilities:    h.Capabilities.Declarations(),
		Voice:           voice,
		ResumptionToken: start.ResumptionToken,
	}

	var (
		handle adapter.Handle
		err    error
		// Bound after the session exists; only called once a turn is
		// in flight, well after binding.
		dispatcher *dispatch.Dispatcher
	)
	switch start.Mode {
	case protocol.ModeNative:
		if h.Native == nil {
			err = core.NewConfigurationError("native mode is not configured")
		} else {
			handle, err = h.Native.Open(ctx, req)
		}
	case protocol.ModeTurnBased:
		if h.ChatFactory == nil {
			err = core.NewConfigurationError("turn-based mode is not configured")
			break
		}
		round := func(ctx context.Context, name string, args map[string]any) any {
			return dispatcher.Round(ctx, name, args)
		}
		turn := adapter.NewTurnBased(h.ChatFactory, round, h.Logger)
		handle, err = turn.Open(ctx, req)
	default:
		err = core.NewInvalidRequestError("unsupported mode")
	}
	if err != nil {
		h.Metrics.RecordError("configuration")
		h.writeWSError(conn, err.Error())
		return nil, nil, false
	}

	sess := session.New("s_"+randHex(8), start.Mode, handle, h.Logger)
	if err := sess.Activate(); err != nil {
		sess.Close()
		h.writeWSError(conn, err.Error())
		return nil, nil, false
	}
	dispatcher = dispatch.New(h.Capabilities, sess, h.Metrics, h.Logger)
	return sess, dispatcher, true
}

// forwardAdapterEvents drains the upstream handle for the lifetime of
// the session, translating adapter events into server frames.
func (h SessionHandler) forwardAdapterEvents(ctx context.Context, sess *session.Session, dispatcher *dispatch.Dispatcher) {
	handle := sess.Handle()
	for event := range handle.Events() {
		switch ev := event.(type) {
		case adapter.AudioChunkEvent:
			h.Metrics.RecordAudio("out", len(ev.PCM))
			_ = sess.Send(protocol.ServerAudio{Data: base64.StdEncoding.EncodeToString(ev.PCM)})
		case adapter.TranscriptEvent:
			_ = sess.Send(protocol.ServerTranscript{Role: ev.Role, Text: ev.Text})
		case adapter.TextEvent:
			_ = sess.Send(protocol.ServerText{Text: ev.Text})
		case adapter.TurnCompleteEvent:
			turn := sess.IncrementTurn()
			_ = sess.Send(protocol.ServerTurnComplete{Turn: int(turn)})
		case adapter.InvocationRequestedEvent:
			dispatcher.HandleUpstream(ctx, ev)
		case adapter.ResumptionTokenEvent:
			sess.SetResumptionToken(ev.Token)
		case adapter.DrainingEvent:
			sess.BeginDraining()
			_ = sess.SendPriority(protocol.ServerDraining{
				ResumptionToken: sess.ResumptionToken(),
				Message:         ev.Message,
			})
		}
	}

	// The event stream only ends on Close or a terminal upstream error.
	if err := handle.Err(); err != nil {
		h.Metrics.RecordError("transport")
		h.Logger.Warn("upstream stream ended", "session_id", sess.ID, "error", err)
		_ = sess.SendPriority(protocol.ServerError{Message: err.Error()})
		sess.Close()
	}
}

// receiveLoop reads client frames until the connection drops or the
// caller ends the session. Malformed frames are dropped, not fatal.
func (h SessionHandler) receiveLoop(conn *websocket.Conn, sess *session.Session, dispatcher *dispatch.Dispatcher) {
	for {
		select {
		case <-sess.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		decoded, err := protocol.DecodeClientFrame(raw)
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				h.Metrics.RecordError("decode")
				h.Logger.Warn("dropping malformed frame", "session_id", sess.ID, "error", err)
				_ = sess.SendPriority(protocol.ServerError{Message: err.Error()})
				continue
			}
			return
		}

		switch frame := decoded.(type) {
		case protocol.ClientStart:
			_ = sess.SendPriority(protocol.ServerError{Message: "session is already started"})

		case protocol.ClientAudio:
			h.Metrics.RecordFrame("in", "audio")
			pcm, err := base64.StdEncoding.DecodeString(frame.Data)
			if err != nil {
				h.Metrics.RecordError("decode")
				_ = sess.SendPriority(protocol.ServerError{Message: "audio.data is not valid base64"})
				continue
			}
			h.Metrics.RecordAudio("in", len(pcm))
			if err := sess.Handle().SendAudio(pcm); err != nil {
				_ = sess.SendPriority(protocol.ServerError{Message: err.Error()})
			}

		case protocol.ClientText:
			h.Metrics.RecordFrame("in", "text")
			if err := sess.Handle().SendText(frame.Text); err != nil {
				_ = sess.SendPriority(protocol.ServerError{Message: err.Error()})
			}

		case protocol.ClientBrowserFunctionResult:
			h.Metrics.RecordFrame("in", "browser_function_result")
			dispatcher.ResolveBrowserResult(frame.CorrelationID, frame.Result)

		case protocol.ClientEnd:
			h.Metrics.RecordFrame("in", "end")
			sess.BeginDraining()
			return
		}
	}
}

func (h SessionHandler) writeWSError(conn *websocket.Conn, message string) {
	payload, err := protocol.EncodeServerFrame(protocol.ServerError{Message: message})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(2*time.Second))
}
