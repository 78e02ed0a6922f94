package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/voxdeck-ai/voxdeck/pkg/core"
	"github.com/voxdeck-ai/voxdeck/pkg/core/capability"
	"github.com/voxdeck-ai/voxdeck/pkg/core/chat"
)

const (
	// DefaultTurnBasedModel is used when a start frame names no model.
	DefaultTurnBasedModel = "gpt-4o-mini"

	// maxRoundsPerTurn bounds the internal model/invocation loop for one
	// caller turn. When the budget runs out, whatever text accumulated is
	// returned as the answer.
	maxRoundsPerTurn = 5
)

// TurnBased is the text-only adapter. Each caller turn runs a bounded
// internal loop: the model either answers with text (turn over) or
// requests invocations, which are resolved through the dispatcher and
// fed back as tool results for the next round.
type TurnBased struct {
	factory    *chat.Factory
	dispatcher RoundDispatcher
	logger     *slog.Logger
}

// NewTurnBased creates the turn-based adapter. The dispatcher resolves
// invocations raised inside a round; it must never be nil.
func NewTurnBased(factory *chat.Factory, dispatcher RoundDispatcher, logger *slog.Logger) *TurnBased {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnBased{factory: factory, dispatcher: dispatcher, logger: logger}
}

// Mode implements Adapter.
func (t *TurnBased) Mode() string { return "turn-based" }

// Open implements Adapter. Unlike the native adapter there is no
// upstream connection to establish; the first turn validates credentials.
func (t *TurnBased) Open(ctx context.Context, req OpenRequest) (Handle, error) {
	if t.dispatcher == nil {
		return nil, core.NewConfigurationError("turn-based adapter has no dispatcher")
	}
	if strings.TrimSpace(req.ResumptionToken) != "" {
		return nil, core.NewInvalidRequestError("turn-based mode does not support resumption")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = DefaultTurnBasedModel
	}

	h := &turnBasedHandle{
		factory:    t.factory,
		dispatcher: t.dispatcher,
		logger:     t.logger,
		model:      model,
		tools:      declarationsToChat(req.Capabilities),
		events:     make(chan Event, 64),
		turns:      make(chan string, 16),
		done:       make(chan struct{}),
	}
	if prompt := strings.TrimSpace(req.SystemPrompt); prompt != "" {
		h.history = append(h.history, chat.Message{Role: "system", Content: prompt})
	}
	go h.turnLoop(ctx)
	return h, nil
}

type turnBasedHandle struct {
	factory    *chat.Factory
	dispatcher RoundDispatcher
	logger     *slog.Logger
	model      string
	tools      []chat.Tool

	// history is only touched by turnLoop, so no lock is needed.
	history []chat.Message

	events chan Event
	turns  chan string
	done   chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func (h *turnBasedHandle) SendAudio(_ []byte) error {
	return core.NewInvalidRequestError("turn-based mode does not accept audio frames")
}

func (h *turnBasedHandle) SendText(text string) error {
	if h.closed.Load() {
		return core.NewTransportError("turn-based handle is closed")
	}
	select {
	case h.turns <- text:
		return nil
	case <-h.done:
		return core.NewTransportError("turn-based handle is closed")
	}
}

// SendInvocationResult is not part of the turn-based flow: invocations
// raised inside a round are resolved through the dispatcher before the
// round ends, so no correlation ever leaves the adapter.
func (h *turnBasedHandle) SendInvocationResult(name, _ string, _ any) error {
	return core.NewInvalidRequestError(fmt.Sprintf("turn-based mode resolves %q internally", name))
}

func (h *turnBasedHandle) Events() <-chan Event { return h.events }

func (h *turnBasedHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.done)
	})
	return nil
}

func (h *turnBasedHandle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

func (h *turnBasedHandle) setErr(err error) {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

// turnLoop serializes caller turns. Each turn mutates the shared history
// and emits a final TextEvent followed by TurnCompleteEvent.
func (h *turnBasedHandle) turnLoop(ctx context.Context) {
	defer close(h.events)
	for {
		select {
		case <-h.done:
			return
		case <-ctx.Done():
			h.setErr(core.NewTransportError("session context canceled"))
			return
		case text := <-h.turns:
			if err := h.runTurn(ctx, text); err != nil {
				h.setErr(err)
				return
			}
		}
	}
}

func (h *turnBasedHandle) runTurn(ctx context.Context, text string) error {
	h.history = append(h.history, chat.Message{Role: "user", Content: text})

	client := h.factory.Get()
	var accumulated strings.Builder

	for round := 1; round <= maxRoundsPerTurn; round++ {
		completion, err := client.Complete(ctx, &chat.CompletionRequest{
			Model:    h.model,
			Messages: h.history,
			Tools:    h.tools,
		})
		if err != nil {
			return err
		}

		if len(completion.ToolCalls) == 0 {
			h.history = append(h.history, chat.Message{Role: "assistant", Content: completion.Text})
			h.finishTurn(completion.Text)
			return nil
		}

		if completion.Text != "" {
			accumulated.WriteString(completion.Text)
		}
		h.history = append(h.history, chat.Message{
			Role:      "assistant",
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})

		for _, call := range completion.ToolCalls {
			h.history = append(h.history, h.resolveCall(ctx, call))
		}
	}

	// Round budget exhausted: answer with whatever text accumulated.
	h.logger.Warn("turn round budget exhausted", "model", h.model, "rounds", maxRoundsPerTurn)
	h.finishTurn(accumulated.String())
	return nil
}

// resolveCall routes one in-round invocation through the dispatcher and
// packages the payload as a tool message for the next round.
func (h *turnBasedHandle) resolveCall(ctx context.Context, call chat.ToolCall) chat.Message {
	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			h.logger.Warn("invocation arguments are not valid JSON",
				"function", call.Function.Name, "error", err)
			args = map[string]any{}
		}
	}

	payload := h.dispatcher(ctx, call.Function.Name, args)
	encoded, err := json.Marshal(capability.CoercePayload(payload))
	if err != nil {
		encoded = []byte(fmt.Sprintf("%q", fmt.Sprint(payload)))
	}
	return chat.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Content:    string(encoded),
	}
}

func (h *turnBasedHandle) finishTurn(text string) {
	h.emit(TextEvent{Text: text})
	h.emit(TurnCompleteEvent{})
}

func (h *turnBasedHandle) emit(event Event) {
	select {
	case h.events <- event:
	case <-h.done:
	}
}

func declarationsToChat(decls []capability.Declaration) []chat.Tool {
	out := make([]chat.Tool, 0, len(decls))
	for _, decl := range decls {
		fn := chat.ToolFunction{
			Name:        decl.Name,
			Description: decl.Description,
		}
		if len(decl.Params) > 0 {
			properties := make(map[string]any, len(decl.Params))
			var required []string
			for _, param := range decl.Params {
				properties[param.Name] = map[string]any{
					"type":        normalizeJSONType(param.Type),
					"description": param.Description,
				}
				if param.Required {
					required = append(required, param.Name)
				}
			}
			fn.Parameters = map[string]any{
				"type":       "object",
				"properties": properties,
			}
			if len(required) > 0 {
				fn.Parameters["required"] = required
			}
		}
		out = append(out, chat.Tool{Type: "function", Function: fn})
	}
	return out
}

func normalizeJSONType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "number", "integer", "boolean", "array", "object":
		return strings.ToLower(strings.TrimSpace(t))
	default:
		return "string"
	}
}
