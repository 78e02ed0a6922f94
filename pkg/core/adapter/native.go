package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/voxdeck-ai/voxdeck/pkg/core"
	"github.com/voxdeck-ai/voxdeck/pkg/core/capability"
)

const (
	// DefaultNativeModel is used when a start frame names no model.
	DefaultNativeModel = "gemini-2.0-flash-live-001"

	audioInMIMEType = "audio/pcm;rate=16000"
)

// Native is the streaming adapter over the Gemini Live API. It exchanges
// raw audio/text frames and surfaces audio, transcript, invocation and
// lifecycle events, including session-resumption handles and GoAway
// (draining) notices.
type Native struct {
	apiKey string
	logger *slog.Logger
}

// NewNative creates the native adapter. The key is checked at Open so
// configuration failures surface before the session becomes active.
func NewNative(apiKey string, logger *slog.Logger) *Native {
	if logger == nil {
		logger = slog.Default()
	}
	return &Native{apiKey: strings.TrimSpace(apiKey), logger: logger}
}

// Mode implements Adapter.
func (n *Native) Mode() string { return "native" }

// Open implements Adapter.
func (n *Native) Open(ctx context.Context, req OpenRequest) (Handle, error) {
	if n.apiKey == "" {
		return nil, core.NewConfigurationError("missing native backend API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  n.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewConfigurationError(fmt.Sprintf("native backend client: %v", err))
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = DefaultNativeModel
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		SessionResumption:        &genai.SessionResumptionConfig{},
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if decls := declarationsToGenAI(req.Capabilities); len(decls) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if voice := strings.TrimSpace(req.Voice); voice != "" {
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if token := strings.TrimSpace(req.ResumptionToken); token != "" {
		config.SessionResumption.Handle = token
	}

	session, err := client.Live.Connect(ctx, model, config)
	if err != nil {
		return nil, core.NewConfigurationError(fmt.Sprintf("native backend connect: %v", err))
	}

	h := &nativeHandle{
		session: session,
		logger:  n.logger,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	go h.receiveLoop()
	return h, nil
}

type nativeHandle struct {
	session *genai.Session
	logger  *slog.Logger

	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func (h *nativeHandle) SendAudio(pcm []byte) error {
	if h.closed.Load() {
		return core.NewTransportError("native handle is closed")
	}
	return h.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{MIMEType: audioInMIMEType, Data: pcm},
	})
}

func (h *nativeHandle) SendText(text string) error {
	if h.closed.Load() {
		return core.NewTransportError("native handle is closed")
	}
	return h.session.SendClientContent(textTurnInput(text))
}

// textTurnInput packages one caller text message as a complete turn.
func textTurnInput(text string) genai.LiveClientContentInput {
	return genai.LiveClientContentInput{
		Turns: []*genai.Content{{
			Role:  "user",
			Parts: []*genai.Part{{Text: text}},
		}},
		TurnComplete: genai.Ptr(true),
	}
}

func (h *nativeHandle) SendInvocationResult(name, correlationID string, payload any) error {
	if h.closed.Load() {
		return core.NewTransportError("native handle is closed")
	}
	response, ok := capability.CoercePayload(payload).(map[string]any)
	if !ok {
		response = map[string]any{"result": capability.CoercePayload(payload)}
	}
	return h.session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       correlationID,
			Name:     name,
			Response: response,
		}},
	})
}

func (h *nativeHandle) Events() <-chan Event { return h.events }

func (h *nativeHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		_ = h.session.Close()
	})
	return nil
}

func (h *nativeHandle) Err() error {
	<-h.done
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

func (h *nativeHandle) setErr(err error) {
	if err == nil {
		return
	}
	h.errMu.Lock()
	defer h.errMu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

func (h *nativeHandle) receiveLoop() {
	defer close(h.done)
	defer close(h.events)

	for {
		message, err := h.session.Receive()
		if err != nil {
			if !h.closed.Load() {
				h.setErr(core.NewTransportError(fmt.Sprintf("native backend receive: %v", err)))
			}
			return
		}
		h.translate(message)
	}
}

// translate maps one upstream message to adapter events, preserving the
// order the backend produced them.
func (h *nativeHandle) translate(message *genai.LiveServerMessage) {
	if message == nil {
		return
	}

	if update := message.SessionResumptionUpdate; update != nil {
		if update.Resumable && strings.TrimSpace(update.NewHandle) != "" {
			h.emit(ResumptionTokenEvent{Token: update.NewHandle})
		}
	}

	if goAway := message.GoAway; goAway != nil {
		h.emit(DrainingEvent{Message: "upstream connection about to terminate"})
	}

	if content := message.ServerContent; content != nil {
		if content.InputTranscription != nil && content.InputTranscription.Text != "" {
			h.emit(TranscriptEvent{Role: "caller", Text: content.InputTranscription.Text})
		}
		if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
			h.emit(TranscriptEvent{Role: "assistant", Text: content.OutputTranscription.Text})
		}
		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				if part == nil {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					h.emit(AudioChunkEvent{PCM: part.InlineData.Data})
				}
				if part.Text != "" {
					h.emit(TranscriptEvent{Role: "assistant", Text: part.Text})
				}
			}
		}
		if content.TurnComplete {
			h.emit(TurnCompleteEvent{})
		}
	}

	if toolCall := message.ToolCall; toolCall != nil {
		for _, call := range toolCall.FunctionCalls {
			if call == nil || strings.TrimSpace(call.Name) == "" {
				continue
			}
			h.emit(InvocationRequestedEvent{
				Name:          call.Name,
				Args:          call.Args,
				CorrelationID: call.ID,
			})
		}
	}
}

// emit hands one event to the consumer. Audio chunks may be dropped
// under backpressure, where losing one only degrades playback. Control
// events (turn boundaries, invocations, resumption handles) block until
// the consumer takes them; the consumer drains the channel until it
// closes, so a blocked send always resolves.
func (h *nativeHandle) emit(event Event) {
	if _, ok := event.(AudioChunkEvent); ok {
		select {
		case h.events <- event:
		default:
			h.logger.Warn("native adapter dropped audio chunk", "reason", "slow consumer")
		}
		return
	}
	h.events <- event
}

func declarationsToGenAI(decls []capability.Declaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, decl := range decls {
		fd := &genai.FunctionDeclaration{
			Name:        decl.Name,
			Description: decl.Description,
		}
		if len(decl.Params) > 0 {
			schema := &genai.Schema{
				Type:       genai.TypeObject,
				Properties: make(map[string]*genai.Schema, len(decl.Params)),
			}
			for _, param := range decl.Params {
				schema.Properties[param.Name] = &genai.Schema{
					Type:        genAIType(param.Type),
					Description: param.Description,
				}
				if param.Required {
					schema.Required = append(schema.Required, param.Name)
				}
			}
			fd.Parameters = schema
		}
		out = append(out, fd)
	}
	return out
}

func genAIType(t string) genai.Type {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
