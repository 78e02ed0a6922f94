// Package protocol defines the JSON frame types exchanged over a voxdeck
// connection, plus the audio wire contract. Frames travel as WebSocket
// text messages; audio rides inside them base64-encoded.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// ModeNative streams raw audio/text to a native-audio upstream.
	ModeNative = "native"
	// ModeTurnBased exchanges text with a turn-based upstream that runs
	// its own bounded invocation loop.
	ModeTurnBased = "turn-based"

	// Audio wire contract. Not negotiable per session.
	AudioInSampleRateHz  = 16000
	AudioOutSampleRateHz = 24000
	AudioEncoding        = "pcm_s16le"
	AudioChannels        = 1
)

// DecodeError describes a frame that failed to decode. Transport policy:
// the frame is dropped and logged; the session survives.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// --- Client → server frames ---

// ClientStart opens a session.
type ClientStart struct {
	Type                 string `json:"type"`
	Mode                 string `json:"mode"`
	Model                string `json:"model"`
	Voice                string `json:"voice,omitempty"`
	SystemPromptAddendum string `json:"system_prompt_addendum,omitempty"`
	ResumptionToken      string `json:"resumption_token,omitempty"`
}

// ClientAudio carries one inbound audio frame: base64 16 kHz mono s16le PCM.
type ClientAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ClientText carries a typed caller turn.
type ClientText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientBrowserFunctionResult resolves an outstanding browser-delegated
// invocation.
type ClientBrowserFunctionResult struct {
	Type          string          `json:"type"`
	Name          string          `json:"name"`
	CorrelationID string          `json:"correlation_id"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// ClientEnd begins draining, then closes the session.
type ClientEnd struct {
	Type string `json:"type"`
}

// DecodeClientFrame decodes one client frame by its type field.
func DecodeClientFrame(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "start":
		var msg ClientStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start frame", "")
		}
		if err := ValidateStart(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		return msg, nil
	case "text":
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text.text is required", "text")
		}
		return msg, nil
	case "browser_function_result":
		var msg ClientBrowserFunctionResult
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid browser_function_result frame", "")
		}
		if strings.TrimSpace(msg.CorrelationID) == "" {
			return nil, badRequest("browser_function_result.correlation_id is required", "correlation_id")
		}
		return msg, nil
	case "end":
		var msg ClientEnd
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid end frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported frame type", "type")
	}
}

// ValidateStart checks the fields of a start frame. Model and voice are
// optional; the server falls back to its configured defaults.
func ValidateStart(msg ClientStart) error {
	mode := strings.TrimSpace(msg.Mode)
	switch mode {
	case ModeNative, ModeTurnBased:
	case "":
		return badRequest("start.mode is required", "mode")
	default:
		return unsupported("unsupported mode", "mode")
	}
	if mode == ModeTurnBased && strings.TrimSpace(msg.ResumptionToken) != "" {
		return unsupported("resumption_token is only meaningful in native mode", "resumption_token")
	}
	return nil
}

// --- Server → client frames ---

// ServerSetupComplete acknowledges a start frame.
type ServerSetupComplete struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Resumed   bool   `json:"resumed"`
}

// ServerAudio carries one outbound audio chunk: base64 24 kHz mono s16le PCM.
type ServerAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ServerText carries a final assistant text answer (turn-based mode).
type ServerText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerTranscript carries partial transcript text for one role.
type ServerTranscript struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// ServerTurnComplete reports the session turn counter after a completed turn.
type ServerTurnComplete struct {
	Type string `json:"type"`
	Turn int    `json:"turn"`
}

// ServerFunctionCall forwards an invocation to the client. Browser-delegated
// calls carry a correlation id the client must echo back.
type ServerFunctionCall struct {
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	Args          map[string]any `json:"args,omitempty"`
	Class         string         `json:"class"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Async         bool           `json:"async,omitempty"`
}

// ServerFunctionResult reports a completed synchronous invocation.
type ServerFunctionResult struct {
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ServerAsyncTaskStarted acknowledges an asynchronous-background invocation.
type ServerAsyncTaskStarted struct {
	Type     string `json:"type"`
	TaskID   string `json:"task_id"`
	Function string `json:"function"`
}

// ServerAsyncTaskComplete carries the final result of a background task.
// Completions may interleave with unrelated turn events; clients must key
// off task_id, not arrival order.
type ServerAsyncTaskComplete struct {
	Type     string          `json:"type"`
	TaskID   string          `json:"task_id"`
	Function string          `json:"function"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// ServerDraining tells the client the upstream will disconnect soon and
// hands over the latest resumption token.
type ServerDraining struct {
	Type            string `json:"type"`
	ResumptionToken string `json:"resumption_token,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ServerError surfaces a configuration or transport failure.
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeServerFrame marshals a server frame, stamping its type field.
func EncodeServerFrame(frame any) ([]byte, error) {
	switch f := frame.(type) {
	case ServerSetupComplete:
		f.Type = "setup_complete"
		return json.Marshal(f)
	case ServerAudio:
		f.Type = "audio"
		return json.Marshal(f)
	case ServerText:
		f.Type = "text"
		return json.Marshal(f)
	case ServerTranscript:
		f.Type = "transcript"
		return json.Marshal(f)
	case ServerTurnComplete:
		f.Type = "turn_complete"
		return json.Marshal(f)
	case ServerFunctionCall:
		f.Type = "function_call"
		return json.Marshal(f)
	case ServerFunctionResult:
		f.Type = "function_result"
		return json.Marshal(f)
	case ServerAsyncTaskStarted:
		f.Type = "async_task_started"
		return json.Marshal(f)
	case ServerAsyncTaskComplete:
		f.Type = "async_task_complete"
		return json.Marshal(f)
	case ServerDraining:
		f.Type = "draining"
		return json.Marshal(f)
	case ServerError:
		f.Type = "error"
		return json.Marshal(f)
	default:
		return nil, fmt.Errorf("unknown server frame type %T", frame)
	}
}

// DecodeServerFrame decodes one server frame by its type field. Used by
// the client-side supervisor and by round-trip tests.
func DecodeServerFrame(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}

	switch strings.TrimSpace(envelope.Type) {
	case "setup_complete":
		var msg ServerSetupComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid setup_complete frame", "")
		}
		return msg, nil
	case "audio":
		var msg ServerAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		return msg, nil
	case "text":
		var msg ServerText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		return msg, nil
	case "transcript":
		var msg ServerTranscript
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid transcript frame", "")
		}
		return msg, nil
	case "turn_complete":
		var msg ServerTurnComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid turn_complete frame", "")
		}
		return msg, nil
	case "function_call":
		var msg ServerFunctionCall
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid function_call frame", "")
		}
		return msg, nil
	case "function_result":
		var msg ServerFunctionResult
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid function_result frame", "")
		}
		return msg, nil
	case "async_task_started":
		var msg ServerAsyncTaskStarted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid async_task_started frame", "")
		}
		return msg, nil
	case "async_task_complete":
		var msg ServerAsyncTaskComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid async_task_complete frame", "")
		}
		return msg, nil
	case "draining":
		var msg ServerDraining
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid draining frame", "")
		}
		return msg, nil
	case "error":
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported frame type", "type")
	}
}
