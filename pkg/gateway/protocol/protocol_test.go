package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientFrame(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    any
		wantErr bool
	}{
		{
			name: "start native",
			raw:  `{"type":"start","mode":"native","model":"gemini-2.0-flash-live-001","voice":"A"}`,
			want: ClientStart{Type: "start", Mode: "native", Model: "gemini-2.0-flash-live-001", Voice: "A"},
		},
		{
			name: "start with resumption token",
			raw:  `{"type":"start","mode":"native","model":"m","resumption_token":"tok-1"}`,
			want: ClientStart{Type: "start", Mode: "native", Model: "m", ResumptionToken: "tok-1"},
		},
		{
			name: "start without model",
			raw:  `{"type":"start","mode":"turn-based"}`,
			want: ClientStart{Type: "start", Mode: "turn-based"},
		},
		{
			name:    "start missing mode",
			raw:     `{"type":"start","model":"m"}`,
			wantErr: true,
		},
		{
			name:    "start unknown mode",
			raw:     `{"type":"start","mode":"batch","model":"m"}`,
			wantErr: true,
		},
		{
			name:    "turn-based start rejects resumption token",
			raw:     `{"type":"start","mode":"turn-based","model":"m","resumption_token":"tok"}`,
			wantErr: true,
		},
		{
			name: "audio",
			raw:  `{"type":"audio","data":"AAAA"}`,
			want: ClientAudio{Type: "audio", Data: "AAAA"},
		},
		{
			name:    "audio without data",
			raw:     `{"type":"audio"}`,
			wantErr: true,
		},
		{
			name: "text",
			raw:  `{"type":"text","text":"list my projects"}`,
			want: ClientText{Type: "text", Text: "list my projects"},
		},
		{
			name: "browser function result",
			raw:  `{"type":"browser_function_result","name":"read_page","correlation_id":"c-1","result":{"title":"Home"}}`,
			want: ClientBrowserFunctionResult{
				Type:          "browser_function_result",
				Name:          "read_page",
				CorrelationID: "c-1",
				Result:        json.RawMessage(`{"title":"Home"}`),
			},
		},
		{
			name:    "browser function result without correlation id",
			raw:     `{"type":"browser_function_result","name":"read_page"}`,
			wantErr: true,
		},
		{
			name: "end",
			raw:  `{"type":"end"}`,
			want: ClientEnd{Type: "end"},
		},
		{
			name:    "garbage",
			raw:     `not json`,
			wantErr: true,
		},
		{
			name:    "unknown type",
			raw:     `{"type":"reboot"}`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeClientFrame([]byte(tc.raw))
			if tc.wantErr {
				require.Error(t, err)
				var decodeErr *DecodeError
				require.ErrorAs(t, err, &decodeErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Encoding then decoding any server frame must yield a value equal to the
// original for every defined field.
func TestServerFrameRoundTrip(t *testing.T) {
	frames := []any{
		ServerSetupComplete{Type: "setup_complete", SessionID: "s_1", Mode: "native", Resumed: true},
		ServerAudio{Type: "audio", Data: "UklGRg=="},
		ServerText{Type: "text", Text: "done"},
		ServerTranscript{Type: "transcript", Role: "caller", Text: "open the dashboard"},
		ServerTurnComplete{Type: "turn_complete", Turn: 3},
		ServerFunctionCall{
			Type:          "function_call",
			Name:          "navigate",
			Args:          map[string]any{"url": "https://example.test"},
			Class:         "browser",
			CorrelationID: "c-7",
		},
		ServerFunctionCall{Type: "function_call", Name: "generate_code", Class: "async", Async: true},
		ServerFunctionResult{Type: "function_result", Name: "list_projects", Result: json.RawMessage(`{"projects":[]}`)},
		ServerAsyncTaskStarted{Type: "async_task_started", TaskID: "t-1", Function: "generate_code"},
		ServerAsyncTaskComplete{Type: "async_task_complete", TaskID: "t-1", Function: "generate_code", Result: json.RawMessage(`{"success":true}`)},
		ServerDraining{Type: "draining", ResumptionToken: "tok-9", Message: "upstream reconnect imminent"},
		ServerError{Type: "error", Message: "missing credentials"},
	}

	for _, frame := range frames {
		encoded, err := EncodeServerFrame(frame)
		require.NoError(t, err, "encode %T", frame)

		decoded, err := DecodeServerFrame(encoded)
		require.NoError(t, err, "decode %T", frame)
		assert.Equal(t, frame, decoded, "round trip %T", frame)
	}
}

func TestEncodeServerFrameRejectsUnknown(t *testing.T) {
	_, err := EncodeServerFrame(struct{ X int }{1})
	require.Error(t, err)
}

func TestDecodeServerFrameRejectsUnknownType(t *testing.T) {
	_, err := DecodeServerFrame([]byte(`{"type":"telemetry"}`))
	require.Error(t, err)
}
