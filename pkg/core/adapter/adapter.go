// Package adapter defines the common "converse" contract between a
// session and an upstream model backend, plus the two implementations:
// a native streaming adapter (raw audio/text frames) and a turn-based
// adapter (text only, internal bounded invocation loop).
package adapter

import (
	"context"

	"github.com/voxdeck-ai/voxdeck/pkg/core/capability"
)

// OpenRequest carries everything an adapter needs to open a handle.
// The system prompt is assembled once by the session and never changes
// for the lifetime of the handle.
type OpenRequest struct {
	Model           string
	SystemPrompt    string
	Capabilities    []capability.Declaration
	Voice           string
	ResumptionToken string
}

// Adapter opens conversational handles against one upstream backend.
type Adapter interface {
	// Mode returns the session mode this adapter serves
	// ("native" or "turn-based").
	Mode() string
	// Open establishes an upstream connection. Configuration failures
	// (missing credentials) surface here, before the session can
	// become active.
	Open(ctx context.Context, req OpenRequest) (Handle, error)
}

// Handle is one live upstream conversation. Close is idempotent: the
// underlying connection is released exactly once, and a double close
// must not error.
type Handle interface {
	// SendAudio forwards one caller audio frame (16 kHz mono s16le PCM).
	SendAudio(pcm []byte) error
	// SendText forwards one caller text turn.
	SendText(text string) error
	// SendInvocationResult feeds a completed invocation back upstream.
	// correlationID may be empty when the result needs no remote routing.
	SendInvocationResult(name, correlationID string, payload any) error
	// Events yields upstream events until the handle closes. The channel
	// is closed on terminal failure or Close; Err reports the terminal
	// error, if any.
	Events() <-chan Event
	Close() error
	Err() error
}

// Event is one upstream adapter event.
type Event interface {
	adapterEventType() string
}

// AudioChunkEvent carries raw output PCM (24 kHz mono s16le). Chunks must
// be forwarded to the client in the order received; no reordering buffer.
type AudioChunkEvent struct {
	PCM []byte
}

func (e AudioChunkEvent) adapterEventType() string { return "audio_chunk" }

// TranscriptEvent carries partial transcript text for one role.
type TranscriptEvent struct {
	Role string // "caller" or "assistant"
	Text string
}

func (e TranscriptEvent) adapterEventType() string { return "transcript" }

// TextEvent carries a final assistant text answer (turn-based mode).
type TextEvent struct {
	Text string
}

func (e TextEvent) adapterEventType() string { return "text" }

// TurnCompleteEvent marks the end of one model turn; the session
// increments its turn counter on receipt.
type TurnCompleteEvent struct{}

func (e TurnCompleteEvent) adapterEventType() string { return "turn_complete" }

// InvocationRequestedEvent is a model-initiated capability call.
type InvocationRequestedEvent struct {
	Name          string
	Args          map[string]any
	CorrelationID string
}

func (e InvocationRequestedEvent) adapterEventType() string { return "invocation_requested" }

// ResumptionTokenEvent delivers a fresh resumption token to store on the
// session.
type ResumptionTokenEvent struct {
	Token string
}

func (e ResumptionTokenEvent) adapterEventType() string { return "resumption_token" }

// DrainingEvent signals the upstream will disconnect soon; the client
// must be told to expect a reconnect.
type DrainingEvent struct {
	Message string
}

func (e DrainingEvent) adapterEventType() string { return "draining" }

// RoundDispatcher resolves one invocation raised inside a turn-based
// round and returns the JSON-serializable payload fed back into the next
// round. Classification and execution policy live in the dispatcher; the
// adapter only routes.
type RoundDispatcher func(ctx context.Context, name string, args map[string]any) any
