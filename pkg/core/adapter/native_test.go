package adapter

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/genai"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNativeHandle(buffer int) *nativeHandle {
	return &nativeHandle{
		logger: discardLogger(),
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func TestTextTurnInputCompletesTurn(t *testing.T) {
	input := textTurnInput("what time is it")
	if input.TurnComplete == nil || !*input.TurnComplete {
		t.Fatal("text input must mark the turn complete")
	}
	if len(input.Turns) != 1 || input.Turns[0].Parts[0].Text != "what time is it" {
		t.Fatalf("unexpected turns: %+v", input.Turns)
	}
}

func TestEmitNeverDropsControlEvents(t *testing.T) {
	h := newTestNativeHandle(1)
	h.emit(AudioChunkEvent{PCM: []byte{1}}) // fills the buffer

	delivered := make(chan struct{})
	go func() {
		h.emit(TurnCompleteEvent{})
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("control event must wait for the consumer, not be dropped")
	case <-time.After(50 * time.Millisecond):
	}

	if _, ok := (<-h.events).(AudioChunkEvent); !ok {
		t.Fatal("expected the buffered audio chunk first")
	}
	if _, ok := (<-h.events).(TurnCompleteEvent); !ok {
		t.Fatal("expected the blocked turn completion next")
	}
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("emit did not return after the consumer caught up")
	}
}

func TestEmitDropsAudioUnderBackpressure(t *testing.T) {
	h := newTestNativeHandle(1)
	h.emit(AudioChunkEvent{PCM: []byte{1}})
	h.emit(AudioChunkEvent{PCM: []byte{2}}) // buffer full, dropped

	first := (<-h.events).(AudioChunkEvent)
	if first.PCM[0] != 1 {
		t.Fatalf("unexpected chunk: %v", first)
	}
	select {
	case ev := <-h.events:
		t.Fatalf("overflow chunk should have been dropped, got %v", ev)
	default:
	}
}

func TestTranslatePreservesUpstreamOrder(t *testing.T) {
	h := newTestNativeHandle(16)
	h.translate(&genai.LiveServerMessage{
		SessionResumptionUpdate: &genai.LiveServerSessionResumptionUpdate{
			Resumable: true,
			NewHandle: "tok-1",
		},
		ServerContent: &genai.LiveServerContent{
			OutputTranscription: &genai.Transcription{Text: "sure"},
			ModelTurn: &genai.Content{
				Parts: []*genai.Part{{InlineData: &genai.Blob{Data: []byte{1, 2}}}},
			},
			TurnComplete: true,
		},
	})
	h.translate(&genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{
			FunctionCalls: []*genai.FunctionCall{{ID: "corr-1", Name: "get_time"}},
		},
	})
	close(h.events)

	var got []string
	for ev := range h.events {
		got = append(got, ev.adapterEventType())
	}
	want := []string{"resumption_token", "transcript", "audio_chunk", "turn_complete", "invocation_requested"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}
