// Package dispatch routes model-initiated invocations to their
// execution surface. Each capability carries a class that decides the
// path: sync-local runs inline, async-background runs under the session
// task supervisor, browser-delegated is forwarded to the client and
// matched back by correlation ID.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/voxdeck-ai/voxdeck/pkg/core"
	"github.com/voxdeck-ai/voxdeck/pkg/core/adapter"
	"github.com/voxdeck-ai/voxdeck/pkg/core/capability"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/metrics"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/protocol"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/session"
)

// Dispatcher is the per-session invocation router. It keeps the
// correlation table for browser-delegated calls, so it must not be
// shared across sessions.
type Dispatcher struct {
	caps    *capability.Registry
	sess    *session.Session
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]string // correlation ID -> function name
}

// New creates a dispatcher bound to one session.
func New(caps *capability.Registry, sess *session.Session, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		caps:    caps,
		sess:    sess,
		metrics: m,
		logger:  logger,
		pending: make(map[string]string),
	}
}

func failure(format string, args ...any) map[string]any {
	return map[string]any{
		"success": false,
		"error":   fmt.Sprintf(format, args...),
	}
}

// encodePayload renders a result payload for a client-facing frame.
// Payloads are coerced before they get here, so marshal failures are a
// programming error and degrade to a bare success object.
func encodePayload(payload any) json.RawMessage {
	encoded, err := json.Marshal(capability.CoercePayload(payload))
	if err != nil {
		return json.RawMessage(`{"success":true}`)
	}
	return encoded
}

// HandleUpstream routes one invocation raised by the native adapter.
// The client always sees a function_call frame; what happens next
// depends on the class.
func (d *Dispatcher) HandleUpstream(ctx context.Context, ev adapter.InvocationRequestedEvent) {
	d.sess.IncrementInvocations()

	cap, ok := d.caps.Get(ev.Name)
	if !ok {
		payload := failure("unknown capability: %s", ev.Name)
		d.metrics.RecordInvocation("unknown", "rejected")
		d.feedUpstream(ev.Name, ev.CorrelationID, payload)
		return
	}

	correlationID := ev.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	_ = d.sess.SendPriority(protocol.ServerFunctionCall{
		Name:          ev.Name,
		Args:          ev.Args,
		Class:         string(cap.Class),
		CorrelationID: correlationID,
		Async:         cap.Class == capability.ClassAsync,
	})

	switch cap.Class {
	case capability.ClassBrowser:
		d.trackBrowserCall(correlationID, ev.Name)

	case capability.ClassSync:
		payload := d.runSync(ctx, cap, ev.Args)
		d.feedUpstream(ev.Name, ev.CorrelationID, payload)
		_ = d.sess.SendPriority(protocol.ServerFunctionResult{Name: ev.Name, Result: encodePayload(payload)})

	case capability.ClassAsync:
		ack := d.startAsync(ctx, cap, ev.Args)
		d.feedUpstream(ev.Name, ev.CorrelationID, ack)
	}
}

// Round implements adapter.RoundDispatcher for turn-based mode. The
// returned payload becomes the tool result for the next model round.
// Browser-delegated calls cannot complete inside a round: the call is
// forwarded to the client and the round continues on a delegation ack.
func (d *Dispatcher) Round(ctx context.Context, name string, args map[string]any) any {
	d.sess.IncrementInvocations()

	cap, ok := d.caps.Get(name)
	if !ok {
		d.metrics.RecordInvocation("unknown", "rejected")
		return failure("unknown capability: %s", name)
	}

	switch cap.Class {
	case capability.ClassBrowser:
		correlationID := uuid.NewString()
		d.trackBrowserCall(correlationID, name)
		_ = d.sess.SendPriority(protocol.ServerFunctionCall{
			Name:          name,
			Args:          args,
			Class:         string(cap.Class),
			CorrelationID: correlationID,
		})
		return map[string]any{"success": true, "status": "delegated"}

	case capability.ClassAsync:
		return d.startAsync(ctx, cap, args)

	default:
		return d.runSync(ctx, cap, args)
	}
}

// ResolveBrowserResult matches a client-reported result against the
// correlation table. Results with no outstanding call are dropped and
// counted, never treated as fatal.
func (d *Dispatcher) ResolveBrowserResult(correlationID string, raw json.RawMessage) {
	d.mu.Lock()
	name, ok := d.pending[correlationID]
	if ok {
		delete(d.pending, correlationID)
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("dropping browser result with no outstanding call",
			"correlation_id", correlationID)
		d.metrics.RecordDroppedCorrelation()
		return
	}

	var payload any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			payload = failure("browser result for %s was not valid JSON", name)
		}
	} else {
		payload = map[string]any{"success": true}
	}

	d.metrics.RecordInvocation("browser", "completed")

	err := d.sess.Handle().SendInvocationResult(name, correlationID, payload)
	if err == nil {
		return
	}
	// Turn-based handles resolve invocations in-round and reject external
	// results; surface the result to the client instead.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr.Type == core.ErrInvalidRequest {
		_ = d.sess.SendPriority(protocol.ServerFunctionResult{Name: name, Result: encodePayload(payload)})
		return
	}
	d.logger.Warn("failed to feed browser result upstream",
		"function", name, "correlation_id", correlationID, "error", err)
}

// OutstandingBrowserCalls reports the number of unresolved correlations.
func (d *Dispatcher) OutstandingBrowserCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) trackBrowserCall(correlationID, name string) {
	d.mu.Lock()
	if old, exists := d.pending[correlationID]; exists {
		d.logger.Warn("replacing outstanding browser call",
			"correlation_id", correlationID, "old_function", old, "function", name)
	}
	d.pending[correlationID] = name
	d.mu.Unlock()
	d.metrics.RecordInvocation("browser", "delegated")
}

// runSync executes a sync-local capability inline. Errors and panics
// are coerced into failure payloads so a bad invoker can never take the
// session down.
func (d *Dispatcher) runSync(ctx context.Context, cap capability.Capability, args map[string]any) (payload any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("sync invocation panicked", "function", cap.Name, "panic", r)
			d.metrics.RecordInvocation("sync", "panicked")
			payload = failure("invocation %s panicked: %v", cap.Name, r)
		}
	}()

	result, err := cap.Invoke(ctx, args)
	if err != nil {
		d.metrics.RecordInvocation("sync", "failed")
		return failure("%v", err)
	}
	d.metrics.RecordInvocation("sync", "completed")

	if m, ok := capability.CoercePayload(result).(map[string]any); ok {
		return m
	}
	return map[string]any{"success": true, "result": capability.CoercePayload(result)}
}

// startAsync launches a background invocation under the session task
// supervisor and returns the start ack fed back to the model. The
// completion frame carries the same task ID as the start frame.
// Dispatched tasks outlive the caller: the invocation context is
// detached so ending the session never cancels work already in flight.
func (d *Dispatcher) startAsync(ctx context.Context, cap capability.Capability, args map[string]any) map[string]any {
	taskID := uuid.NewString()
	ctx = context.WithoutCancel(ctx)

	_ = d.sess.SendPriority(protocol.ServerAsyncTaskStarted{
		TaskID:   taskID,
		Function: cap.Name,
	})

	d.sess.Tasks().Go(taskID, cap.Name, func() any {
		result, err := cap.Invoke(ctx, args)
		if err != nil {
			return failure("%v", err)
		}
		if m, ok := capability.CoercePayload(result).(map[string]any); ok {
			return m
		}
		return map[string]any{"success": true, "result": capability.CoercePayload(result)}
	}, func(taskID, name string, payload any) {
		status := "completed"
		if m, ok := payload.(map[string]any); ok {
			if success, ok := m["success"].(bool); ok && !success {
				status = "failed"
			}
		}
		d.metrics.RecordAsyncTask(status)
		_ = d.sess.SendPriority(protocol.ServerAsyncTaskComplete{
			TaskID:   taskID,
			Function: name,
			Result:   encodePayload(payload),
		})
	})

	d.metrics.RecordInvocation("async", "started")
	return map[string]any{"success": true, "status": "started", "task_id": taskID}
}

// feedUpstream pushes an invocation payload back to the native handle.
func (d *Dispatcher) feedUpstream(name, correlationID string, payload any) {
	if err := d.sess.Handle().SendInvocationResult(name, correlationID, payload); err != nil {
		d.logger.Warn("failed to feed invocation result upstream",
			"function", name, "error", err)
	}
}
