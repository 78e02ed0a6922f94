package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/voxdeck-ai/voxdeck/pkg/core"
	"github.com/voxdeck-ai/voxdeck/pkg/core/capability"
)

// InvokeHandler runs one capability synchronously over REST. Browser
// capabilities cannot run here: there is no connected client to
// delegate to.
type InvokeHandler struct {
	Capabilities *capability.Registry
	Logger       *slog.Logger
}

type invokeRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type invokeResponse struct {
	Name   string `json:"name"`
	Result any    `json:"result"`
}

func (h InvokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeCoreError(w, r, http.StatusMethodNotAllowed, &core.Error{
			Type: core.ErrInvalidRequest, Message: "method not allowed",
		})
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCoreError(w, r, http.StatusBadRequest, &core.Error{
			Type: core.ErrInvalidRequest, Message: "invalid json body",
		})
		return
	}
	if req.Name == "" {
		writeCoreError(w, r, http.StatusBadRequest, &core.Error{
			Type: core.ErrInvalidRequest, Message: "name is required", Param: "name",
		})
		return
	}

	cap, ok := h.Capabilities.Get(req.Name)
	if !ok {
		writeCoreError(w, r, http.StatusNotFound, &core.Error{
			Type: core.ErrNotFound, Message: fmt.Sprintf("unknown capability: %s", req.Name),
		})
		return
	}
	if cap.Class == capability.ClassBrowser {
		writeCoreError(w, r, http.StatusBadRequest, &core.Error{
			Type:    core.ErrInvocation,
			Message: fmt.Sprintf("%s is browser-delegated and requires a live session", req.Name),
		})
		return
	}

	payload := invokeInline(r.Context(), cap, req.Args)
	writeJSON(w, http.StatusOK, invokeResponse{Name: req.Name, Result: payload})
}

// invokeInline runs one non-browser capability in the request goroutine
// and coerces every outcome, panics included, into a result payload.
func invokeInline(ctx context.Context, cap capability.Capability, args map[string]any) (payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			payload = map[string]any{
				"success": false,
				"error":   fmt.Sprintf("%s panicked: %v", cap.Name, rec),
			}
		}
	}()

	result, err := cap.Invoke(ctx, args)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	result = capability.CoercePayload(result)
	if m, ok := result.(map[string]any); ok {
		return m
	}
	return map[string]any{"success": true, "result": result}
}

// restDispatch adapts the capability registry to the macro engine's
// dispatch contract for REST-initiated runs. Async steps run inline so
// the trail reflects their real outcome; browser steps fail because no
// client is attached.
func restDispatch(caps *capability.Registry) func(ctx context.Context, name string, args map[string]any) any {
	return func(ctx context.Context, name string, args map[string]any) any {
		cap, ok := caps.Get(name)
		if !ok {
			return map[string]any{"success": false, "error": fmt.Sprintf("unknown capability: %s", name)}
		}
		if cap.Class == capability.ClassBrowser {
			return map[string]any{
				"success": false,
				"error":   fmt.Sprintf("%s is browser-delegated and requires a live session", name),
			}
		}
		return invokeInline(ctx, cap, args)
	}
}
