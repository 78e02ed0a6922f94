package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voxdeck-ai/voxdeck/pkg/core"
	"github.com/voxdeck-ai/voxdeck/pkg/core/capability"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/macro"
)

// MacrosHandler serves the macro management surface under /v1/macros:
// list, create, delete and run. Runs replay through the same dispatch
// contract live sessions use.
type MacrosHandler struct {
	Engine       *macro.Engine
	Capabilities *capability.Registry
	Logger       *slog.Logger
}

func (h MacrosHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/macros"), "/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		h.list(w, r)
	case rest == "" && r.Method == http.MethodPost:
		h.create(w, r)
	case rest != "" && strings.HasSuffix(rest, "/run") && r.Method == http.MethodPost:
		h.run(w, r, strings.TrimSuffix(rest, "/run"))
	case rest != "" && !strings.Contains(rest, "/") && r.Method == http.MethodDelete:
		h.delete(w, r, rest)
	case rest != "" && !strings.Contains(rest, "/") && r.Method == http.MethodGet:
		h.get(w, r, rest)
	default:
		writeCoreError(w, r, http.StatusNotFound, &core.Error{
			Type: core.ErrNotFound, Message: "not found",
		})
	}
}

func (h MacrosHandler) list(w http.ResponseWriter, r *http.Request) {
	macros, err := h.Engine.Store().List(r.Context())
	if err != nil {
		h.Logger.Error("macro list failed", "error", err)
		writeCoreError(w, r, http.StatusInternalServerError, core.NewAPIError("failed to list macros"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"macros": macros})
}

func (h MacrosHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	m, err := h.Engine.Store().Get(r.Context(), id)
	if errors.Is(err, macro.ErrNotFound) {
		writeCoreError(w, r, http.StatusNotFound, &core.Error{
			Type: core.ErrNotFound, Message: fmt.Sprintf("macro not found: %s", id),
		})
		return
	}
	if err != nil {
		h.Logger.Error("macro get failed", "id", id, "error", err)
		writeCoreError(w, r, http.StatusInternalServerError, core.NewAPIError("failed to load macro"))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h MacrosHandler) create(w http.ResponseWriter, r *http.Request) {
	var m macro.Macro
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeCoreError(w, r, http.StatusBadRequest, &core.Error{
			Type: core.ErrInvalidRequest, Message: "invalid json body",
		})
		return
	}

	// Step functions must exist at definition time so a macro cannot be
	// saved against capabilities that were never registered.
	for i, step := range m.Steps {
		if _, ok := h.Capabilities.Get(step.Function); !ok {
			writeCoreError(w, r, http.StatusBadRequest, &core.Error{
				Type:    core.ErrInvalidRequest,
				Message: fmt.Sprintf("step %d references unknown capability %q", i, step.Function),
			})
			return
		}
	}

	created, err := h.Engine.Store().Create(r.Context(), m)
	if err != nil {
		writeCoreError(w, r, http.StatusBadRequest, &core.Error{
			Type: core.ErrInvalidRequest, Message: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h MacrosHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	err := h.Engine.Store().Delete(r.Context(), id)
	if errors.Is(err, macro.ErrNotFound) {
		writeCoreError(w, r, http.StatusNotFound, &core.Error{
			Type: core.ErrNotFound, Message: fmt.Sprintf("macro not found: %s", id),
		})
		return
	}
	if err != nil {
		h.Logger.Error("macro delete failed", "id", id, "error", err)
		writeCoreError(w, r, http.StatusInternalServerError, core.NewAPIError("failed to delete macro"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (h MacrosHandler) run(w http.ResponseWriter, r *http.Request, idOrTrigger string) {
	trail := h.Engine.Run(r.Context(), idOrTrigger, restDispatch(h.Capabilities))
	writeJSON(w, http.StatusOK, map[string]any{"results": trail})
}
