package macro

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxdeck-ai/voxdeck/pkg/gateway/metrics"
)

// Dispatch resolves one step invocation and returns its payload. The
// signature matches the live dispatcher's round contract so macros
// replay through exactly the same path.
type Dispatch func(ctx context.Context, name string, args map[string]any) any

// StepResult is one entry in a macro's ordered result trail.
type StepResult struct {
	Step     int    `json:"step"`
	Function string `json:"function"`
	Success  bool   `json:"success"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// pipeHeuristics maps a list-bearing key in a prior step's result to the
// argument name it feeds on the next step. The first element's "id" is
// taken.
var pipeHeuristics = []struct {
	listKey string
	argName string
}{
	{"databases", "database_id"},
	{"projects", "project_id"},
	{"playbooks", "playbook_id"},
	{"tasks", "task_id"},
	{"sessions", "session_id"},
	{"results", "result_id"},
	{"items", "id"},
}

// Engine replays macros through a dispatch function. Execution never
// raises past the step loop: every outcome, including resolution
// failure, lands in the result trail.
type Engine struct {
	store   *Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine creates a macro engine over one store.
func NewEngine(store *Store, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, metrics: m, logger: logger}
}

// Store exposes the underlying macro store.
func (e *Engine) Store() *Store { return e.store }

// Run resolves idOrTrigger and executes the macro. Callers always get a
// result trail, never an error.
func (e *Engine) Run(ctx context.Context, idOrTrigger string, dispatch Dispatch) []StepResult {
	m, err := e.store.Resolve(ctx, idOrTrigger)
	if err != nil {
		e.metrics.RecordMacroRun("not_found")
		return []StepResult{{
			Step:    0,
			Success: false,
			Error:   fmt.Sprintf("macro not found: %s", idOrTrigger),
		}}
	}
	return e.Execute(ctx, m, dispatch)
}

// Execute replays one macro's steps in order, applying piping and the
// macro's failure policy.
func (e *Engine) Execute(ctx context.Context, m Macro, dispatch Dispatch) []StepResult {
	trail := make([]StepResult, 0, len(m.Steps))
	outcome := "completed"

	for i, step := range m.Steps {
		args := make(map[string]any, len(step.Args)+1)
		for k, v := range step.Args {
			args[k] = v
		}
		if step.PipeFrom != nil {
			e.applyPiping(trail, *step.PipeFrom, args)
		}

		payload := dispatch(ctx, step.Function, args)
		entry := StepResult{Step: i, Function: step.Function, Success: true, Result: payload}
		if errText, failed := failureText(payload); failed {
			entry.Success = false
			entry.Error = errText
			entry.Result = nil
		}
		trail = append(trail, entry)

		if !entry.Success {
			e.logger.Warn("macro step failed",
				"macro", m.ID, "step", i, "function", step.Function, "error", entry.Error)
			if m.ErrorPolicy == PolicyAbort {
				trail = append(trail, StepResult{
					Step:    i,
					Success: false,
					Error:   fmt.Sprintf("macro aborted at step %d", i),
				})
				outcome = "aborted"
				break
			}
			outcome = "partial"
		}
	}

	e.metrics.RecordMacroRun(outcome)
	return trail
}

// applyPiping inspects an earlier successful step's result and merges
// inferred arguments into args. Explicit arguments always win.
func (e *Engine) applyPiping(trail []StepResult, from int, args map[string]any) {
	if from < 0 || from >= len(trail) {
		return
	}
	prior := trail[from]
	if !prior.Success {
		return
	}
	result, ok := prior.Result.(map[string]any)
	if !ok {
		return
	}

	for _, h := range pipeHeuristics {
		list, ok := result[h.listKey].([]any)
		if !ok || len(list) == 0 {
			continue
		}
		first, ok := list[0].(map[string]any)
		if !ok {
			continue
		}
		id, ok := first["id"]
		if !ok {
			continue
		}
		if _, explicit := args[h.argName]; !explicit {
			args[h.argName] = id
		}
	}

	// A bare id on the prior result feeds the generic id argument.
	if id, ok := result["id"]; ok {
		if _, explicit := args["id"]; !explicit {
			args["id"] = id
		}
	}
}

// failureText reports whether a dispatch payload is a failure and
// extracts its message.
func failureText(payload any) (string, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	success, ok := m["success"].(bool)
	if !ok || success {
		return "", false
	}
	if text, ok := m["error"].(string); ok && text != "" {
		return text, true
	}
	return "invocation failed", true
}
