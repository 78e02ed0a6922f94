package macro

import (
	"context"
	"fmt"
	"testing"

	"github.com/voxdeck-ai/voxdeck/pkg/gateway/metrics"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(openTestStore(t), metrics.New("test"), nil)
}

func intPtr(i int) *int { return &i }

func TestStoreCreateListDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, Macro{
		Name:          "Morning setup",
		TriggerPhrase: "start my day",
		Steps:         []Step{{Function: "list_projects"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create must assign an id")
	}
	if created.ErrorPolicy != PolicyAbort {
		t.Fatalf("default policy = %q", created.ErrorPolicy)
	}

	all, err := store.List(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("List = %v, %v", all, err)
	}

	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, created.ID); err != ErrNotFound {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestStoreRejectsBadMacros(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cases := []Macro{
		{Name: "", Steps: []Step{{Function: "x"}}},
		{Name: "no steps"},
		{Name: "bad policy", ErrorPolicy: "retry", Steps: []Step{{Function: "x"}}},
		{Name: "forward pipe", Steps: []Step{{Function: "x", PipeFrom: intPtr(0)}}},
	}
	for _, m := range cases {
		if _, err := store.Create(ctx, m); err == nil {
			t.Errorf("Create(%q) must fail", m.Name)
		}
	}
}

func TestResolvePriority(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	byID, _ := store.Create(ctx, Macro{
		ID: "macro-exact", Name: "Exact", TriggerPhrase: "run the report",
		Steps: []Step{{Function: "x"}},
	})
	byTrigger, _ := store.Create(ctx, Macro{
		Name: "Trigger", TriggerPhrase: "macro-exact plus more words",
		Steps: []Step{{Function: "x"}},
	})

	// Exact id wins over a substring trigger match.
	got, err := store.Resolve(ctx, "macro-exact")
	if err != nil || got.ID != byID.ID {
		t.Fatalf("Resolve by id = %v, %v", got.ID, err)
	}

	got, err = store.Resolve(ctx, "Macro-Exact Plus More Words")
	if err != nil || got.ID != byTrigger.ID {
		t.Fatalf("Resolve by exact trigger = %v, %v", got.ID, err)
	}

	got, err = store.Resolve(ctx, "plus more")
	if err != nil || got.ID != byTrigger.ID {
		t.Fatalf("Resolve by substring = %v, %v", got.ID, err)
	}

	if _, err := store.Resolve(ctx, "nothing like this"); err != ErrNotFound {
		t.Fatalf("Resolve miss = %v, want ErrNotFound", err)
	}
}

func TestRunNotFoundReturnsTrail(t *testing.T) {
	e := newTestEngine(t)
	trail := e.Run(context.Background(), "ghost", func(context.Context, string, map[string]any) any {
		t.Fatal("dispatch must not run for an unresolved macro")
		return nil
	})
	if len(trail) != 1 || trail[0].Success {
		t.Fatalf("unexpected trail: %+v", trail)
	}
}

func TestPipingInjectsDatabaseID(t *testing.T) {
	e := newTestEngine(t)
	m, err := e.Store().Create(context.Background(), Macro{
		Name:          "Search first database",
		TriggerPhrase: "search kb",
		Steps: []Step{
			{Function: "list_databases"},
			{Function: "search_database", Args: map[string]any{"query": "ferrite"}, PipeFrom: intPtr(0)},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var searchArgs map[string]any
	trail := e.Execute(context.Background(), m, func(_ context.Context, name string, args map[string]any) any {
		switch name {
		case "list_databases":
			return map[string]any{"success": true, "databases": []any{
				map[string]any{"id": "kg-42"},
				map[string]any{"id": "kg-43"},
			}}
		case "search_database":
			searchArgs = args
			return map[string]any{"success": true}
		}
		return map[string]any{"success": false, "error": "unexpected"}
	})

	if len(trail) != 2 || !trail[1].Success {
		t.Fatalf("unexpected trail: %+v", trail)
	}
	if searchArgs["database_id"] != "kg-42" {
		t.Fatalf("piping must inject database_id=kg-42, got %v", searchArgs)
	}
	if searchArgs["query"] != "ferrite" {
		t.Fatalf("explicit args must survive piping, got %v", searchArgs)
	}
}

func TestPipingNeverOverwritesExplicitArgs(t *testing.T) {
	e := newTestEngine(t)
	m, _ := e.Store().Create(context.Background(), Macro{
		Name: "Explicit wins",
		Steps: []Step{
			{Function: "list_projects"},
			{Function: "open_project", Args: map[string]any{"project_id": "chosen"}, PipeFrom: intPtr(0)},
		},
	})

	var openArgs map[string]any
	e.Execute(context.Background(), m, func(_ context.Context, name string, args map[string]any) any {
		if name == "open_project" {
			openArgs = args
		}
		return map[string]any{"success": true, "projects": []any{map[string]any{"id": "inferred"}}}
	})

	if openArgs["project_id"] != "chosen" {
		t.Fatalf("explicit argument was overwritten: %v", openArgs)
	}
}

func TestAbortPolicyStopsAfterFailure(t *testing.T) {
	e := newTestEngine(t)
	m, _ := e.Store().Create(context.Background(), Macro{
		Name:        "Fragile",
		ErrorPolicy: PolicyAbort,
		Steps: []Step{
			{Function: "always_fails"},
			{Function: "never_runs"},
			{Function: "never_runs"},
		},
	})

	var executed []string
	trail := e.Execute(context.Background(), m, func(_ context.Context, name string, _ map[string]any) any {
		executed = append(executed, name)
		return map[string]any{"success": false, "error": "nope"}
	})

	if len(trail) != 2 {
		t.Fatalf("abort must yield the failure plus the abort marker, got %+v", trail)
	}
	if trail[0].Error != "nope" || trail[1].Error != fmt.Sprintf("macro aborted at step %d", 0) {
		t.Fatalf("unexpected trail: %+v", trail)
	}
	if len(executed) != 1 {
		t.Fatalf("later steps must never execute, ran %v", executed)
	}
}

func TestSkipPolicyRecordsAndContinues(t *testing.T) {
	e := newTestEngine(t)
	m, _ := e.Store().Create(context.Background(), Macro{
		Name:        "Resilient",
		ErrorPolicy: PolicySkip,
		Steps: []Step{
			{Function: "ok_step"},
			{Function: "bad_step"},
			{Function: "ok_step"},
		},
	})

	trail := e.Execute(context.Background(), m, func(_ context.Context, name string, _ map[string]any) any {
		if name == "bad_step" {
			return map[string]any{"success": false, "error": "broken"}
		}
		return map[string]any{"success": true}
	})

	if len(trail) != 3 {
		t.Fatalf("skip must execute every step, got %+v", trail)
	}
	if !trail[0].Success || trail[1].Success || !trail[2].Success {
		t.Fatalf("unexpected success pattern: %+v", trail)
	}
	if trail[1].Error != "broken" {
		t.Fatalf("failure entry must carry the error: %+v", trail[1])
	}
}
