package workspace

import (
	"context"
	"strings"
	"testing"

	"github.com/voxdeck-ai/voxdeck/pkg/core/capability"
)

func TestCapabilitiesPartitionAllThreeClasses(t *testing.T) {
	caps := Capabilities(NewAwareness(), LocalDevice{})

	counts := map[capability.Class]int{}
	for _, name := range caps.Names() {
		class, ok := caps.Classify(name)
		if !ok {
			t.Fatalf("registered name %q is unclassified", name)
		}
		counts[class]++
	}
	for _, class := range []capability.Class{capability.ClassBrowser, capability.ClassSync, capability.ClassAsync} {
		if counts[class] == 0 {
			t.Errorf("no capability in class %s", class)
		}
	}
}

func TestSearchDatabaseRequiresKnownDatabase(t *testing.T) {
	caps := Capabilities(NewAwareness(), LocalDevice{})
	search, _ := caps.Get("search_database")

	if _, err := search.Invoke(context.Background(), map[string]any{"database_id": "kg-main", "query": "x"}); err != nil {
		t.Fatalf("known database: %v", err)
	}
	if _, err := search.Invoke(context.Background(), map[string]any{"database_id": "nope", "query": "x"}); err == nil {
		t.Fatal("unknown database must fail")
	}
}

func TestAwarenessContextBounded(t *testing.T) {
	a := NewAwareness()
	if got := a.Context(context.Background()); got != "No recent page activity." {
		t.Fatalf("empty context = %q", got)
	}

	for i := 0; i < 25; i++ {
		a.RecordVisit("/projects")
	}
	a.RecordError("render failed")

	got := a.Context(context.Background())
	if !strings.Contains(got, "/projects") || !strings.Contains(got, "render failed") {
		t.Fatalf("context missing entries: %q", got)
	}
	if strings.Count(got, "/projects") > awarenessWindow {
		t.Fatalf("visit log must stay bounded: %q", got)
	}
}

func TestSystemPromptAssembly(t *testing.T) {
	a := NewAwareness()
	a.RecordVisit("/dash")
	caps := Capabilities(a, LocalDevice{})

	prompt := SystemPrompt(caps.Describe(), a, "Address the caller as Captain.")
	for _, want := range []string{"Voxdeck", "get_time", "/dash", "Address the caller as Captain."} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	bare := SystemPrompt(caps.Describe(), a, "  ")
	if strings.Contains(bare, "Captain") {
		t.Error("addendum must not leak between assemblies")
	}
}
