package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/voxdeck-ai/voxdeck/pkg/core/capability"
)

// sample workspace data, stands in for the real project/knowledge CRUD
// surface that lives outside this service.
var sampleProjects = []map[string]any{
	{"id": "proj-atlas", "name": "Atlas", "status": "active"},
	{"id": "proj-borealis", "name": "Borealis", "status": "paused"},
}

var sampleDatabases = []map[string]any{
	{"id": "kg-main", "name": "Main knowledge graph", "documents": 1284},
	{"id": "kg-archive", "name": "Archive", "documents": 90312},
}

// Capabilities assembles the capability registry exposed to sessions.
// The set deliberately spans all three execution classes so every
// dispatch path is exercised end to end.
func Capabilities(aware *Awareness, device DeviceStatusProvider) *capability.Registry {
	caps := capability.NewRegistry()

	// Synchronous-local.
	caps.MustRegister(capability.Capability{
		Name:        "get_time",
		Description: "Current date and time",
		Class:       capability.ClassSync,
		Invoke: func(context.Context, map[string]any) (any, error) {
			now := time.Now()
			return map[string]any{
				"success": true,
				"iso":     now.Format(time.RFC3339),
				"spoken":  now.Format("Monday, January 2 at 3:04 PM"),
			}, nil
		},
	})
	caps.MustRegister(capability.Capability{
		Name:        "get_device_status",
		Description: "Battery and thermal state of the caller's device",
		Class:       capability.ClassSync,
		Invoke: func(ctx context.Context, _ map[string]any) (any, error) {
			status := device.Status(ctx)
			return map[string]any{
				"success":         true,
				"battery_percent": status.BatteryPercent,
				"thermal_state":   status.ThermalState,
				"charging":        status.Charging,
			}, nil
		},
	})
	caps.MustRegister(capability.Capability{
		Name:        "list_projects",
		Description: "List workspace projects",
		Class:       capability.ClassSync,
		Invoke: func(context.Context, map[string]any) (any, error) {
			return map[string]any{"success": true, "projects": toAnySlice(sampleProjects)}, nil
		},
	})
	caps.MustRegister(capability.Capability{
		Name:        "list_databases",
		Description: "List knowledge databases",
		Class:       capability.ClassSync,
		Invoke: func(context.Context, map[string]any) (any, error) {
			return map[string]any{"success": true, "databases": toAnySlice(sampleDatabases)}, nil
		},
	})
	caps.MustRegister(capability.Capability{
		Name:        "search_database",
		Description: "Search one knowledge database",
		Class:       capability.ClassSync,
		Params: []capability.Param{
			{Name: "database_id", Type: "string", Description: "Database to search", Required: true},
			{Name: "query", Type: "string", Description: "Search query", Required: true},
		},
		Invoke: func(_ context.Context, args map[string]any) (any, error) {
			dbID, _ := args["database_id"].(string)
			query, _ := args["query"].(string)
			if strings.TrimSpace(dbID) == "" {
				return nil, fmt.Errorf("database_id is required")
			}
			if !knownDatabase(dbID) {
				return nil, fmt.Errorf("unknown database: %s", dbID)
			}
			return map[string]any{
				"success": true,
				"results": []any{map[string]any{
					"id":      "doc-1",
					"title":   fmt.Sprintf("Top result for %q", query),
					"snippet": "…",
				}},
			}, nil
		},
	})
	caps.MustRegister(capability.Capability{
		Name:        "record_page_visit",
		Description: "Record the page the client is looking at",
		Class:       capability.ClassSync,
		Params: []capability.Param{
			{Name: "page", Type: "string", Description: "Page path or title", Required: true},
		},
		Invoke: func(_ context.Context, args map[string]any) (any, error) {
			page, _ := args["page"].(string)
			aware.RecordVisit(page)
			return map[string]any{"success": true}, nil
		},
	})

	// Asynchronous-background.
	caps.MustRegister(capability.Capability{
		Name:        "index_database",
		Description: "Rebuild the search index of a knowledge database; runs in the background",
		Class:       capability.ClassAsync,
		Params: []capability.Param{
			{Name: "database_id", Type: "string", Description: "Database to index", Required: true},
		},
		Invoke: func(_ context.Context, args map[string]any) (any, error) {
			dbID, _ := args["database_id"].(string)
			if !knownDatabase(dbID) {
				return nil, fmt.Errorf("unknown database: %s", dbID)
			}
			return map[string]any{"success": true, "database_id": dbID, "indexed": true}, nil
		},
	})
	caps.MustRegister(capability.Capability{
		Name:        "export_project",
		Description: "Export a project archive; runs in the background",
		Class:       capability.ClassAsync,
		Params: []capability.Param{
			{Name: "project_id", Type: "string", Description: "Project to export", Required: true},
		},
		Invoke: func(_ context.Context, args map[string]any) (any, error) {
			projectID, _ := args["project_id"].(string)
			if strings.TrimSpace(projectID) == "" {
				return nil, fmt.Errorf("project_id is required")
			}
			return map[string]any{
				"success":    true,
				"project_id": projectID,
				"archive":    fmt.Sprintf("%s.tar.gz", projectID),
			}, nil
		},
	})

	// Browser-delegated: executed by the connected client, no invoker.
	caps.MustRegister(capability.Capability{
		Name:        "navigate_to",
		Description: "Navigate the caller's browser to a workspace page",
		Class:       capability.ClassBrowser,
		Params: []capability.Param{
			{Name: "path", Type: "string", Description: "Target page path", Required: true},
		},
	})
	caps.MustRegister(capability.Capability{
		Name:        "highlight_element",
		Description: "Highlight an element on the current page",
		Class:       capability.ClassBrowser,
		Params: []capability.Param{
			{Name: "selector", Type: "string", Description: "CSS selector", Required: true},
		},
	})

	return caps
}

func knownDatabase(id string) bool {
	for _, db := range sampleDatabases {
		if db["id"] == id {
			return true
		}
	}
	return false
}

func toAnySlice(in []map[string]any) []any {
	out := make([]any, 0, len(in))
	for _, m := range in {
		copied := make(map[string]any, len(m))
		for k, v := range m {
			copied[k] = v
		}
		out = append(out, copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].(map[string]any)["id"].(string)
		b, _ := out[j].(map[string]any)["id"].(string)
		return a < b
	})
	return out
}
