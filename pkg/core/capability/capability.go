// Package capability holds the registry facade over the workspace's
// callable capabilities. The registry is assembled once at startup and is
// read-only afterwards; classification requires no locking.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Class partitions the capability namespace into exactly three disjoint
// execution classes.
type Class string

const (
	// ClassBrowser capabilities are executed by the remote client; the
	// dispatcher only forwards the request and waits for a correlated
	// result frame.
	ClassBrowser Class = "browser"
	// ClassSync capabilities run in-process before the caller's turn can
	// complete.
	ClassSync Class = "sync"
	// ClassAsync capabilities are handed to a background task scoped to
	// the owning session.
	ClassAsync Class = "async"
)

// Valid reports whether c is one of the three known classes.
func (c Class) Valid() bool {
	switch c {
	case ClassBrowser, ClassSync, ClassAsync:
		return true
	default:
		return false
	}
}

// Invoker executes a capability in-process. Browser-delegated
// capabilities have no invoker; sync and async ones must.
type Invoker func(ctx context.Context, args map[string]any) (any, error)

// Param describes one argument in a capability's schema. Schemas are
// surfaced to the upstream backends as tool declarations.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Capability is one named callable exposed to the session.
type Capability struct {
	Name        string
	Description string
	Class       Class
	Params      []Param
	Invoke      Invoker
}

// Declaration is the wire shape of a capability schema handed to an
// upstream backend.
type Declaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Params      []Param `json:"params,omitempty"`
}

// Registry maps capability names to their execution class and invoker.
// It must be fully populated before any session is opened.
type Registry struct {
	caps  map[string]Capability
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability. Names are unique; non-browser capabilities
// must carry an invoker.
func (r *Registry) Register(c Capability) error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return fmt.Errorf("capability name must not be empty")
	}
	if !c.Class.Valid() {
		return fmt.Errorf("capability %q has invalid class %q", name, c.Class)
	}
	if c.Class != ClassBrowser && c.Invoke == nil {
		return fmt.Errorf("capability %q (class %s) requires an invoker", name, c.Class)
	}
	if _, exists := r.caps[name]; exists {
		return fmt.Errorf("capability %q is already registered", name)
	}
	c.Name = name
	r.caps[name] = c
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register that panics on error; startup-time wiring only.
func (r *Registry) MustRegister(c Capability) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Get returns a capability by name.
func (r *Registry) Get(name string) (Capability, bool) {
	c, ok := r.caps[strings.TrimSpace(name)]
	return c, ok
}

// Classify returns the execution class for a capability name.
func (r *Registry) Classify(name string) (Class, bool) {
	c, ok := r.caps[strings.TrimSpace(name)]
	if !ok {
		return "", false
	}
	return c.Class, true
}

// Names returns all registered capability names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// NamesByClass returns the sorted capability names in the given class.
func (r *Registry) NamesByClass(class Class) []string {
	var out []string
	for name, c := range r.caps {
		if c.Class == class {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Declarations returns the capability schemas in registration order, as
// handed to the upstream backends.
func (r *Registry) Declarations() []Declaration {
	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		c := r.caps[name]
		out = append(out, Declaration{
			Name:        c.Name,
			Description: c.Description,
			Params:      append([]Param(nil), c.Params...),
		})
	}
	return out
}

// Describe renders a one-line-per-capability summary used in the
// assembled system prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.order {
		c := r.caps[name]
		b.WriteString("- ")
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(": ")
			b.WriteString(c.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// CoercePayload makes a capability result JSON-serializable. Outputs that
// cannot be marshaled are coerced to their string form rather than
// failing the turn.
func CoercePayload(v any) any {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}
