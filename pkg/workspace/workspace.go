// Package workspace is the facade over the callable surface the agent
// controls: the capability set exposed to sessions plus the read-only
// awareness and device-status collaborators folded into the system
// prompt.
package workspace

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ContextProvider supplies the live awareness string folded into the
// system prompt when a session starts. Read-only collaborator.
type ContextProvider interface {
	Context(ctx context.Context) string
}

// DeviceStatus is a point-in-time device sample.
type DeviceStatus struct {
	BatteryPercent int    `json:"battery_percent"`
	ThermalState   string `json:"thermal_state"`
	Charging       bool   `json:"charging"`
}

// DeviceStatusProvider samples device health. Read-only collaborator.
type DeviceStatusProvider interface {
	Status(ctx context.Context) DeviceStatus
}

// Awareness is the local ContextProvider: a bounded log of recent page
// visits and errors the caller's client reported.
type Awareness struct {
	mu     sync.Mutex
	visits []string
	errors []string
}

const awarenessWindow = 10

// NewAwareness creates an empty awareness tracker.
func NewAwareness() *Awareness { return &Awareness{} }

// RecordVisit notes a page the client navigated to.
func (a *Awareness) RecordVisit(page string) {
	page = strings.TrimSpace(page)
	if page == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.visits = appendBounded(a.visits, page)
}

// RecordError notes a client-side error.
func (a *Awareness) RecordError(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = appendBounded(a.errors, message)
}

func appendBounded(list []string, entry string) []string {
	list = append(list, entry)
	if len(list) > awarenessWindow {
		list = list[len(list)-awarenessWindow:]
	}
	return list
}

// Context implements ContextProvider.
func (a *Awareness) Context(context.Context) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var b strings.Builder
	if len(a.visits) > 0 {
		b.WriteString("Recently visited pages: ")
		b.WriteString(strings.Join(a.visits, ", "))
		b.WriteString(".")
	}
	if len(a.errors) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("Recent client errors: ")
		b.WriteString(strings.Join(a.errors, "; "))
		b.WriteString(".")
	}
	if b.Len() == 0 {
		return "No recent page activity."
	}
	return b.String()
}

// LocalDevice is the local DeviceStatusProvider. Values are synthetic
// on hosts without a battery.
type LocalDevice struct{}

// Status implements DeviceStatusProvider.
func (LocalDevice) Status(context.Context) DeviceStatus {
	return DeviceStatus{BatteryPercent: 100, ThermalState: "nominal", Charging: true}
}

// personality is the fixed half of the assembled system prompt.
const personality = "You are Voxdeck, a hands-free workspace operator. " +
	"You control the caller's workspace through the capabilities listed below. " +
	"Prefer invoking a capability over describing what the caller could do manually. " +
	"Keep spoken answers short."

// SystemPrompt assembles the session prompt exactly once per session:
// personality and capability description, live awareness context, then
// the caller's addendum when present.
func SystemPrompt(capabilityList string, aware ContextProvider, addendum string) string {
	var b strings.Builder
	b.WriteString(personality)
	b.WriteString("\n\nCapabilities:\n")
	b.WriteString(capabilityList)
	if aware != nil {
		b.WriteString("\nContext: ")
		b.WriteString(aware.Context(context.Background()))
	}
	b.WriteString(fmt.Sprintf("\nCurrent time: %s", time.Now().Format(time.RFC1123)))
	if addendum = strings.TrimSpace(addendum); addendum != "" {
		b.WriteString("\n\n")
		b.WriteString(addendum)
	}
	return b.String()
}
