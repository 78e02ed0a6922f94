package handlers

import (
	"net/http"

	"github.com/voxdeck-ai/voxdeck/pkg/gateway/config"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/session"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway can accept sessions, plus
// basic operational facts.
type ReadyHandler struct {
	Config   config.Config
	Sessions *session.Registry
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		AuthMode       string   `json:"auth_mode"`
		NativeEnabled  bool     `json:"native_enabled"`
		TurnEnabled    bool     `json:"turn_enabled"`
		ActiveSessions int      `json:"active_sessions"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.GeminiAPIKey == "" && h.Config.ChatAPIKey == "" {
		issues = append(issues, "no upstream backend credentials configured")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, readyResp{
		OK:             ok,
		AuthMode:       string(h.Config.AuthMode),
		NativeEnabled:  h.Config.GeminiAPIKey != "",
		TurnEnabled:    h.Config.ChatAPIKey != "",
		ActiveSessions: h.Sessions.Count(),
		Issues:         issues,
	})
}
