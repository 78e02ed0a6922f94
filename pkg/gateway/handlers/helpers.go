// Package handlers holds the gateway's HTTP surface: the WebSocket
// session endpoint, the macro and invoke REST handlers, and health.
package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voxdeck-ai/voxdeck/pkg/core"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/mw"
)

type errorEnvelope struct {
	Error *core.Error `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeCoreError(w http.ResponseWriter, r *http.Request, status int, coreErr *core.Error) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID, _ = mw.RequestIDFrom(r.Context())
	}
	writeJSON(w, status, errorEnvelope{Error: coreErr})
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
