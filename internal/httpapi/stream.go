package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sportsbook-ops/backbone/infrastructure/httputil"
	"github.com/sportsbook-ops/backbone/internal/domain/eventbus"
	"github.com/sportsbook-ops/backbone/internal/domain/sse"
)

// stream serves the dashboard's Server-Sent Events feed. Filter scoping is
// query-parameter driven; a client missing events since its last connection
// resumes by sending back the Last-Event-ID header it was given.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	filter := eventbus.Filter{
		DepartmentIDs: splitCSV(r.URL.Query().Get("departmentId")),
		EventTypes:    splitCSV(r.URL.Query().Get("eventType")),
		AgentScope:    splitCSV(r.URL.Query().Get("agentId")),
		CustomerScope: splitCSV(r.URL.Query().Get("customerId")),
	}

	var lastEventID uint64
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if parsed, err := strconv.ParseUint(raw, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	if err := h.deps.SSE.Stream(r.Context(), w, sse.StreamOptions{Filter: filter, LastEventID: lastEventID}); err != nil {
		httputil.WriteError(w, r, err)
	}
}

// chat upgrades the request to a WebSocket joined to the room for the
// agent in the path, typically the authenticated desk session.
func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if err := h.deps.Chatbot.ServeWS(w, r, agentID); err != nil {
		h.deps.Logger.WithContext(r.Context()).WithFields(map[string]interface{}{"error": err.Error(), "agentId": agentID}).Warn("chat upgrade failed")
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
