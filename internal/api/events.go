package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"arq-dashboard/internal/telemetry"
)

// handleEvents streams dashboard stats over server-sent events. One stats
// recomputation runs per poll tick; when the client disconnects the request
// context cancels the loop and no further work is scheduled.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	connID := uuid.NewString()
	telemetry.SSEClients.Inc()
	defer telemetry.SSEClients.Dec()
	log.Printf("sse: client %s connected", connID)
	defer log.Printf("sse: client %s disconnected", connID)

	sendEvent(w, "connection", map[string]any{
		"connected": true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	flusher.Flush()

	ctx := r.Context()
	send := func() {
		snapshot, err := s.stats.Snapshot(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("sse: stats recomputation failed for %s: %v", connID, err)
			sendEvent(w, "error", map[string]any{"message": "stats unavailable"})
			flusher.Flush()
			return
		}
		sendEvent(w, "stats-update", snapshot)
		flusher.Flush()
	}
	send()

	ticker := time.NewTicker(s.cfg.SSEPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

func sendEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"message":"failed to encode event"}`)
		event = "error"
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
