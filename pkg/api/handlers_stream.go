package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/telemetry"
)

const streamHeartbeat = 30 * time.Second

func newCallID() string {
	return "call_" + ulid.Make().String()
}

// StreamEvent is the SSE envelope.
type StreamEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// handleStream provides an SSE stream of hub events. Clients narrow it with
// ?filter=plan.,approval. and ?session=<id>.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New(errors.ErrCodeConfigInvalid, "event hub not configured"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New(errors.ErrCodeInternal, "streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	q := r.URL.Query()
	filter := telemetry.ParseFilter(q.Get("session"), q.Get("filter"))
	events, unsubscribe := s.hub.Subscribe(filter)
	defer unsubscribe()

	if err := writeSSE(w, flusher, StreamEvent{
		Type:      "connected",
		SessionID: filter.SessionID,
		Timestamp: time.Now(),
		Data:      map[string]any{"filter": strings.Join(filter.Prefixes, ",")},
	}); err != nil {
		return
	}

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeSSE(w, flusher, StreamEvent{Type: "heartbeat", Timestamp: time.Now()}); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			data := e.Data
			if e.SnapshotID != "" {
				data = make(map[string]any, len(e.Data)+1)
				for k, v := range e.Data {
					data[k] = v
				}
				data["snapshotId"] = e.SnapshotID
			}
			if err := writeSSE(w, flusher, StreamEvent{
				Type:      string(e.Type),
				SessionID: e.SessionID,
				Timestamp: e.Timestamp,
				Data:      data,
			}); err != nil {
				return
			}
		}
	}
}
