package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"podplayer/internal/events"
)

const keepAliveInterval = 15 * time.Second

// Events streams hub messages as server-sent events until the client leaves.
// Slow clients miss messages rather than stall the player.
func Events(hub *events.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := RequestIDFromContext(r.Context())
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming unsupported", rid, nil)
			return
		}

		ch, cancel := hub.Subscribe(64)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(msg.Payload)
				if err != nil {
					log.Debug("sse: marshal payload", zap.String("event", msg.Event), zap.Error(err))
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
