package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"postage.org/internal/events"
)

// Stream serves committed settlement events as Server-Sent Events. The
// optional topic query parameter narrows the stream to one topic.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "Unavailable", "streaming disabled")
		return
	}
	var topic uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("topic")); raw != "" {
		v, err := parseAmount(raw, false)
		if err != nil || !v.IsUint64() {
			writeError(w, r, http.StatusBadRequest, "InvalidInput", "topic must be a positive integer")
			return
		}
		topic = v.Uint64()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "Internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		if topic != 0 && !matchesTopic(event, topic) {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("id: " + event.ID + "\nevent: " + string(event.Type) + "\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func matchesTopic(evt events.Event, topic uint64) bool {
	if evt.Deposit != nil {
		return uint64(evt.Deposit.Topic) == topic
	}
	return uint64(evt.Topic) == topic
}
