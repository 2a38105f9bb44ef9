package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// setupSSEConnection sets up SSE headers. On failure it writes an error
// response and returns false.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

// streamSSEEvents streams broadcast events until the client disconnects or the
// listener channel closes.
func streamSSEEvents(w http.ResponseWriter, r *http.Request, b *attendance.Broadcaster) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	eventCh := b.AddListener()
	defer b.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "connected", map[string]string{"status": "ok"})

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
