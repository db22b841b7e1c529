package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// KeepAliveInterval is how often an idle stream sends a comment line
var KeepAliveInterval = 25 * time.Second

// ErrStreamingUnsupported is returned when the writer cannot flush
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Stream writes sub's events to w as Server-Sent Events until the client
// disconnects or the subscription ends. Each event is named after its topic.
func Stream(w http.ResponseWriter, r *http.Request, sub *Subscription) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	errs := sub.Errors()
	for {
		select {
		case <-r.Context().Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, ev.Data); err != nil {
				return err
			}
			flusher.Flush()
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
