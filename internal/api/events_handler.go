package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/threaddispatch/internal/events"
)

const sseKeepAlive = 15 * time.Second

// handleEvents streams pool events as text/event-stream. The retained backlog
// is replayed first, starting after Last-Event-ID when the client sends one.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	replay, live, cancel := s.events.SubscribeSince(lastEventID(r))
	defer cancel()

	send := func(ev events.Event) bool {
		if _, err := w.Write(sseFrame(ev)); err != nil {
			s.logger.Debug("sse client gone", "error", err)
			return false
		}
		return true
	}

	for _, ev := range replay {
		if !send(ev) {
			return
		}
	}
	flusher.Flush()

	tick := time.NewTicker(sseKeepAlive)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open || !send(ev) {
				return
			}
		case <-tick.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

// lastEventID reads the resume point a reconnecting EventSource sends. A
// missing or malformed header means replay everything retained.
func lastEventID(r *http.Request) int64 {
	n, err := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// sseFrame renders one event. Payloads are single-line JSON so a single
// data field suffices.
func sseFrame(ev events.Event) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "id: %d\n", ev.ID)
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(&b, "data: %s\n\n", ev.Data)
	return b.Bytes()
}
