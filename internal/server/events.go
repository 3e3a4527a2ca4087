package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/requestnet/internal/feed"
)

const (
	keepAliveInterval = 15 * time.Second
	subscriberBuffer  = 64
)

// handleEvents streams the feed as server-sent events. Clients reconnecting
// with Last-Event-ID first receive what they missed from the ring buffer.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the snapshot so nothing published in between is lost.
	ch, cancel := s.feed.Subscribe(subscriberBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, e := range s.feed.SnapshotSince(lastID) {
		if err := writeSSE(w, e); err != nil {
			return
		}
		lastID = e.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.ID <= lastID {
				continue
			}
			if err := writeSSE(w, e); err != nil {
				return
			}
			lastID = e.ID
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, e feed.Entry) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", e.ID); err != nil {
		return err
	}
	if e.Kind != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", e.Kind); err != nil {
			return err
		}
	}
	// Data is compact JSON, so a single data line suffices.
	if _, err := fmt.Fprintf(w, "data: %s\n\n", e.Data); err != nil {
		return err
	}
	return nil
}
