package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MaxSSEDuration bounds the lifetime of one log stream connection.
const MaxSSEDuration = 30 * time.Minute

// HandleStreamLogs streams a pipeline's run log events over SSE. The stream
// starts with an "info" event confirming the subscription, then emits one
// "log" event per RunLogEvent until the client disconnects or the maximum
// duration elapses. There is no replay: only events published while the
// connection is open are delivered.
// GET /logs/stream/{id}
func (s *Server) HandleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if s.Bus == nil {
		errorJSON(w, "log streaming is not available", "LOG_BUS_UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r)
	if !s.SSELimiter.Acquire(ip) {
		errorJSON(w, "too many streaming connections", "RESOURCE_EXHAUSTED", http.StatusTooManyRequests)
		return
	}
	defer s.SSELimiter.Release(ip)

	ctx, cancel := context.WithTimeout(r.Context(), MaxSSEDuration)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	sendEvent := func(event string, payload any) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		if canFlush {
			flusher.Flush()
		}
	}

	sub := s.Bus.Subscribe(id)
	defer s.Bus.Unsubscribe(sub)

	sendEvent("info", map[string]string{
		"message":     "log stream connected",
		"pipeline_id": id.String(),
	})

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				sendEvent("error", map[string]string{
					"code":    "TIMEOUT",
					"message": "stream closed: maximum duration exceeded",
				})
			}
			return
		case ev, open := <-sub.Events():
			if !open {
				// Bus shut down underneath us.
				sendEvent("error", map[string]string{
					"code":    "SHUTDOWN",
					"message": "stream closed: server shutting down",
				})
				return
			}
			sendEvent("log", ev)
		}
	}
}
