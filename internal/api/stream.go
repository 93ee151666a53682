// Push transports for spec.md §4.8: WebSocket and SSE subscribers over
// the same internal/pubsub topics. WS hub shape (register/unregister,
// bounded connection handling) is grounded on
// itskum47-FluxForge/control_plane/ws_hub.go, generalized to wrap
// pubsub.Subscriber's own bounded drop-oldest buffer instead of hand-
// rolling a client map. SSE flush loop is grounded on the teacher's
// internal/api/openai.go streamChatResponse (text/event-stream headers,
// http.Flusher, bufio.Writer, "data: ...\n\n" framing).
package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/piwardrive/piwardrive/internal/domain"
	"github.com/piwardrive/piwardrive/internal/health"
	"github.com/piwardrive/piwardrive/internal/infra/metrics"
)

// apsTopic carries access-point scan snapshots; statusTopic reuses the
// HealthCollector's topic so /ws/status and /sse/status observe exactly
// what it publishes.
const apsTopic = "aps"

var statusTopic = health.StatusTopic

// wsSendTimeout bounds each WebSocket write (spec.md §5: WebSocket send = 2s).
const wsSendTimeout = 2 * time.Second

// pingInterval is how often the server pings an idle WS client.
const pingInterval = 20 * time.Second

// heartbeatMissLimit is K: the number of consecutive missed heartbeats
// (pong replies) that drops a subscriber (spec.md §4.8).
const heartbeatMissLimit = 3

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS returns a handler that upgrades to WebSocket and relays
// topic's events, preserving per-subscriber order and dropping the
// connection after heartbeatMissLimit missed pongs.
func (s *Server) handleWS(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debug("ws upgrade failed", "topic", topic, "err", err)
			return
		}
		defer conn.Close()

		sub := s.bus.Subscribe(topic)
		defer s.bus.Unsubscribe(sub)

		metrics.WSConnections.WithLabelValues(topic).Inc()
		defer metrics.WSConnections.WithLabelValues(topic).Dec()

		readDeadline := pingInterval * heartbeatMissLimit
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			sub.Heartbeat()
			conn.SetReadDeadline(time.Now().Add(readDeadline))
			return nil
		})

		// Reader goroutine: WebSocket control frames (pong) are only
		// processed while a read is outstanding, and the client never
		// sends data frames on these push-only endpoints.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsSendTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsSendTimeout))
				if err := conn.WriteJSON(ev.Data); err != nil {
					s.log.Debug("ws write failed", "topic", topic, "err", err)
					return
				}
			}
		}
	}
}

// handleSSE returns a handler streaming topic's events as
// Server-Sent Events, one "data: <json>\n\n" frame per event.
func (s *Server) handleSSE(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, domain.StorageError(nil, "streaming not supported"))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		sub := s.bus.Subscribe(topic)
		defer s.bus.Unsubscribe(sub)
		metrics.WSConnections.WithLabelValues(topic).Inc()
		defer metrics.WSConnections.WithLabelValues(topic).Dec()

		writer := bufio.NewWriter(w)
		heartbeat := time.NewTicker(pingInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				sub.Heartbeat()
				fmt.Fprint(writer, ": heartbeat\n\n")
				writer.Flush()
				flusher.Flush()
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				data, err := json.Marshal(ev.Data)
				if err != nil {
					continue
				}
				fmt.Fprintf(writer, "data: %s\n\n", data)
				writer.Flush()
				flusher.Flush()
			}
		}
	}
}

// handleSSEHistory implements GET /sse/history?limit=&interval=: pushes
// the most recent `limit` HealthRecords every `interval` seconds until
// the client disconnects.
func (s *Server) handleSSEHistory(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, domain.StorageError(nil, "streaming not supported"))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	interval := 5 * time.Second
	if v := r.URL.Query().Get("interval"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			interval = time.Duration(parsed) * time.Second
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writer := bufio.NewWriter(w)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	push := func() bool {
		records, err := s.store.LoadRecentHealth(limit)
		if err != nil {
			return false
		}
		data, err := json.Marshal(records)
		if err != nil {
			return false
		}
		fmt.Fprintf(writer, "data: %s\n\n", data)
		writer.Flush()
		flusher.Flush()
		return true
	}

	if !push() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !push() {
				return
			}
		}
	}
}
