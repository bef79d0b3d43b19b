package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odvcencio/batchq/pkg/telemetry"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 4 << 10
)

// SubscribeMessage narrows an open event stream. An empty EventTypes list
// receives every type.
type SubscribeMessage struct {
	Action     string   `json:"action"` // "subscribe" or "unsubscribe"
	EventTypes []string `json:"event_types,omitempty"`
	RunID      string   `json:"run_id,omitempty"`
}

// eventFilter is shared between the read and write pumps of one connection.
type eventFilter struct {
	mu     sync.RWMutex
	types  map[string]bool
	runID  string
	paused bool
}

func newEventFilter(r *http.Request) *eventFilter {
	f := &eventFilter{types: make(map[string]bool)}
	q := r.URL.Query()
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.types[t] = true
		}
	}
	f.runID = strings.TrimSpace(q.Get("run_id"))
	return f
}

func (f *eventFilter) apply(msg SubscribeMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		f.paused = false
		f.types = make(map[string]bool, len(msg.EventTypes))
		for _, t := range msg.EventTypes {
			f.types[t] = true
		}
		f.runID = msg.RunID
	case "unsubscribe":
		f.paused = true
	}
}

func (f *eventFilter) match(ev telemetry.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.paused {
		return false
	}
	if len(f.types) > 0 && !f.types[string(ev.Type)] {
		return false
	}
	return f.runID == "" || f.runID == ev.RunID
}

// handleEvents streams hub events as JSON websocket messages. Filters come
// from the types and run_id query parameters and can be changed later with
// SubscribeMessage frames.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event hub not configured")
		return
	}
	filter := newEventFilter(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	events, unsubscribe := s.cfg.Hub.Subscribe()
	s.logger.Debug("event stream connected", "remote_addr", r.RemoteAddr)

	closed := make(chan struct{})
	go s.readPump(conn, filter, closed)
	s.writePump(conn, filter, events, closed)

	unsubscribe()
	_ = conn.Close()
	s.logger.Debug("event stream closed", "remote_addr", r.RemoteAddr)
}

func (s *Server) readPump(conn *websocket.Conn, filter *eventFilter, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var msg SubscribeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("event stream read error", "error", err)
			}
			return
		}
		filter.apply(msg)
	}
}

func (s *Server) writePump(conn *websocket.Conn, filter *eventFilter, events <-chan telemetry.Event, closed <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed"))
				return
			}
			if !filter.match(ev) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.runCtx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
