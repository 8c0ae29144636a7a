package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status surface is read-only and unauthenticated; origin checks
	// belong to whatever fronts it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket streams activity records to the client as they are
// published. The connection closes when the client goes away, the feed is
// unavailable, or a write fails.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		s.writeError(w, http.StatusServiceUnavailable, "activity stream unavailable")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.feed.Subscribe()
	defer func() {
		s.feed.Unsubscribe(sub)
		_ = conn.Close()
	}()

	// Reader goroutine: consume control frames and detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case rec, ok := <-sub:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if writeErr := conn.WriteJSON(rec); writeErr != nil {
				s.logger.Debug("websocket write failed", zap.Error(writeErr))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if pingErr := conn.WriteMessage(websocket.PingMessage, nil); pingErr != nil {
				return
			}
		}
	}
}
