package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mwiater/refiner/internal/events"
	"github.com/mwiater/refiner/internal/logging"
)

// Events streams pipeline events over a websocket, one JSON object per text
// message. With ?since=N retained events after N are replayed first.
// GET /v1/events
func (s *Server) Events(c echo.Context) error {
	var since int64 = -1
	if raw := c.QueryParam("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return errorJSON(c, http.StatusBadRequest, "since must be a non-negative integer")
		}
		since = n
	}

	// Subscribe before the upgrade so no event published after the handshake is missed.
	sub := s.orchestrator.Bus().Subscribe(s.eventBuffer)
	defer sub.Close()

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logging.LogEvent("[HTTP] websocket upgrade failed: %v", err)
		return err
	}
	defer ws.Close()

	var last int64
	if since >= 0 {
		for _, e := range s.orchestrator.Bus().Since(since) {
			if err := s.writeEvent(ws, e); err != nil {
				return nil
			}
			last = e.Seq
		}
	}

	closed := make(chan struct{})
	go readUntilClosed(ws, closed)

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return nil
			}
			if e.Seq <= last {
				continue
			}
			if err := s.writeEvent(ws, e); err != nil {
				logging.LogEvent("[HTTP] websocket write failed: %v", err)
				return nil
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			if n := sub.Dropped(); n > 0 {
				logging.LogEvent("[HTTP] websocket subscriber dropped %d events", n)
			}
			return nil
		}
	}
}

func (s *Server) writeEvent(ws *websocket.Conn, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// readUntilClosed drains client frames so control messages are processed and
// closes done when the peer goes away.
func readUntilClosed(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.LogEvent("[HTTP] websocket error: %v", err)
			}
			return
		}
	}
}
