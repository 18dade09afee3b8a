package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The subscriber surface is public; origin policy belongs to the proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

func (s *subscriber) writePump() {
	defer s.conn.Close()
	for payload := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump handles the opening message, then keeps reading only to notice
// the disconnect. Further client text is ignored. The backlog query runs
// under the connection's own context; the upgrade request's context is
// cancelled by net/http as soon as the handler returns, long before the
// opening message arrives.
func (s *subscriber) readPump(h *Hub) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		h.detach(s)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageBytes)

	// Only the opening message is awaited under a deadline; idle
	// subscribers afterwards are fine.
	s.conn.SetReadDeadline(time.Now().Add(readWait))
	_, opening, err := s.conn.ReadMessage()
	if err != nil {
		return
	}
	if frame := h.backlogFrame(ctx, opening); frame != nil {
		select {
		case s.send <- frame:
		default:
		}
	}

	s.conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// SpotsHandler serves /spots_ws.
func (h *Hub) SpotsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
		if !h.attach(s) {
			conn.Close()
			return
		}
		go s.writePump()
		go s.readPump(h)
	}
}

// RadioHandler serves /radio: no radio-control sidecar is installed, so the
// answer is a fixed status followed by a close.
func RadioHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"status": "unavailable"}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

// SubmitHandler serves /submit_spot. The upstream submission proxy is not
// part of this deployment; the connection is accepted and closed.
func SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "submission unavailable"))
		conn.Close()
	}
}
