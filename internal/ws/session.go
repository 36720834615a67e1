package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 8 * 1024
)

// session is one connected websocket on one topic.
type session struct {
	hub    *Hub
	conn   *websocket.Conn
	topic  string
	userID int64
	role   string
	send   chan []byte

	closeOnce sync.Once
}

func newSession(h *Hub, topic string, userID int64, role string, conn *websocket.Conn) *session {
	return &session{
		hub:    h,
		conn:   conn,
		topic:  topic,
		userID: userID,
		role:   role,
		send:   make(chan []byte, 256),
	}
}

// readPump drains the connection so pings are answered; the channel is
// push-only, inbound frames are discarded.
func (s *session) readPump() {
	defer s.close()
	s.conn.SetReadLimit(readLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		// leave closes s.send; writePump then drains and shuts the conn.
		s.hub.leave(s.topic, s)
		_ = s.conn.Close()
	})
}
