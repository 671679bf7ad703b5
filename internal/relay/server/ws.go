package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wall/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// wsSubscriber adapts one WebSocket connection to the hub's Subscriber
// contract. Writes are serialized under a mutex because the hub's broadcast
// goroutine and the connection's read loop both send frames.
type wsSubscriber struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (s *wsSubscriber) ID() string { return s.id }

// Send delivers one distribution event. A write that misses the deadline
// counts as a failed delivery, which evicts the subscriber from the hub.
func (s *wsSubscriber) Send(event relay.Inbound) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return s.write(wsFrame{Type: "p2p_event", Data: data})
}

func (s *wsSubscriber) write(frame wsFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(frame)
}

// handleWS upgrades the connection, registers it with the fan-out hub, and
// serves control frames until the client disconnects. Malformed frames get an
// error frame back without closing the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &wsSubscriber{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: s.cfg.WriteTimeout,
	}

	s.hub.Register(sub)
	s.registry.SetSubscribers(s.hub.Count())

	defer func() {
		s.hub.Unregister(sub.id)
		s.registry.SetSubscribers(s.hub.Count())
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed",
					zap.String("subscriber", sub.id),
					zap.Error(err),
				)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			s.sendControl(sub, wsFrame{Type: "error", Message: "malformed frame"})
			continue
		}

		switch frame.Type {
		case "ping":
			s.sendControl(sub, wsFrame{Type: "pong"})
		default:
			s.sendControl(sub, wsFrame{
				Type:    "error",
				Message: fmt.Sprintf("unknown frame type: %s", frame.Type),
			})
		}
	}
}

func (s *Server) sendControl(sub *wsSubscriber, frame wsFrame) {
	if err := sub.write(frame); err != nil {
		s.logger.Warn("failed to write control frame",
			zap.String("subscriber", sub.id),
			zap.Error(err),
		)
	}
}
