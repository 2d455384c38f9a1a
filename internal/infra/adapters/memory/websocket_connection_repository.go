package memory

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/straymeet/straymeet/internal/application/constant"
	"github.com/straymeet/straymeet/internal/domain/events"
)

// WebsocketConnectionRepository tracks live websocket connections and
// delivers outbound events to them. Writes are fire-and-forget: a failed
// write is logged and the event is dropped for that recipient.
type WebsocketConnectionRepository interface {
	Add(connID string, conn *websocket.Conn)
	Remove(connID string)

	Send(connID string, msg events.Message)
	Broadcast(msg events.Message)
}

// safeWS serializes writes to one connection; gorilla/websocket allows
// only a single concurrent writer.
type safeWS struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *safeWS) write(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.WriteJSON(payload)
}

type wsConnectionRepository struct {
	wsConns map[string]*safeWS

	mu sync.RWMutex
}

func NewWSConnectionRepository() WebsocketConnectionRepository {
	return &wsConnectionRepository{
		wsConns: make(map[string]*safeWS, 64),
	}
}

func (w *wsConnectionRepository) Add(connID string, conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.wsConns[connID] = &safeWS{conn: conn}
}

func (w *wsConnectionRepository) Remove(connID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.wsConns, connID)
}

func (w *wsConnectionRepository) Send(connID string, msg events.Message) {
	ws, ok := w.get(connID)
	if !ok {
		return
	}

	if err := ws.write(msg); err != nil {
		slog.Debug("write to websocket",
			slog.String(constant.ConnectionID, connID),
			slog.Any(constant.Error, err),
		)
	}
}

func (w *wsConnectionRepository) Broadcast(msg events.Message) {
	w.mu.RLock()
	conns := make(map[string]*safeWS, len(w.wsConns))
	for id, ws := range w.wsConns {
		conns[id] = ws
	}
	w.mu.RUnlock()

	for id, ws := range conns {
		if err := ws.write(msg); err != nil {
			slog.Debug("broadcast to websocket",
				slog.String(constant.ConnectionID, id),
				slog.Any(constant.Error, err),
			)
		}
	}
}

func (w *wsConnectionRepository) get(connID string) (*safeWS, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	conn, ok := w.wsConns[connID]
	return conn, ok
}
