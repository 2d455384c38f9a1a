package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/straymeet/straymeet/internal/application/config"
	"github.com/straymeet/straymeet/internal/application/constant"
	"github.com/straymeet/straymeet/internal/coordinator"
	"github.com/straymeet/straymeet/internal/domain/events"
	"github.com/straymeet/straymeet/internal/infra/adapters/memory"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	coordinator *coordinator.Coordinator
	wsConnRepo  memory.WebsocketConnectionRepository
}

func NewWebSocketHandler(cfg *config.Config, coord *coordinator.Coordinator, wsConnRepo memory.WebsocketConnectionRepository) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		coordinator: coord,
		wsConnRepo:  wsConnRepo,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"WebSocket upgrade error",
			slog.Any(constant.Error, err),
		)
		return err
	}
	defer ws.Close()

	connID := uuid.NewString()

	h.wsConnRepo.Add(connID, ws)
	h.coordinator.Connect(connID, c.Request().RemoteAddr)

	defer func() {
		h.coordinator.Disconnect(connID)
		h.wsConnRepo.Remove(connID)
	}()

	if err = ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				// WriteControl is safe alongside the repository's writer.
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug(
					"websocket read error",
					slog.String(constant.ConnectionID, connID),
					slog.Any(constant.Error, err),
				)
			}

			return nil
		}

		var msg events.Message
		if err = json.Unmarshal(raw, &msg); err != nil {
			slog.Debug("unmarshal websocket message", slog.Any(constant.Error, err))
			continue
		}

		h.handleMessage(connID, &msg)
	}
}

// handleMessage dispatches one inbound event. Payloads that fail to
// decode are dropped: the coordinator is tolerant of partial client
// state by design, and no error event is owed here.
func (h *WebSocketHandler) handleMessage(connID string, msg *events.Message) {
	switch msg.Type {
	case events.TypeRegisterIdentity:
		var ev events.RegisterIdentityEvent
		if decode(msg.Data, &ev) {
			h.coordinator.HandleRegisterIdentity(connID, ev)
		}

	case events.TypeJoinQueue:
		var ev events.JoinQueueEvent
		if decode(msg.Data, &ev) {
			h.coordinator.HandleJoinQueue(connID, ev)
		}

	case events.TypeCreateRoom:
		var ev events.CreateRoomEvent
		if decode(msg.Data, &ev) {
			h.coordinator.HandleCreateRoom(connID, ev)
		}

	case events.TypeGetRoomInfo:
		var ev events.RoomCodeEvent
		if decode(msg.Data, &ev) {
			h.coordinator.HandleGetRoomInfo(connID, ev)
		}

	case events.TypeJoinPrivateRoom:
		var ev events.JoinRoomEvent
		if decode(msg.Data, &ev) {
			h.coordinator.HandleJoinRoom(connID, ev)
		}

	case events.TypeAnnounceProfile:
		var ev events.AnnounceProfileEvent
		if decode(msg.Data, &ev) {
			h.coordinator.HandleAnnounceProfile(connID, ev)
		}

	case events.TypeSendMessage:
		var ev events.SendMessageEvent
		if decode(msg.Data, &ev) {
			h.coordinator.HandleSendMessage(connID, ev)
		}

	case events.TypeMessageDelivered:
		var ev events.MessageDeliveredEvent
		if decode(msg.Data, &ev) {
			h.coordinator.HandleMessageDelivered(connID, ev)
		}

	case events.TypeTyping:
		h.coordinator.HandleTyping(connID, indicator(msg.Data), false)

	case events.TypeStopTyping:
		h.coordinator.HandleTyping(connID, indicator(msg.Data), true)

	case events.TypeReaction:
		h.coordinator.HandleReaction(connID, indicator(msg.Data))

	case events.TypeSkipChat:
		h.coordinator.HandleSkip(connID)

	case events.TypeLeaveChat:
		h.coordinator.HandleLeave(connID)

	default:
		slog.Debug("unknown event type",
			slog.String(constant.EventType, msg.Type),
			slog.String(constant.ConnectionID, connID),
		)
	}
}

// indicator decodes the optional routing payload of typing, stop_typing
// and reaction events; a missing payload means the random-chat path.
func indicator(data json.RawMessage) events.IndicatorEvent {
	var ev events.IndicatorEvent
	if len(data) > 0 {
		_ = json.Unmarshal(data, &ev)
	}

	return ev
}

func decode(data json.RawMessage, out any) bool {
	if len(data) == 0 {
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		slog.Debug("unmarshal event payload", slog.Any(constant.Error, err))
		return false
	}

	return true
}
