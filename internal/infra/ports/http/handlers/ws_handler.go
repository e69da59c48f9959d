package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/qrave1/meshroom/internal/application/config"
	"github.com/qrave1/meshroom/internal/application/constant"
	"github.com/qrave1/meshroom/internal/domain/events"
	"github.com/qrave1/meshroom/internal/infra/adapters/memory"
	"github.com/qrave1/meshroom/internal/usecase"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // SDP с запасом
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	signalingUsecase usecase.SignalingUsecase

	wsConnRepo memory.WebsocketConnectionRepository
}

func NewWebSocketHandler(
	cfg *config.Config,
	signalingUsecase usecase.SignalingUsecase,
	wsConnRepo memory.WebsocketConnectionRepository,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")

				// Не браузерные клиенты Origin не присылают
				if cfg.Debug || origin == "" {
					return true
				}

				return origin == cfg.Domain
			},
		},
		signalingUsecase: signalingUsecase,
		wsConnRepo:       wsConnRepo,
	}
}

// Handle обслуживает одно соединение. Участник живёт ровно столько же, сколько сокет
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

	ctx := c.Request().Context()
	participantID := uuid.NewString()

	h.wsConnRepo.Add(participantID, ws)
	defer h.wsConnRepo.Remove(participantID)

	// Выход из комнаты при любом закрытии сокета, штатном или нет
	defer h.signalingUsecase.HandleDisconnect(ctx, participantID)

	ws.SetReadLimit(maxMessageSize)

	if err = ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go h.keepAlive(ws, participantID, done)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			h.handleWebsocketError(participantID, err)
			return nil
		}

		var msg events.Message

		if err = json.Unmarshal(raw, &msg); err != nil {
			slog.Warn(
				"unmarshal websocket message",
				slog.Any(constant.Error, err),
				slog.String(constant.ParticipantID, participantID),
			)
			continue
		}

		ev, err := events.Decode(msg)
		if err != nil {
			slog.Warn(
				"decode websocket message",
				slog.Any(constant.Error, err),
				slog.String(constant.ParticipantID, participantID),
			)
			continue
		}

		if err = h.handleEvent(ctx, participantID, ev); err != nil {
			slog.Error(
				"handle message",
				slog.Any(constant.Error, err),
				slog.String(constant.ParticipantID, participantID),
				slog.String(constant.EventType, string(ev.EventType())),
			)
		}
	}
}

// keepAlive шлёт ping. WriteControl можно вызывать параллельно с обычной записью
func (h *WebSocketHandler) keepAlive(ws *websocket.Conn, participantID string, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Debug(
					"ping failed",
					slog.Any(constant.Error, err),
					slog.String(constant.ParticipantID, participantID),
				)
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WebSocketHandler) handleEvent(ctx context.Context, participantID string, ev events.Event) error {
	switch e := ev.(type) {
	case events.JoinRoom:
		if err := h.signalingUsecase.HandleJoin(ctx, participantID, e); err != nil {
			return fmt.Errorf("handle join: %w", err)
		}

	case events.Offer, events.Answer, events.ICECandidate:
		if err := h.signalingUsecase.HandleRelay(ctx, participantID, e); err != nil {
			return fmt.Errorf("handle relay: %w", err)
		}

	case events.ChatMessage, events.ParticipantUpdate:
		if err := h.signalingUsecase.HandleBroadcast(ctx, participantID, e); err != nil {
			return fmt.Errorf("handle broadcast: %w", err)
		}

	case events.JoinSuccess, events.JoinError, events.RoomParticipants,
		events.UserJoined, events.UserLeft, events.SystemMessage:
		return fmt.Errorf("%w: %s is server to client only", usecase.ErrUnexpectedEvent, ev.EventType())

	default:
		return fmt.Errorf("%w: %s", usecase.ErrUnexpectedEvent, ev.EventType())
	}

	return nil
}

func (h *WebSocketHandler) handleWebsocketError(participantID string, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("participant disconnected from websocket", slog.String(constant.ParticipantID, participantID))
		default:
			slog.Warn(
				"websocket closed abnormally",
				slog.Int("code", closeErr.Code),
				slog.String(constant.ParticipantID, participantID),
			)
		}
		return
	}

	slog.Error(
		"websocket read",
		slog.Any(constant.Error, err),
		slog.String(constant.ParticipantID, participantID),
	)
}
