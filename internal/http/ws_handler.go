package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"talentchat/internal/broadcast"
	"talentchat/internal/domain"
	"talentchat/internal/service"
)

const (
	maxDecodeErrorsPerConn = 3
	maxFramesPerSecond     = 20
	maxFramePayloadBytes   = 16 * 1024
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

type roomPayload struct {
	RoomID    string `json:"room_id"`
	Recipient string `json:"recipient"`
}

type sendPayload struct {
	RoomID    string `json:"room_id"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

type joinedPayload struct {
	RoomID     string `json:"room_id"`
	ServerTime string `json:"server_time"`
}

type ackPayload struct {
	Status  string          `json:"status"`
	RoomID  string          `json:"room_id,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
}

// wsPeer serializa escrituras: el writer de eventos y las respuestas a frames
// comparten la conexion.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.JSON.Send(p.conn, frame)
}

func (p *wsPeer) writeError(requestID, code, message string, retryable bool) error {
	return p.writeFrame(wsFrame{
		Type:      "chat.error",
		RequestID: requestID,
		Payload:   mustJSON(wsErrorEnvelope{Error: wsError{Code: code, Message: message, Retryable: retryable}}),
	})
}

// WSHandler expone el canal en vivo sobre websocket. La identidad viene del
// JWT validado en el handshake.
type WSHandler struct {
	logger   *zap.Logger
	hub      *broadcast.Hub
	messages *service.MessageService
}

func NewWSHandler(logger *zap.Logger, hub *broadcast.Hub, messages *service.MessageService) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{logger: logger, hub: hub, messages: messages}
}

// Handle maneja GET /ws.
func (h *WSHandler) Handle(c *gin.Context) {
	identity, ok := authIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broadcast not configured"})
		return
	}

	srv := websocket.Server{
		// El origen no se valida: la autenticacion es el JWT.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			h.serve(conn, identity)
		},
	}
	srv.ServeHTTP(c.Writer, c.Request)
}

func (h *WSHandler) serve(conn *websocket.Conn, identity string) {
	defer func() {
		_ = conn.Close()
	}()

	peer := &wsPeer{conn: conn}
	sub := h.hub.NewSubscriber(identity)
	defer h.hub.Disconnect(sub)

	go h.pump(peer, sub)

	ctx := conn.Request().Context()
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			if errors.Is(err, io.EOF) || !isDecodeError(err) {
				return
			}
			decodeErrors++
			_ = peer.writeError("", "INVALID_ARGUMENT", "invalid frame payload", false)
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "payload too large", false)
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = peer.writeError(frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded", true)
			return
		}

		switch frame.Type {
		case "chat.join":
			h.handleJoin(peer, sub, frame)
		case "chat.leave":
			h.handleLeave(peer, sub, frame)
		case "chat.send":
			h.handleSend(ctx, peer, sub, frame)
		default:
			_ = peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type", false)
		}
	}
}

// pump drena los eventos del suscriptor hacia la conexion hasta el Disconnect.
func (h *WSHandler) pump(peer *wsPeer, sub *broadcast.Subscriber) {
	for {
		select {
		case <-sub.Done():
			return
		case ev := <-sub.Events():
			if err := peer.writeFrame(wsFrame{Type: ev.Type, Payload: mustJSON(ev)}); err != nil {
				h.logger.Debug("websocket write failed", zap.String("subscriber_id", sub.ID), zap.Error(err))
				h.hub.Disconnect(sub)
				return
			}
		}
	}
}

func (h *WSHandler) handleJoin(peer *wsPeer, sub *broadcast.Subscriber, frame wsFrame) {
	var payload roomPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "invalid join payload", false)
		return
	}

	roomID, err := service.ResolveRoom(payload.RoomID, sub.Identity, payload.Recipient)
	if err == nil {
		err = service.Authorize(roomID, sub.Identity)
	}
	if err != nil {
		h.writeFrameError(peer, frame.RequestID, err)
		return
	}
	if err := h.hub.Join(sub, roomID); err != nil {
		_ = peer.writeError(frame.RequestID, "UNAVAILABLE", "connection closed", false)
		return
	}

	_ = peer.writeFrame(wsFrame{
		Type:      "chat.joined",
		RequestID: frame.RequestID,
		Payload: mustJSON(joinedPayload{
			RoomID:     roomID,
			ServerTime: time.Now().UTC().Format(time.RFC3339),
		}),
	})
}

func (h *WSHandler) handleLeave(peer *wsPeer, sub *broadcast.Subscriber, frame wsFrame) {
	var payload roomPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "invalid leave payload", false)
		return
	}
	roomID := strings.TrimSpace(payload.RoomID)
	if roomID == "" {
		_ = peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "room_id is required", false)
		return
	}
	h.hub.Leave(sub, roomID)
	_ = peer.writeFrame(wsFrame{
		Type:      "chat.ack",
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackPayload{Status: "ok", RoomID: roomID}),
	})
}

func (h *WSHandler) handleSend(ctx context.Context, peer *wsPeer, sub *broadcast.Subscriber, frame wsFrame) {
	var payload sendPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "invalid send payload", false)
		return
	}

	msg, err := h.messages.Send(ctx, sub.Identity, service.SendInput{
		RoomID:    payload.RoomID,
		Recipient: payload.Recipient,
		Sender:    sub.Identity,
		Body:      payload.Body,
	})
	if err != nil {
		h.writeFrameError(peer, frame.RequestID, err)
		return
	}

	_ = peer.writeFrame(wsFrame{
		Type:      "chat.ack",
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackPayload{Status: "ok", RoomID: msg.RoomID, Message: &msg}),
	})
}

func (h *WSHandler) writeFrameError(peer *wsPeer, requestID string, err error) {
	switch statusFor(err) {
	case http.StatusBadRequest:
		_ = peer.writeError(requestID, "INVALID_ARGUMENT", err.Error(), false)
	case http.StatusForbidden:
		_ = peer.writeError(requestID, "FORBIDDEN", "participant access required for room", false)
	case http.StatusTooManyRequests:
		wsErr := wsError{Code: "RESOURCE_EXHAUSTED", Message: "rate limit exceeded", Retryable: true}
		if retryAfter, ok := retryAfterFor(err); ok {
			wsErr.Details = map[string]any{"retry_after_ms": retryAfter.Milliseconds()}
		}
		_ = peer.writeFrame(wsFrame{
			Type:      "chat.error",
			RequestID: requestID,
			Payload:   mustJSON(wsErrorEnvelope{Error: wsErr}),
		})
	case http.StatusServiceUnavailable:
		h.logger.Error("websocket frame failed", zap.Error(err))
		_ = peer.writeError(requestID, "UNAVAILABLE", "storage unavailable", true)
	default:
		h.logger.Error("websocket frame failed", zap.Error(err))
		_ = peer.writeError(requestID, "INTERNAL", "internal error", false)
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
