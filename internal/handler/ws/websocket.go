package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/skychat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/skychat/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// WebSocketHandler WebSocket会话视图处理器
type WebSocketHandler struct {
	chatSvc  *chatservice.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(chatSvc *chatservice.Service, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		chatSvc: chatSvc,
		logger:  logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage carries the draft text for draft and send messages.
type TextMessage struct {
	Text *string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection serializes writes; gorilla allows one concurrent writer.
type connection struct {
	conn      *websocket.Conn
	sessionID string
	logger    *zap.Logger

	writeMu sync.Mutex
	sends   sync.WaitGroup
}

func (c *connection) write(msg outgoingMessage) {
	msg.Timestamp = time.Now().Unix()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("write failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (c *connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *connection) sendState(snapshot chat.Snapshot) {
	c.write(outgoingMessage{Type: "state", SessionID: c.sessionID, Data: snapshot})
}

func (c *connection) sendError(message string) {
	c.write(outgoingMessage{Type: "error", SessionID: c.sessionID, Data: map[string]string{"message": message}})
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	controller, err := h.chatSvc.Controller(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer wsConn.Close()

	conn := &connection{conn: wsConn, sessionID: sessionID, logger: h.logger.With(zap.String("session", sessionID))}
	conn.logger.Info("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		conn.sends.Wait()
		conn.logger.Info("connection closed")
	}()

	unsubscribe := controller.Subscribe(conn.sendState)
	defer unsubscribe()

	_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	conn.sends.Add(1)
	go func() {
		defer conn.sends.Done()
		h.pingLoop(ctx, conn)
	}()

	conn.write(outgoingMessage{Type: "connected", SessionID: sessionID, Data: map[string]any{
		"greeting": chatservice.Greeting,
	}})
	conn.sendState(controller.Snapshot())

	for {
		var msg inboundMessage
		if err := wsConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.logger.Warn("read error", zap.Error(err))
			}
			return
		}

		_ = wsConn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			conn.sendError("session mismatch")
			continue
		}

		h.handleMessage(conn, controller, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(conn *connection, controller *chatservice.Controller, msg *inboundMessage) {
	switch msg.Type {
	case "draft":
		text, ok := decodeText(msg.Data)
		if !ok {
			conn.sendError("invalid draft payload")
			return
		}
		controller.SetDraft(text)
	case "send":
		text, hasText := decodeText(msg.Data)
		// The send runs outside the read loop so drafts keep flowing while
		// the reply is pending.
		conn.sends.Add(1)
		go func() {
			defer conn.sends.Done()
			h.send(conn, controller, text, hasText)
		}()
	default:
		conn.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *WebSocketHandler) send(conn *connection, controller *chatservice.Controller, text string, hasText bool) {
	ctx := context.Background()

	var (
		entry chat.Entry
		err   error
	)
	if hasText {
		entry, err = controller.SendText(ctx, text)
	} else {
		entry, err = controller.Send(ctx)
	}

	switch {
	case err == nil:
		conn.write(outgoingMessage{Type: "entry", SessionID: conn.sessionID, Data: entry})
	case errors.Is(err, chatservice.ErrEmptyDraft):
		// 空草稿静默忽略
	default:
		conn.sendError(err.Error())
	}
}

func decodeText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var payload TextMessage
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Text == nil {
		return "", false
	}
	return *payload.Text, true
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
