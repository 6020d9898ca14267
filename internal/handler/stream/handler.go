package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatModel "github.com/zhouzirui/skychat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/skychat/backend/internal/service/chat"
	"github.com/zhouzirui/skychat/backend/pkg/utils"
)

// Handler answers one message per request over Server-Sent Events
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.Named("handler.stream"),
	}
}

// StreamResponse is the data line of every event; the SSE event name is
// start, message, end or error.
type StreamResponse struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state,omitempty"`
	Entry     any    `json:"entry,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		userMessage := r.URL.Query().Get("message")

		if userMessage == "" {
			utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
			return
		}

		if err := h.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
			h.logger.Warn("stream request failed", zap.String("session", sessionID), zap.Error(err))
		}
	})
}

// HandleStreamRequest sends userMessage through the session controller and
// reports progress as start, message and end events.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return fmt.Errorf("streaming unsupported")
	}

	controller, err := h.chatSvc.Controller(ctx, sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return err
	}

	utils.SetupSSEHeaders(w)

	if err := utils.SendSSEEvent(w, flusher, "start", StreamResponse{
		SessionID: sessionID,
		State:     string(chatModel.StateSending),
	}); err != nil {
		return err
	}

	// 客户端断开也要完成这次发送，保证记录成对写入。
	entry, err := controller.SendText(context.WithoutCancel(ctx), userMessage)
	if err != nil {
		if sendErr := utils.SendSSEEvent(w, flusher, "error", StreamResponse{
			SessionID: sessionID,
			State:     string(chatModel.StateIdle),
			Error:     describeSendError(err),
		}); sendErr != nil {
			return sendErr
		}
		return err
	}

	if err := utils.SendSSEEvent(w, flusher, "message", StreamResponse{
		SessionID: sessionID,
		Entry:     entry,
	}); err != nil {
		return err
	}

	if err := utils.SendSSEEvent(w, flusher, "end", StreamResponse{
		SessionID: sessionID,
		State:     string(chatModel.StateIdle),
		Finished:  true,
	}); err != nil {
		return err
	}

	h.logger.Debug("stream completed", zap.String("session", sessionID), zap.String("route", string(entry.Route)))
	return nil
}

func describeSendError(err error) string {
	switch {
	case errors.Is(err, chatService.ErrEmptyDraft):
		return "message is empty"
	case errors.Is(err, chatService.ErrSendInFlight), errors.Is(err, chatService.ErrLocationRequired):
		return err.Error()
	default:
		return "send failed"
	}
}
