package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatModel "github.com/zhouzirui/skychat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/skychat/backend/internal/service/chat"
	"github.com/zhouzirui/skychat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.Named("handler.chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleDeleteSession)
		r.Put("/draft", h.handleUpdateDraft)
		r.Post("/messages", h.handleSendMessage)
	})
}

type textPayload struct {
	Text *string `json:"text"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, _ := h.chatSvc.CreateSession(r.Context())
	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"session":  session,
		"greeting": chatService.Greeting,
	})
}

// handleGetSession 返回会话快照
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, controller.Snapshot())
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondSendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateDraft 更新草稿
func (h *Handler) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}

	var payload textPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Text == nil {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	controller.SetDraft(*payload.Text)
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage 发送消息；未提供 text 时发送当前草稿
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.controller(w, r)
	if !ok {
		return
	}

	var payload textPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// 请求断开不应中断已经开始的发送。
	ctx := context.WithoutCancel(r.Context())

	var (
		entry chatModel.Entry
		err   error
	)
	if payload.Text != nil {
		entry, err = controller.SendText(ctx, *payload.Text)
	} else {
		entry, err = controller.Send(ctx)
	}
	if err != nil {
		h.respondSendError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, entry)
}

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*chatService.Controller, bool) {
	controller, err := h.chatSvc.Controller(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondSendError(w, err)
		return nil, false
	}
	return controller, true
}

func (h *Handler) respondSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrEmptyDraft):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrSendInFlight):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chatService.ErrLocationRequired):
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("unexpected send error", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
