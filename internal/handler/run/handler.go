package run

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-crew/backend/internal/model/chat"
	chatService "github.com/zhouzirui/agent-crew/backend/internal/service/chat"
	"github.com/zhouzirui/agent-crew/backend/internal/service/crew"
	"github.com/zhouzirui/agent-crew/backend/internal/service/transcript"
	"github.com/zhouzirui/agent-crew/backend/pkg/utils"
)

// Handler 协作运行的HTTP处理器
type Handler struct {
	driver  *crew.Driver
	chatSvc *chatService.Service
	logger  zerolog.Logger
}

// New 创建运行处理器
func New(driver *crew.Driver, chatSvc *chatService.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		driver:  driver,
		chatSvc: chatSvc,
		logger:  logger,
	}
}

// RegisterRoutes 注册运行相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/runs", h.handleListRuns)
	r.Post("/runs", h.handleCreateRun)
	r.Get("/runs/{runID}", h.handleGetRun)
	r.Post("/runs/{runID}/messages", h.handleFollowUp)
	r.Get("/runs/{runID}/transcript", h.handleTranscript)
}

// Response is the JSON body describing a run.
type Response struct {
	chat.Session
	Artifact *crew.Artifact      `json:"artifact,omitempty"`
	Publish  *crew.PublishResult `json:"publish,omitempty"`
	Messages []chat.Record       `json:"messages"`
}

func fromResult(result *crew.Result) Response {
	artifact := result.Artifact
	return Response{
		Session:  result.Session,
		Artifact: &artifact,
		Publish:  result.Publish,
		Messages: result.Messages,
	}
}

// handleCreateRun 启动一次协作并同步返回完整对话
func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Request string `json:"request"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.driver.Run(r.Context(), payload.Request)
	if err != nil {
		h.respondRunError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, fromResult(result))
}

// handleFollowUp 追加用户消息并继续协作
func (h *Handler) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Content == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	result, err := h.driver.Resume(r.Context(), chi.URLParam(r, "runID"), payload.Content)
	if err != nil {
		h.respondRunError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, fromResult(result))
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.ListSessions(r.Context()))
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	session, records, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, Response{Session: session, Messages: records})
}

// handleTranscript 以HTML形式渲染对话记录
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	session, records, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	page, err := transcript.RenderHTML("Run "+session.ID, records)
	if err != nil {
		h.logger.Error().Err(err).Str("session", session.ID).Msg("failed to render transcript")
		utils.RespondError(w, http.StatusInternalServerError, "failed to render transcript")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(page); err != nil {
		h.logger.Warn().Err(err).Msg("failed to write transcript")
	}
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (chat.Session, []chat.Record, bool) {
	runID := chi.URLParam(r, "runID")
	session, err := h.chatSvc.GetSession(r.Context(), runID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return chat.Session{}, nil, false
	}
	turns, err := h.chatSvc.LoadTranscript(r.Context(), runID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return chat.Session{}, nil, false
	}
	return session, chat.Records(turns), true
}

func (h *Handler) respondRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrRequestRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, crew.ErrSessionBusy):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("run failed")
		utils.RespondError(w, http.StatusInternalServerError, "run failed")
	}
}
