package negotiation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	model "github.com/zhouzirui/mora-bot/backend/internal/model/session"
	negotiationService "github.com/zhouzirui/mora-bot/backend/internal/service/negotiation"
	"github.com/zhouzirui/mora-bot/backend/internal/service/session"
	"github.com/zhouzirui/mora-bot/backend/pkg/utils"
)

// Handler 协商会话的HTTP处理器
type Handler struct {
	svc *negotiationService.Service
}

// New 创建协商处理器
func New(svc *negotiationService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册会话与对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/start-session", h.handleStartSession)
	r.Post("/chat", h.handleChat)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Patch("/sessions/{sessionID}/context", h.handleUpdateContext)
}

type startSessionRequest struct {
	AmountOwed *decimal.Decimal `json:"amount_owed"`
	DaysInMora *int             `json:"days_in_mora"`
}

type startSessionResponse struct {
	SessionID      string `json:"session_id"`
	InitialMessage string `json:"initial_message"`
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatResponse 返回更新后的财务上下文。
type ChatResponse struct {
	Response          string  `json:"response"`
	SessionID         string  `json:"session_id"`
	CurrentAmountOwed float64 `json:"current_amount_owed"`
	CurrentDaysInMora int     `json:"current_days_in_mora"`
}

type updateContextResponse struct {
	Message           string  `json:"message"`
	CurrentAmountOwed float64 `json:"current_amount_owed"`
	CurrentDaysInMora int     `json:"current_days_in_mora"`
}

type sessionResponse struct {
	SessionID         string    `json:"session_id"`
	CurrentAmountOwed float64   `json:"current_amount_owed"`
	CurrentDaysInMora int       `json:"current_days_in_mora"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// handleStartSession 创建会话并生成开场白
func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var payload startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.AmountOwed == nil || payload.DaysInMora == nil {
		utils.RespondError(w, http.StatusBadRequest, "amount_owed and days_in_mora are required")
		return
	}

	created, greeting, err := h.svc.Start(r.Context(), model.FinancialContext{
		AmountOwed: *payload.AmountOwed,
		DaysInMora: *payload.DaysInMora,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, startSessionResponse{
		SessionID:      created.ID,
		InitialMessage: greeting,
	})
}

// handleChat 处理一轮对话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.SessionID) == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	turn, err := h.svc.Handle(r.Context(), payload.SessionID, payload.Message)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, ChatResponse{
		Response:          turn.Reply,
		SessionID:         turn.SessionID,
		CurrentAmountOwed: turn.Context.AmountOwed.InexactFloat64(),
		CurrentDaysInMora: turn.Context.DaysInMora,
	})
}

// handleGetSession 查询会话当前的财务上下文
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	current, err := h.svc.Context(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessionResponse{
		SessionID:         current.ID,
		CurrentAmountOwed: current.Context.AmountOwed.InexactFloat64(),
		CurrentDaysInMora: current.Context.DaysInMora,
		CreatedAt:         current.CreatedAt,
		UpdatedAt:         current.UpdatedAt,
	})
}

// handleUpdateContext 手动更新财务上下文，负数按 0 处理
func (h *Handler) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	var payload model.ContextUpdate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.svc.UpdateContext(r.Context(), chi.URLParam(r, "sessionID"), payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, updateContextResponse{
		Message:           "Context updated successfully",
		CurrentAmountOwed: updated.AmountOwed.InexactFloat64(),
		CurrentDaysInMora: updated.DaysInMora,
	})
}

// respondServiceError 将服务层错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "Invalid or expired session ID")
	case errors.Is(err, negotiationService.ErrMessageRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
