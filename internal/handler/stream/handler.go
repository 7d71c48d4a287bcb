package stream

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/mora-bot/backend/internal/logging"
	negotiationService "github.com/zhouzirui/mora-bot/backend/internal/service/negotiation"
	"github.com/zhouzirui/mora-bot/backend/internal/service/session"
	"github.com/zhouzirui/mora-bot/backend/pkg/utils"
)

// Handler manages streaming negotiation replies via Server-Sent Events
type Handler struct {
	svc    *negotiationService.Service
	logger *zap.Logger
}

// New creates a new stream handler
func New(svc *negotiationService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes 注册流式对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/stream", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event             string   `json:"event"`
	Content           string   `json:"content,omitempty"`
	SessionID         string   `json:"session_id,omitempty"`
	CurrentAmountOwed *float64 `json:"current_amount_owed,omitempty"`
	CurrentDaysInMora *int     `json:"current_days_in_mora,omitempty"`
	Finished          bool     `json:"finished,omitempty"`
	Error             string   `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := r.URL.Query().Get("message")

	if strings.TrimSpace(userMessage) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	// Unknown sessions get a plain 404 before the event stream opens.
	if _, err := h.svc.Context(sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Invalid or expired session ID")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	logger := logging.FromContext(r.Context(), h.logger).With(zap.String("session_id", sessionID))

	h.send(w, flusher, StreamResponse{Event: "start", SessionID: sessionID})

	turn, err := h.svc.Stream(r.Context(), sessionID, userMessage, func(delta string) error {
		return utils.SendSSEChunk(w, flusher, StreamResponse{
			Event:     "delta",
			SessionID: sessionID,
			Content:   delta,
		})
	})
	if err != nil {
		logger.Warn("stream turn failed", zap.Error(err))
		h.send(w, flusher, StreamResponse{
			Event:     "error",
			SessionID: sessionID,
			Error:     err.Error(),
		})
		return
	}

	amount := turn.Context.AmountOwed.InexactFloat64()
	days := turn.Context.DaysInMora

	h.send(w, flusher, StreamResponse{Event: "message", SessionID: sessionID, Content: turn.Reply})
	h.send(w, flusher, StreamResponse{
		Event:             "context",
		SessionID:         sessionID,
		CurrentAmountOwed: &amount,
		CurrentDaysInMora: &days,
	})
	h.send(w, flusher, StreamResponse{Event: "end", SessionID: sessionID, Finished: true})

	logger.Info("completed streamed reply", zap.Int("length", len(turn.Reply)))
}

func (h *Handler) send(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	if err := utils.SendSSEChunk(w, flusher, response); err != nil {
		h.logger.Debug("failed to send sse event", zap.String("event", response.Event), zap.Error(err))
	}
}
