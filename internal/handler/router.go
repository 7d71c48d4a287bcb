package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/mora-bot/backend/internal/handler/negotiation"
	"github.com/zhouzirui/mora-bot/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/mora-bot/backend/internal/middleware"
	negotiationService "github.com/zhouzirui/mora-bot/backend/internal/service/negotiation"
	"github.com/zhouzirui/mora-bot/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. documents is the size of
// the retrieval corpus, reported by the health check.
func NewRouter(svc *negotiationService.Service, documents int, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	negotiation.New(svc).RegisterRoutes(r)
	stream.New(svc, logger).RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"sessions":  svc.SessionCount(),
			"documents": documents,
		})
	})

	return r
}
