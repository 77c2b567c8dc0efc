package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-crew/backend/internal/handler/agent"
	"github.com/zhouzirui/agent-crew/backend/internal/handler/run"
	"github.com/zhouzirui/agent-crew/backend/internal/handler/stream"
	"github.com/zhouzirui/agent-crew/backend/internal/handler/ws"
	"github.com/zhouzirui/agent-crew/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/agent-crew/backend/internal/middleware"
	agentModel "github.com/zhouzirui/agent-crew/backend/internal/model/agent"
	chatService "github.com/zhouzirui/agent-crew/backend/internal/service/chat"
	"github.com/zhouzirui/agent-crew/backend/internal/service/crew"
	"github.com/zhouzirui/agent-crew/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. driver may be nil when no
// chat model is configured; run endpoints then answer 503.
func NewRouter(agents agentModel.Store, chatSvc *chatService.Service, driver *crew.Driver, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logging.Component(logger, "http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	agentHandler := agent.New(agents)

	r.Route("/api", func(api chi.Router) {
		agentHandler.RegisterRoutes(api)

		if driver == nil {
			unavailable := func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "chat model unavailable")
			}
			api.HandleFunc("/runs", unavailable)
			api.HandleFunc("/runs/*", unavailable)
			return
		}

		run.New(driver, chatSvc, logging.Component(logger, "run")).RegisterRoutes(api)
		ws.New(driver, logging.Component(logger, "ws")).RegisterRoutes(api)
		api.Method(http.MethodGet, "/runs/stream", stream.New(driver, logging.Component(logger, "stream")))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
