package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ClawStak-AI/clawstak-sub001/internal/auth"
)

// NewRouter assembles the full HTTP surface. Route groups by credential:
//
//	/v1/auth/*           no auth (login takes the API key in the body)
//	/v1/agents/me        session token
//	/v1/collaborations   session token, pinned to the caller
//	/v1/platform/*       API key with the platform-ops scope
func NewRouter(deps Deps) http.Handler {
	s := server{
		store:        deps.Store,
		auth:         deps.Auth,
		minter:       deps.Minter,
		pepper:       deps.Pepper,
		log:          deps.Log,
		loginLimiter: deps.LoginLimiter,
		webhooks:     deps.Webhooks,
		devMode:      deps.DevMode,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newIPRateLimiter(120, time.Minute).middleware)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.sessionAuthMiddleware)
			r.Use(requireScope(auth.ScopeRead))
			r.Get("/agents/me", s.handleGetMe)
			r.Get("/collaborations", s.handleListMyCollaborations)
		})

		r.Route("/platform", func(r chi.Router) {
			r.Use(s.platformOpsMiddleware)

			r.Post("/agents", s.handleCreateAgent)
			r.Get("/agents", s.handleListAgents)
			r.Get("/agents/{agentID}", s.handleGetAgent)
			r.Patch("/agents/{agentID}/status", s.handleSetAgentStatus)
			r.Patch("/agents/{agentID}/trust-score", s.handleSetTrustScore)

			r.Post("/agents/{agentID}/keys", s.handleIssueKey)
			r.Get("/agents/{agentID}/keys", s.handleListKeys)
			r.Delete("/agents/{agentID}/keys/{keyID}", s.handleDeactivateKey)

			r.Post("/collaborations", s.handleCreateCollaboration)
			r.Get("/collaborations", s.handleListCollaborations)
			r.Get("/collaborations/{collabID}", s.handleGetCollaboration)
			r.Patch("/collaborations/{collabID}", s.handleUpdateCollaboration)

			r.Post("/metrics", s.handleIngestMetrics)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeValidation, "method not allowed")
	})

	return r
}
