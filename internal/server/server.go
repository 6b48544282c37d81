// Package server exposes the HTTP API: session lifecycle, the
// translate pipeline, context retrieval, and conversation record sync.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/conversational-translator/internal/ai"
	"github.com/conversational-translator/internal/cache"
	"github.com/conversational-translator/internal/config"
	"github.com/conversational-translator/internal/latency"
	"github.com/conversational-translator/internal/parser"
	"github.com/conversational-translator/internal/records"
	"github.com/conversational-translator/internal/session"
)

// Server wires the registry, model provider and stores behind the
// router.
type Server struct {
	cfg      *config.Config
	registry *session.Registry
	provider ai.Provider
	parser   *parser.Parser
	ctxCache *cache.ContextCache
	records  *records.Store
	tracker  *latency.Tracker
	logger   *zap.Logger

	httpServer *http.Server
	startedAt  time.Time
}

// Deps collects the server's collaborators. Records and CtxCache may
// be nil when Redis is not configured.
type Deps struct {
	Registry *session.Registry
	Provider ai.Provider
	Parser   *parser.Parser
	CtxCache *cache.ContextCache
	Records  *records.Store
	Tracker  *latency.Tracker
}

// New builds the server and its router.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  deps.Registry,
		provider:  deps.Provider,
		parser:    deps.Parser,
		ctxCache:  deps.CtxCache,
		records:   deps.Records,
		tracker:   deps.Tracker,
		logger:    logger.Named("server"),
		startedAt: time.Now(),
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)

	r.HandleFunc("/api/session", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/api/session/{id}/message", s.handleAddMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/session/{id}/context", s.handleGetContext).Methods(http.MethodGet)
	r.HandleFunc("/api/session/{id}", s.handleEndSession).Methods(http.MethodDelete)

	r.HandleFunc("/translate-text/", s.handleTranslateText).Methods(http.MethodPost)

	r.HandleFunc("/api/context/optimize/{id}", s.handleOptimizedContext).Methods(http.MethodGet)

	r.HandleFunc("/api/conversation/{id}/sync", s.handleSyncConversation).Methods(http.MethodPost)
	r.HandleFunc("/api/conversation/{id}", s.handleLoadConversation).Methods(http.MethodGet)
	r.HandleFunc("/api/conversation/{id}", s.handleDeleteConversation).Methods(http.MethodDelete)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      cors(r),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
