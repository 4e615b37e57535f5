package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/FairForge/samplehub/internal/config"
	"github.com/FairForge/samplehub/internal/metrics"
	"github.com/FairForge/samplehub/internal/samples"
)

type Server struct {
	config     config.ServerConfig
	service    *samples.Service
	metrics    *metrics.Metrics
	logger     *zap.Logger
	router     *mux.Router
	limiter    *RateLimiter
	proxies    []netip.Prefix
	httpServer *http.Server
	startTime  time.Time
}

func NewServer(cfg config.ServerConfig, svc *samples.Service, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		config:    cfg,
		service:   svc,
		metrics:   m,
		logger:    logger,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	proxies, err := cfg.ProxyPrefixes()
	if err != nil {
		logger.Warn("ignoring trusted proxies", zap.Error(err))
	}
	s.proxies = proxies

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	s.router.HandleFunc("/datasets/", s.handleListDatasets).Methods("GET")
	s.router.HandleFunc("/datasets/{dataset}", s.handleCreateDataset).Methods("PUT")
	s.router.HandleFunc("/datasets/{dataset}", s.handleDeleteDataset).Methods("DELETE")

	samplesRouter := s.router.PathPrefix("/datasets/{dataset}/samples").Subrouter()
	samplesRouter.HandleFunc("/", s.handleListSamples).Methods("GET")
	samplesRouter.HandleFunc("/count", s.handleCountSamples).Methods("GET")
	samplesRouter.HandleFunc("/images", s.handleGalleryImages).Methods("GET")
	samplesRouter.HandleFunc("/{sample}", s.handleRegisterSample).Methods("PUT")
	samplesRouter.HandleFunc("/{sample}", s.handleDeleteSample).Methods("DELETE")
	samplesRouter.HandleFunc("/{sample}/images", s.handleSampleImages).Methods("GET")

	s.router.HandleFunc("/data/upload", s.handleUpload).Methods("POST")
	s.router.HandleFunc("/data/download", s.handleDownload).Methods("GET")

	s.router.Use(s.loggingMiddleware)
	if s.limiter != nil {
		s.router.Use(mux.MiddlewareFunc(RateLimitMiddleware(s.limiter, s.metrics, s.proxies)))
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.CheckStorage(ctx); err != nil {
		s.logger.Warn("storage health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
			"uptime": time.Since(s.startTime).Seconds(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.Int("port", s.config.Port))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
