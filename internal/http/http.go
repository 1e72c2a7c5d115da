package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/Trendyol/go-pq-replica/config"
	"github.com/Trendyol/go-pq-replica/internal/metric"
	"github.com/Trendyol/go-pq-replica/logger"
	"github.com/Trendyol/go-pq-replica/node"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NodeInfoProvider serves the current catalog snapshot of the target node.
type NodeInfoProvider interface {
	Node(ctx context.Context) (*node.Node, error)
}

type Server interface {
	Listen()
	Shutdown()
}

type server struct {
	nodeInfoProvider NodeInfoProvider
	server           http.Server
	cfg              config.Config
	closed           bool
}

func NewServer(cfg config.Config, registry metric.Registry, nodeInfoProvider NodeInfoProvider) Server {
	s := &server{
		cfg:              cfg,
		nodeInfoProvider: nodeInfoProvider,
	}

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry.Prometheus(), promhttp.HandlerOpts{EnableOpenMetrics: true}))

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /node", s.handleNodeInfo)

	if cfg.DebugMode {
		mux.Handle("GET /pprof", pprof.Handler("go-pq-replica"))
	}

	s.server = http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Metric.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

func (s *server) Listen() {
	logger.Info(fmt.Sprintf("server starting on port :%d", s.cfg.Metric.Port))

	err := s.server.ListenAndServe()
	if err != nil {
		if errors.Is(err, http.ErrServerClosed) && s.closed {
			logger.Info("server stopped")
			return
		}
		logger.Error("server cannot start", "port", s.cfg.Metric.Port, "error", err)
	}
}

func (s *server) Shutdown() {
	if s == nil {
		return
	}
	s.closed = true
	if err := s.server.Shutdown(context.Background()); err != nil {
		logger.Error("server shutdown", "error", err)
	}
}

func (s *server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	if s.nodeInfoProvider == nil {
		http.Error(w, "node info not available", http.StatusServiceUnavailable)
		return
	}

	n, err := s.nodeInfoProvider.Node(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"id":     n.ID,
		"name":   n.Name,
		"role":   n.Role,
		"status": n.Status.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode node info response", "error", err)
	}
}
