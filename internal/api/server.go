package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/backtest"
	"github.com/atlas-quant/optionengine/internal/store"
	"github.com/atlas-quant/optionengine/pkg/types"
)

// Server is the HTTP/WebSocket API server over the backtest engine.
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub

	engine    *backtest.Engine
	dataStore *store.Store

	mu      sync.RWMutex
	results map[string]*backtest.BacktestResult
	running map[string]bool // run ids still executing asynchronously
}

// NewServer creates the API server.
func NewServer(logger *zap.Logger, config *types.ServerConfig, engine *backtest.Engine, dataStore *store.Store) *Server {
	s := &Server{
		logger:    logger.Named("api"),
		config:    config,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		engine:    engine,
		dataStore: dataStore,
		results:   make(map[string]*backtest.BacktestResult),
		running:   make(map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // progress feed only, no credentials
			},
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/api/backtest/run", s.handleRun).Methods(http.MethodPost)
	s.router.HandleFunc("/api/backtest/batch", s.handleBatch).Methods(http.MethodPost)
	s.router.HandleFunc("/api/backtest/run-async", s.handleRunAsync).Methods(http.MethodPost)
	s.router.HandleFunc("/api/backtest/result/{id}", s.handleGetResult).Methods(http.MethodGet)
	s.router.HandleFunc("/api/backtest/results", s.handleListResults).Methods(http.MethodGet)
	s.router.HandleFunc("/api/backtest/strategies", s.handleStrategies).Methods(http.MethodGet)
	s.router.HandleFunc("/api/backtest/cache", s.handleClearCache).Methods(http.MethodDelete)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server; blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.hub.Run()

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	result := s.engine.Run(r.Context(), &req)
	s.storeResult(result)

	status := http.StatusOK
	if result.Status == backtest.StatusFailed {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []backtest.Request
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	results := make([]*backtest.BacktestResult, 0, len(reqs))
	for i := range reqs {
		result := s.engine.Run(r.Context(), &reqs[i])
		s.storeResult(result)
		results = append(results, result)
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleRunAsync(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.running[req.ID] = true
	s.mu.Unlock()

	go func() {
		s.hub.PublishProgress(req.ID, map[string]string{
			"id":     req.ID,
			"status": string(backtest.StatusRunning),
		})
		result := s.engine.Run(context.Background(), &req)
		s.storeResult(result)

		s.mu.Lock()
		delete(s.running, req.ID)
		s.mu.Unlock()

		s.hub.PublishComplete(req.ID, result)
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     req.ID,
		"status": string(backtest.StatusRunning),
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	result, ok := s.results[id]
	running := s.running[id]
	s.mu.RUnlock()

	if running {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"id":     id,
			"status": string(backtest.StatusRunning),
		})
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no result for id %q", id))
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	results := make([]*backtest.BacktestResult, 0, len(s.results))
	for _, result := range s.results {
		results = append(results, result)
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{
		"strategies": s.engine.StrategyNames(),
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cleared := len(s.results)
	s.results = make(map[string]*backtest.BacktestResult)
	s.mu.Unlock()

	s.dataStore.ClearCache()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"cleared_results": cleared,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:            uuid.NewString(),
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 64),
		subscriptions: make(map[string]bool),
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (s *Server) storeResult(result *backtest.BacktestResult) {
	s.mu.Lock()
	s.results[result.ID] = result
	s.mu.Unlock()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
