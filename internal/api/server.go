package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/config"
	"github.com/castleridge-io/clawdeck-sub002/internal/engine"
	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// maxBodyBytes bounds request bodies; agent outputs can be long.
const maxBodyBytes = 4 << 20

// Engine is the set of operations the server exposes.
type Engine interface {
	Claim(ctx context.Context, agentID string) (*engine.ClaimResult, error)
	Complete(ctx context.Context, stepID, output string) (*engine.CompleteResult, error)
	Fail(ctx context.Context, stepID, reason string) (*engine.FailResult, error)
	Approve(ctx context.Context, stepID string) error
	Reject(ctx context.Context, stepID, reason string) error

	CreateRun(ctx context.Context, templateID, task string, vars map[string]string) (*types.Run, error)
	CancelRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*types.Run, error)
	RunDetail(ctx context.Context, runID string) (*engine.RunDetail, error)

	CreateStories(ctx context.Context, runID string, inputs []types.StoryInput) ([]*types.Story, error)
	ListStories(ctx context.Context, runID string) ([]*types.Story, error)

	ReapAbandoned(ctx context.Context, maxAge time.Duration) (int, error)
	Templates() engine.TemplateSource
}

// Server serves the engine over HTTP.
type Server struct {
	engine Engine
	cfg    config.ServerConfig
	logger *slog.Logger
	clock  func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	startTime time.Time
	draining  bool
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock lets tests control the uptime clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer creates a server for eng. Nothing listens until Start.
func NewServer(eng Engine, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		engine: eng,
		cfg:    cfg,
		logger: slog.Default(),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With("component", "api-server")
	return s
}

// Handler returns the routed handler, usable without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/claims", s.handleClaim)
	mux.HandleFunc("POST /api/v1/steps/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /api/v1/steps/{id}/fail", s.handleFail)
	mux.HandleFunc("POST /api/v1/steps/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/v1/steps/{id}/reject", s.handleReject)

	mux.HandleFunc("POST /api/v1/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRunDetail)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/stories", s.handleListStories)
	mux.HandleFunc("POST /api/v1/runs/{id}/stories", s.handleCreateStories)

	mux.HandleFunc("POST /api/v1/reap", s.handleReap)
	mux.HandleFunc("GET /api/v1/workflows", s.handleWorkflows)
	return s.logRequests(mux)
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("api: server already started")
	}
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.cfg.Addr, err)
	}
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.listener = listener
	s.server = server
	s.startTime = s.clock()
	s.draining = false

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "error", err)
		}
	}()
	s.logger.Info("API server started", "addr", listener.Addr().String())
	return nil
}

// Serve starts the server and blocks until ctx is cancelled, then drains
// in-flight requests within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	s.draining = true
	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.server = nil
	s.listener = nil
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the http URL of the running server.
func (s *Server) BaseURL() string {
	if addr := s.Addr(); addr != "" {
		return "http://" + addr
	}
	return "http://" + s.cfg.Addr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status, uptime := "ready", int64(0)
	if s.draining {
		status = "draining"
	}
	if !s.startTime.IsZero() {
		uptime = int64(s.clock().Sub(s.startTime).Seconds())
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, HealthResponse{Status: status, Version: ProtocolVersion, UptimeSeconds: uptime})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Claim(r.Context(), req.AgentID)
	s.respond(w, http.StatusOK, res, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Complete(r.Context(), r.PathValue("id"), req.Output)
	s.respond(w, http.StatusOK, res, err)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Fail(r.Context(), r.PathValue("id"), req.Error)
	s.respond(w, http.StatusOK, res, err)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusNoContent, nil, s.engine.Approve(r.Context(), r.PathValue("id")))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, http.StatusNoContent, nil, s.engine.Reject(r.Context(), r.PathValue("id"), req.Reason))
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if !s.decode(w, r, &req) {
		return
	}
	run, err := s.engine.CreateRun(r.Context(), req.TemplateID, req.Task, req.Variables)
	s.respond(w, http.StatusCreated, run, err)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status:     types.RunStatus(q.Get("status")),
		TemplateID: q.Get("template"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		s.writeError(w, deckerrors.InvalidArgument("status", fmt.Sprintf("unknown run status %q", filter.Status)))
		return
	}
	runs, err := s.engine.ListRuns(r.Context(), filter)
	if runs == nil {
		runs = []*types.Run{}
	}
	s.respond(w, http.StatusOK, runs, err)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.engine.RunDetail(r.Context(), r.PathValue("id"))
	s.respond(w, http.StatusOK, detail, err)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusNoContent, nil, s.engine.CancelRun(r.Context(), r.PathValue("id")))
}

func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	stories, err := s.engine.ListStories(r.Context(), r.PathValue("id"))
	if stories == nil {
		stories = []*types.Story{}
	}
	s.respond(w, http.StatusOK, stories, err)
}

func (s *Server) handleCreateStories(w http.ResponseWriter, r *http.Request) {
	var req CreateStoriesRequest
	if !s.decode(w, r, &req) {
		return
	}
	stories, err := s.engine.CreateStories(r.Context(), r.PathValue("id"), req.Stories)
	s.respond(w, http.StatusCreated, stories, err)
}

func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	var req ReapRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.MaxAgeMinutes < 0 {
		s.writeError(w, deckerrors.InvalidArgument("max_age_minutes", "must not be negative"))
		return
	}
	n, err := s.engine.ReapAbandoned(r.Context(), time.Duration(req.MaxAgeMinutes)*time.Minute)
	s.respond(w, http.StatusOK, ReapResponse{Reclaimed: n}, err)
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	list := s.engine.Templates().List()
	if list == nil {
		list = []*types.WorkflowTemplate{}
	}
	writeJSON(w, http.StatusOK, list)
}

// decode reads an optional JSON body into v. An empty body leaves v zero.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: deckerrors.InvalidArgument("body", "payload exceeds limit")})
			return false
		}
		s.writeError(w, deckerrors.InvalidArgument("body", "unable to read body"))
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.writeError(w, deckerrors.InvalidArgument("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// respond writes payload with status, or the error if err is set.
func (s *Server) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	var derr *deckerrors.DeckError
	if !errors.As(err, &derr) {
		derr = deckerrors.Internal(err)
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: derr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
