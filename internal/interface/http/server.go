// Package http implements the REST API of the progression engine.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lifeloop/progression/internal/application/command"
	"github.com/lifeloop/progression/internal/application/progression"
	"github.com/lifeloop/progression/internal/application/query"
	"github.com/lifeloop/progression/internal/domain/leaderboard"
	"github.com/lifeloop/progression/internal/domain/task"
	"github.com/lifeloop/progression/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	// ReadTimeout - maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout - maximum duration for writing the response.
	WriteTimeout time.Duration

	// IdleTimeout - maximum duration for idle connections.
	IdleTimeout time.Duration

	// RequestTimeout - deadline of the request context.
	RequestTimeout time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of a request body.
	MaxBodyBytes int64

	// AllowedOrigins - allowed origins for CORS.
	AllowedOrigins []string

	// AtRiskWindow - used for tasks returned by create.
	AtRiskWindow time.Duration

	// Version is reported by /healthz.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
		AtRiskWindow:   query.DefaultAtRiskWindow,
		Version:        "v1",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Progression is the application surface served over HTTP.
type Progression interface {
	CreateUser(ctx context.Context, cmd command.CreateUserCommand) (*user.User, error)
	CreateTask(ctx context.Context, cmd command.CreateTaskCommand) (*task.Task, error)
	ListTasks(ctx context.Context, q query.GetTasksQuery) ([]query.TaskDTO, error)
	CreateScope(ctx context.Context, cmd command.CreateScopeCommand) (*leaderboard.Scope, error)

	CompleteTask(ctx context.Context, cmd command.CompleteTaskCommand) (progression.Snapshot, error)
	ShareProgress(ctx context.Context, cmd command.ShareProgressCommand) (progression.Snapshot, error)
	JoinScope(ctx context.Context, cmd command.JoinScopeCommand) (progression.Snapshot, error)
	RecordChallengeWin(ctx context.Context, cmd command.RecordChallengeWinCommand) (progression.Snapshot, error)

	GetSnapshot(ctx context.Context, userID string) (progression.Snapshot, error)
	GetAchievements(ctx context.Context, userID string) (*query.GetAchievementsResult, error)
	GetLeaderboard(ctx context.Context, q query.GetLeaderboardQuery) (*leaderboard.Board, error)
	GetSharePayload(ctx context.Context, q query.GetSharePayloadQuery) (*query.SharePayload, error)

	RefreshLeaderboard(ctx context.Context, cmd command.RefreshLeaderboardCommand) (*leaderboard.Board, error)
	Replay(ctx context.Context, cmd command.ReplayUserCommand) (command.ReplayReport, error)

	Now() time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	svc        Progression
	health     HealthChecker
	validate   *validator.Validate
	httpServer *http.Server
	router     chi.Router
	logger     *zap.Logger

	// Server state
	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server. health may be nil.
func NewServer(config Config, svc Progression, health HealthChecker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if health == nil {
		health = NewCompositeHealthChecker(config.Version)
	}

	s := &Server{
		config:   config,
		svc:      svc,
		health:   health,
		validate: newValidator(),
		logger:   log.With(zap.String("component", "http")),
	}

	s.router = s.routes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

// routes builds the router with its middleware chain.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}))

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	r.Route("/api/v1", func(r chi.Router) {
		if s.config.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.config.RequestTimeout))
		}

		r.Post("/users", s.handleCreateUser)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/snapshot", s.handleGetSnapshot)
			r.Get("/achievements", s.handleGetAchievements)
			r.Get("/share", s.handleGetSharePayload)
			r.Post("/share", s.handleShareProgress)
			r.Post("/replay", s.handleReplay)
			r.Get("/tasks", s.handleListTasks)
			r.Post("/tasks", s.handleCreateTask)
			r.Post("/tasks/{taskID}/complete", s.handleCompleteTask)
		})

		r.Post("/scopes", s.handleCreateScope)
		r.Route("/scopes/{scopeID}", func(r chi.Router) {
			r.Post("/members", s.handleJoinScope)
			r.Post("/winners", s.handleRecordWin)
			r.Get("/leaderboard", s.handleGetLeaderboard)
			r.Post("/leaderboard/refresh", s.handleRefreshLeaderboard)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	if err := s.markRunning(); err != nil {
		return err
	}
	return s.serve()
}

// StartAsync starts the server in a goroutine. The channel receives the
// serve error, if any, and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	if err := s.markRunning(); err != nil {
		errCh <- err
		close(errCh)
		return errCh
	}
	go func() {
		if err := s.serve(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

func (s *Server) markRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	return nil
}

func (s *Server) serve() error {
	s.logger.Info("starting HTTP server", zap.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
