// Package http exposes the achievement engine over a small JSON API.
//
// Routes:
//
//	POST /v1/users/:userID/evaluations?course_id=&enrollment_id=  evaluate and grant
//	GET  /v1/users/:userID/achievements            earned list and points summary
//	GET  /v1/users/:userID/course-progress         per-enrollment progress
//	GET  /v1/leaderboards/:period?limit=           ranked board
//	GET  /healthz                                  dependency checks
package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/alem-hub/achievement-engine/internal/application/command"
	"github.com/alem-hub/achievement-engine/internal/application/query"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RequestTimeout bounds the context handed to application handlers.
	RequestTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Evaluator runs EvaluateAndGrant.
type Evaluator interface {
	Handle(ctx context.Context, cmd command.EvaluateAndGrantCommand) (*command.EvaluateResult, error)
}

// AchievementsReader returns a user's earned achievements.
type AchievementsReader interface {
	Handle(ctx context.Context, userID string) (*query.UserAchievementsResult, error)
}

// CourseProgressReader returns a user's course progress views.
type CourseProgressReader interface {
	Handle(ctx context.Context, userID string) ([]query.CourseProgressView, error)
}

// LeaderboardReader returns ranked boards.
type LeaderboardReader interface {
	Handle(ctx context.Context, q query.GetLeaderboardQuery) (*query.GetLeaderboardResult, error)
}

// Dependencies contains everything the handlers call.
type Dependencies struct {
	Evaluate       Evaluator
	Achievements   AchievementsReader
	CourseProgress CourseProgressReader
	Leaderboard    LeaderboardReader

	// Health may be nil; /healthz then reports healthy without checks.
	Health *HealthChecker

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server wraps a fiber application.
type Server struct {
	config   Config
	deps     Dependencies
	app      *fiber.App
	validate *validator.Validate
	logger   *slog.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(config Config, deps Dependencies) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker("")
	}

	s := &Server{
		config:   config,
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.With("component", "http"),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "achievement-engine",
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(s.loggingMiddleware)
	s.app.Use(s.timeoutMiddleware)

	s.setupRoutes()
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.handleHealth)

	v1 := s.app.Group("/v1")

	users := v1.Group("/users/:userID")
	users.Post("/evaluations", s.handleEvaluate)
	users.Get("/achievements", s.handleUserAchievements)
	users.Get("/course-progress", s.handleCourseProgress)

	v1.Get("/leaderboards/:period", s.handleLeaderboard)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// loggingMiddleware logs every request once it has been answered.
func (s *Server) loggingMiddleware(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	// The ErrorHandler writes the response only after this middleware
	// returns, so the status of a failed request comes from the error.
	status := c.Response().StatusCode()
	if err != nil {
		status = classify(err).Status
	}

	level := slog.LevelInfo
	if status >= fiber.StatusInternalServerError {
		level = slog.LevelWarn
	}
	s.logger.Log(c.UserContext(), level, "http request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", c.Locals("requestid"),
	)
	return err
}

// timeoutMiddleware bounds the handler context.
func (s *Server) timeoutMiddleware(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.config.RequestTimeout)
	defer cancel()
	c.SetUserContext(ctx)
	return c.Next()
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Addr)
	if err := s.app.Listen(s.config.Addr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}
