package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"

	"github.com/checador/device/config"
	"github.com/checador/device/internal/archive"
	"github.com/checador/device/internal/db"
	"github.com/checador/device/internal/events"
	"github.com/checador/device/internal/handlers"
	"github.com/checador/device/internal/nbis"
	"github.com/checador/device/internal/services"
	"github.com/checador/device/internal/store"
	"github.com/checador/device/internal/syncer"
)

// Server wraps the HTTP server, the sync worker, and their resources.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	worker     *syncer.Worker
	feed       *events.Feed
	logger     *log.Logger
}

// New constructs a fully wired device server from config.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	if cfg.Admin.JWTSecret == "" {
		return nil, errors.New("admin jwt secret is required")
	}
	if cfg.Admin.PasswordHash == "" {
		return nil, errors.New("admin password hash is required")
	}

	tempDir := filepath.Join(cfg.App.DataDir, "temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	tools := nbis.New(cfg.Fingerprint, tempDir)
	if err := tools.Verify(); err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	templateRepo := store.NewTemplateRepository(dbConn)
	punchRepo := store.NewPunchRepository(dbConn)

	captureArchive, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	feed, err := events.Open(ctx, cfg.Events)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	enrollment := services.NewEnrollmentService(userRepo, templateRepo, tools, cfg.Fingerprint, tempDir, logger)
	if captureArchive != nil {
		enrollment = enrollment.WithArchive(captureArchive)
	}

	identify := services.NewIdentifyService(templateRepo, tools, tools, cfg.Fingerprint, tempDir, logger)

	punchService := services.NewPunchService(punchRepo, userRepo, cfg.App.DeviceID, cfg.Timeclock, logger)
	if feed != nil {
		punchService = punchService.WithPublisher(feed, cfg.Events.Channel)
	}

	userService := services.NewUserService(userRepo, templateRepo, cfg.Fingerprint.EnrollmentSamples)

	worker := syncer.New(cfg.Sync, cfg.App.DeviceID, punchRepo, userRepo, logger)

	authMiddleware := handlers.RequireAuth(cfg.Admin)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/punch", func(r chi.Router) {
		handlers.PunchRouter(r, identify, punchService)
	})
	router.Route("/api/admin", func(r chi.Router) {
		handlers.AuthRouter(r, cfg.Admin)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Route("/enroll", func(r chi.Router) {
				handlers.EnrollRouter(r, enrollment)
			})
			r.Route("/users", func(r chi.Router) {
				handlers.UserRouter(r, userService)
			})
			r.Route("/punches", func(r chi.Router) {
				handlers.PunchAdminRouter(r, identify, punchService)
			})
			r.Route("/sync", func(r chi.Router) {
				handlers.SyncRouter(r, worker)
			})
			if captureArchive != nil {
				r.Route("/captures", func(r chi.Router) {
					handlers.CaptureRouter(r, captureArchive)
				})
			}
		})
	})

	port := cfg.App.ServerPort
	if port == 0 {
		port = 8000
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		worker:     worker,
		feed:       feed,
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start launches the sync worker and runs the HTTP server.
func (s *Server) Start() error {
	s.worker.Start()
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the sync worker first so no cycle is interrupted
// mid-batch, then releases the remaining resources.
func (s *Server) Shutdown() error {
	s.worker.Stop()
	if s.feed != nil {
		_ = s.feed.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}

// newLogger builds the device logger: stderr always, plus a rotating
// file when one is configured.
func newLogger(cfg config.LogConfig) (*log.Logger, error) {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		rl, err := rotatelogs.New(
			cfg.File,
			rotatelogs.WithMaxAge(time.Duration(cfg.MaxAgeDays)*24*time.Hour),
			rotatelogs.WithRotationTime(time.Duration(cfg.RotateHours)*time.Hour),
		)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, rl)
	}
	return log.New(out, "", log.LstdFlags), nil
}
