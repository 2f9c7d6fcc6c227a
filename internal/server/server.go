// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects repositories, services,
// handlers and middleware, and decides which URL maps to which handler and
// which middleware guards it.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → sqldb.DB ──────────────┬─► SignupService ─► AuthHandler
//	  → mailer + identity ─────┘   GuideService  ─► GuideHandler
//	                               UserService   ─► UserHandler
//	  → redis (optional) ─► rate limiters + sweep lock
//
// This is the "composition root": everything is built in New and nowhere else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sakif/codeguides/internal/auth"
	"github.com/sakif/codeguides/internal/config"
	"github.com/sakif/codeguides/internal/handler"
	"github.com/sakif/codeguides/internal/identity"
	"github.com/sakif/codeguides/internal/identity/gotrue"
	"github.com/sakif/codeguides/internal/identity/local"
	"github.com/sakif/codeguides/internal/jobs"
	"github.com/sakif/codeguides/internal/mailer"
	"github.com/sakif/codeguides/internal/middleware"
	"github.com/sakif/codeguides/internal/ratelimit"
	"github.com/sakif/codeguides/internal/repository/sqldb"
	"github.com/sakif/codeguides/internal/respond"
	"github.com/sakif/codeguides/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database pool and the optional Redis client. Close
// releases both; Start calls it on the way out.
type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	router   *chi.Mux
	db       *sqldb.DB
	redis    *goredis.Client
	registry *prometheus.Registry
	sweeper  *jobs.Sweeper

	mail      mailer.Mailer
	passwords *auth.PasswordService
}

// Option customises New. Tests use these to capture outgoing mail and to
// keep bcrypt cheap.
type Option func(*Server)

func WithMailer(m mailer.Mailer) Option {
	return func(s *Server) { s.mail = m }
}

func WithPasswordService(p *auth.PasswordService) Option {
	return func(s *Server) { s.passwords = p }
}

// New opens every backing service and wires the router.
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (_ *Server, err error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   chi.NewRouter(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// === DATABASE ===
	s.db, err = sqldb.New(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// === REDIS (optional) ===
	if cfg.Redis.Addr != "" {
		s.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err = s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	// === MAIL + IDENTITY ===
	if s.mail == nil {
		if s.mail, err = newMailer(cfg.Mail, logger); err != nil {
			return nil, err
		}
	}
	if s.passwords == nil {
		s.passwords = auth.NewPasswordService()
	}
	idp, purgeLinks, err := s.newIdentityProvider()
	if err != nil {
		return nil, err
	}

	// === SERVICES ===
	signups := service.NewSignupService(s.db.Users(), s.db.TempSignups(), idp, cfg.Signup.TTL, logger)
	guides := service.NewGuideService(s.db.Guides(), s.db.Steps(), logger)
	users := service.NewUserService(s.db.Users(), logger)

	// === SWEEPER ===
	tasks := []jobs.Task{{Name: "temp_signups", Run: signups.SweepExpired}}
	if purgeLinks != nil {
		tasks = append(tasks, jobs.Task{Name: "auth_links", Run: purgeLinks})
	}
	sweepOpts := jobs.Options{
		Interval: cfg.Signup.SweepInterval,
		Timeout:  cfg.Signup.SweepTimeout,
		Metrics:  jobs.NewMetrics(s.registry),
		Logger:   logger,
	}
	if s.redis != nil {
		sweepOpts.Lock = jobs.NewRedisLock(s.redis, logger)
	}
	s.sweeper = jobs.NewSweeper(sweepOpts, tasks...)

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.setupRoutes(idp, signups, guides, users)
	return s, nil
}

func newMailer(cfg config.MailConfig, logger *slog.Logger) (mailer.Mailer, error) {
	if cfg.SMTPAddr == "" {
		logger.Warn("SMTP_ADDR not set, confirmation emails will only be logged")
		return mailer.NewLogMailer(logger), nil
	}
	m, err := mailer.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPassword, cfg.From)
	if err != nil {
		return nil, fmt.Errorf("configuring smtp: %w", err)
	}
	return m, nil
}

// newIdentityProvider returns the configured provider. For the built-in
// provider it also returns the link purge task for the sweeper.
func (s *Server) newIdentityProvider() (identity.Provider, func(context.Context) (int64, error), error) {
	cfg := s.cfg
	confirmURL := cfg.App.PublicURL + "/api/auth/confirm"

	switch cfg.Identity.Provider {
	case "gotrue":
		c, err := gotrue.New(cfg.Identity.GoTrueURL, cfg.Identity.GoTrueAnonKey, gotrue.WithRedirectTo(confirmURL))
		if err != nil {
			return nil, nil, err
		}
		s.logger.Info("using hosted identity provider", slog.String("url", cfg.Identity.GoTrueURL))
		return c, nil, nil

	default:
		tokens, err := auth.NewTokenService(cfg.Identity.JWTSecret, cfg.Identity.SessionTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("creating token service: %w", err)
		}
		p, err := local.New(local.Options{
			Repo:      s.db.Auth(),
			Tokens:    tokens,
			Passwords: s.passwords,
			Mailer:    s.mail,
			PublicURL: cfg.App.PublicURL,
			LinkTTL:   cfg.Identity.LinkTTL,
			Logger:    s.logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p.PurgeExpiredLinks, nil
	}
}

// limiter picks the shared Redis backend when one is configured.
func (s *Server) limiter(name string, r config.Rate) ratelimit.Limiter {
	if s.redis != nil {
		return ratelimit.NewRedis(s.redis, name, r.Limit, r.Window)
	}
	return ratelimit.NewMemory(r.Limit, r.Window)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /health                                 → liveness + DB ping
//	GET    /metrics                                → Prometheus scrape
//	POST   /api/auth/signup                        → stage signup, email link    [auth limit]
//	GET    /api/auth/confirm                       → redirect back to frontend   [auth limit]
//	POST   /api/auth/login                         → session token               [auth limit]
//	POST   /api/auth/logout                        → clear cookie
//	GET    /api/auth/user/me                       → own profile                 [auth]
//	GET    /api/code-guides/guides                 → list (search/filter/order)
//	GET    /api/code-guides/guides/{id}            → one guide with steps
//	GET    /api/code-guides/guides/author/{id}     → one author's guides
//	GET    /api/code-guides/guides/{guideId}/steps → ordered steps
//	POST   /api/code-guides/guides                 → create                      [auth, write limit]
//	PUT    /api/code-guides/guides/{id}            → update                      [auth, write limit]
//	DELETE /api/code-guides/guides/{id}            → delete                      [auth, write limit]
//	POST   /api/code-guides/steps                  → add step                    [auth, write limit]
//	PUT    /api/code-guides/steps/{id}             → update step                 [auth, write limit]
//	DELETE /api/code-guides/steps/{id}             → delete step                 [auth, write limit]
//	GET    /api/users                              → list users
//	GET    /api/users/{id}                         → one user
//
// MIDDLEWARE ORDER MATTERS:
// RequestID must run before Logger so the log line carries the id, and
// RealIP before the rate limiters so they key on the client, not the proxy.
// Metrics wraps the router so it sees the matched route pattern.
func (s *Server) setupRoutes(idp identity.Provider, signups *service.SignupService, guides *service.GuideService, users *service.UserService) {
	dev := s.cfg.IsDevelopment()
	logger := s.logger

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.NewMetrics(s.registry).Handler)
	s.router.Use(middleware.SecurityHeaders(!dev))
	s.router.Use(middleware.CORS(s.cfg.App.CORSOrigin))
	s.router.Use(chimiddleware.RequestSize(middleware.MaxBodyBytes))

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.Fail(w, http.StatusNotFound, "Route not found", "NOT_FOUND")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond.Fail(w, http.StatusMethodNotAllowed, "Method not allowed", "METHOD_NOT_ALLOWED")
	})

	healthHandler := handler.NewHealthHandler(s.cfg.App.Env, s.db, logger)
	authHandler := handler.NewAuthHandler(signups, s.cfg.App.FrontendURL, dev, logger)
	guideHandler := handler.NewGuideHandler(guides, dev, logger)
	userHandler := handler.NewUserHandler(users, dev, logger)

	requireAuth := auth.RequireAuth(idp)
	authLimit := ratelimit.Middleware(s.limiter("auth", s.cfg.Limits.Auth), ratelimit.ByIP, logger)
	writeLimit := ratelimit.Middleware(s.limiter("write", s.cfg.Limits.Write), ratelimit.ByAccount, logger)

	s.router.Get("/health", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authLimit)
				r.Post("/signup", authHandler.HandleSignup)
				r.Get("/confirm", authHandler.HandleConfirm)
				r.Post("/login", authHandler.HandleLogin)
			})
			r.Post("/logout", authHandler.HandleLogout)
			r.With(requireAuth).Get("/user/me", authHandler.HandleMe)
		})

		r.Route("/code-guides", func(r chi.Router) {
			r.Get("/guides", guideHandler.HandleList)
			r.Get("/guides/{id}", guideHandler.HandleGetByID)
			r.Get("/guides/author/{id}", guideHandler.HandleListByAuthor)
			r.Get("/guides/{guideId}/steps", guideHandler.HandleListSteps)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth, writeLimit)
				r.Post("/guides", guideHandler.HandleCreate)
				r.Put("/guides/{id}", guideHandler.HandleUpdate)
				r.Delete("/guides/{id}", guideHandler.HandleDelete)
				r.Post("/steps", guideHandler.HandleCreateStep)
				r.Put("/steps/{id}", guideHandler.HandleUpdateStep)
				r.Delete("/steps/{id}", guideHandler.HandleDeleteStep)
			})
		})

		r.Get("/users", userHandler.HandleList)
		r.Get("/users/{id}", userHandler.HandleGetByID)
	})
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sweep runs every cleanup task once.
func (s *Server) Sweep(ctx context.Context) error {
	return s.sweeper.RunOnce(ctx)
}

// Close releases the database and Redis connections.
func (s *Server) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}

// Start serves HTTP and runs the sweeper until SIGINT/SIGTERM.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections, give in-flight requests 30s
//  2. Stop the sweeper (an in-flight sweep is cancelled and awaited)
//  3. Close the database and Redis
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         s.cfg.App.HTTPAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", s.cfg.App.HTTPAddr),
			slog.String("env", s.cfg.App.Env),
			slog.String("database", s.cfg.Database.Driver),
			slog.String("identity", s.cfg.Identity.Provider),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	s.sweeper.Start()
	defer s.sweeper.Stop()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
