package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aiclub/website-backend/config"
	"github.com/aiclub/website-backend/handlers"
	"github.com/aiclub/website-backend/middleware"
	"github.com/aiclub/website-backend/repositories"
	"github.com/aiclub/website-backend/repositories/memory"
	"github.com/aiclub/website-backend/repositories/postgres"
	"github.com/aiclub/website-backend/repositories/redis"
	"github.com/aiclub/website-backend/services/audit"
	"github.com/aiclub/website-backend/services/auth"
	"github.com/aiclub/website-backend/services/token"
	"github.com/aiclub/website-backend/services/users"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const auditStopTimeout = 5 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB // nil unless the postgres backend is selected
	Redis  *goredis.Client

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Codes     repositories.CodeRepository
	Sessions  repositories.SessionRepository
	Users     repositories.UserRepository
	AuditLogs repositories.AuditRepository

	// Services
	Tokens       *token.Issuer
	AuditService *audit.AuditService
	AuthService  *auth.Service
	UserService  *users.Service

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	AuthHandler    *handlers.AuthHandler
	UserHandler    *handlers.UserHandler
	AuditHandler   *handlers.AuditHandler
	HealthHandler  *handlers.HealthHandler

	healthChecks []handlers.HealthCheck
	sender       auth.CodeSender
}

// Option customizes NewDependencies
type Option func(*Dependencies)

// WithCodeSender replaces the environment-selected code delivery
func WithCodeSender(sender auth.CodeSender) Option {
	return func(d *Dependencies) { d.sender = sender }
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(deps)
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("code_store", cfg.CodeStoreBackend()))
	return deps, nil
}

// initStorage selects the user, session and audit backend, then the code store
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	var repos *repositories.Repositories

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		repos = memory.NewStore().Repositories()
		d.Logger.Warn("using in-memory storage, state is lost on restart")
	case config.BackendPostgres:
		factory, err := postgres.NewRepositoryFactory(ctx, cfg.Database, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		d.RepoFactory = factory
		d.DB = factory.GetDB()
		d.healthChecks = append(d.healthChecks, handlers.DatabaseCheck(d.DB.DB))
		repos = factory.NewRepositories()
	default:
		return fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}

	d.Codes = repos.Codes
	d.Sessions = repos.Sessions
	d.Users = repos.Users
	d.AuditLogs = repos.AuditLogs

	if cfg.CodeStoreBackend() == config.BackendRedis {
		client, err := redis.NewClient(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		d.Redis = client
		d.Codes = redis.NewCodeStore(client, d.Logger)
		d.healthChecks = append(d.healthChecks, handlers.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	d.Logger.Info("repositories initialized")
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	tokenCfg, authCfg := cfg.AuthSettings()

	issuer, err := token.NewIssuer(tokenCfg)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	d.Tokens = issuer

	d.AuditService = audit.NewAuditService(d.AuditLogs, d.Logger, audit.DefaultConfig())
	if err := d.AuditService.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}

	sender := d.sender
	switch {
	case sender != nil:
	case cfg.IsDevelopment():
		sender = auth.LogSender{Logger: d.Logger}
	default:
		sender = auth.NopSender{}
		d.Logger.Warn("no code delivery configured, codes are discarded")
	}

	d.AuthService = auth.NewService(auth.Deps{
		Codes:    d.Codes,
		Sessions: d.Sessions,
		Users:    d.Users,
		Tokens:   issuer,
		Sender:   sender,
		Audit:    d.AuditService,
		Logger:   d.Logger,
	}, authCfg)

	d.UserService = users.NewService(d.Users, d.AuditService, d.Logger)
	return nil
}

func (d *Dependencies) initHTTP(cfg *config.Config) {
	authCfg := d.AuthService.Config()

	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Tokens, d.Users, authCfg.AccessCookie, d.Logger)
	d.AuthHandler = handlers.NewAuthHandler(d.AuthService, authCfg.SessionCookie, d.Logger)
	d.UserHandler = handlers.NewUserHandler(d.UserService, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.AuditService, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.Logger, d.healthChecks...)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.AuditService != nil {
		timeout := auditStopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.AuditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	errs = append(errs, d.closeStorage()...)

	// Sync logger
	_ = d.Logger.Sync()

	return errors.Join(errs...)
}

func (d *Dependencies) closeStorage() []error {
	var errs []error
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}
	return errs
}
