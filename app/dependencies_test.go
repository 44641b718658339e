package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aiclub/website-backend/config"
	"github.com/aiclub/website-backend/models"
	"github.com/aiclub/website-backend/repositories/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "development",
		Storage:     config.StorageConfig{Backend: config.BackendMemory},
		Auth: config.AuthConfig{
			SecretKey:          "test-secret-test-secret-test-secret",
			Algorithm:          "HS256",
			AccessTokenMinutes: 30,
			RefreshTokenDays:   7,
			CodeTTL:            3 * time.Minute,
			CookiePath:         "/",
		},
		Observability: config.ObservabilityConfig{LogLevel: "debug"},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("memory backend wires every component", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.Redis)
		assert.NotNil(t, deps.Codes)
		assert.NotNil(t, deps.Sessions)
		assert.NotNil(t, deps.Users)
		assert.NotNil(t, deps.AuditLogs)
		assert.NotNil(t, deps.Tokens)
		assert.NotNil(t, deps.AuthService)
		assert.NotNil(t, deps.UserService)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.NotNil(t, deps.AuthHandler)
		assert.NotNil(t, deps.UserHandler)
		assert.NotNil(t, deps.AuditHandler)
		assert.NotNil(t, deps.HealthHandler)
		assert.Empty(t, deps.healthChecks)

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("auth service round trip", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer func() { _ = deps.Close(ctx) }()

		first, err := deps.AuthService.RequestCode(ctx, "a@x.com")
		require.NoError(t, err)
		assert.False(t, first.Resend)

		second, err := deps.AuthService.RequestCode(ctx, "a@x.com")
		require.NoError(t, err)
		assert.True(t, second.Resend)
	})

	t.Run("redis code store", func(t *testing.T) {
		ctx := context.Background()
		mr := miniredis.RunT(t)
		cfg := testConfig(t)
		cfg.Storage.CodeStore = config.BackendRedis
		cfg.Storage.RedisURL = "redis://" + mr.Addr()

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)

		require.NotNil(t, deps.Redis)
		assert.IsType(t, &redis.CodeStore{}, deps.Codes)
		require.Len(t, deps.healthChecks, 1)
		assert.Equal(t, "redis", deps.healthChecks[0].Name)
		assert.NoError(t, deps.healthChecks[0].Check(ctx))

		_, err = deps.AuthService.RequestCode(ctx, "a@x.com")
		require.NoError(t, err)
		active, err := deps.Codes.FindActiveCode(ctx, "a@x.com", models.PurposeVerification)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", active.Email)

		assert.NoError(t, deps.Close(ctx))
		assert.Nil(t, deps.Redis)
	})

	t.Run("unreachable redis fails", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.CodeStore = config.BackendRedis
		cfg.Storage.RedisURL = "redis://127.0.0.1:1"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize storage")
	})

	t.Run("database connection failure", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Backend = config.BackendPostgres
		cfg.Database = config.DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     1,
			User:     "dev",
			Database: "aiclub",
			SSLMode:  "disable",
			Driver:   "postgres",
		}

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize storage")
	})

	t.Run("missing secret rejected by issuer", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Auth.SecretKey = ""

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
	})
}

func TestDependenciesClose(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, deps.Close(ctx))
	assert.Error(t, deps.Close(ctx), "audit service cannot be stopped twice")
}
