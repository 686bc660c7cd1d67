package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/token-vault/internal/adapter/cache"
	"github.com/smallbiznis/token-vault/internal/adapter/provider"
	"github.com/smallbiznis/token-vault/internal/bootstrap"
	"github.com/smallbiznis/token-vault/internal/cipher"
	"github.com/smallbiznis/token-vault/internal/config"
	"github.com/smallbiznis/token-vault/internal/consent"
	httptransport "github.com/smallbiznis/token-vault/internal/http"
	"github.com/smallbiznis/token-vault/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/token-vault/internal/http/middleware"
	apimiddleware "github.com/smallbiznis/token-vault/internal/middleware"
	"github.com/smallbiznis/token-vault/internal/repository"
	"github.com/smallbiznis/token-vault/internal/server"
	"github.com/smallbiznis/token-vault/internal/service"
	"github.com/smallbiznis/token-vault/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newVaultRepository,
			newRedisClient,
			newReplayGuard,
			newSealer,
			newStateCodec,
			newProviderClient,
			newRateLimiter,
			service.NewVaultService,
			newIntrospectionGateway,
			newHealth,
			handler.NewVaultHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, verifyVault, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	tp, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return tp.Shutdown(stopCtx)
		},
	})

	return tp, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newVaultRepository(pool *pgxpool.Pool) repository.VaultRepository {
	return repository.NewPostgresVaultRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newReplayGuard(client redis.UniversalClient, cfg config.Config) repository.ReplayGuard {
	return cache.NewRedisReplayGuard(client, cfg.StateTokenTTL)
}

func newSealer(cfg config.Config) (*cipher.Sealer, error) {
	return cipher.NewSealer(cfg.VaultKey)
}

func newStateCodec(cfg config.Config, node *snowflake.Node) (*consent.Codec, error) {
	return consent.NewCodec(cfg.StateSecret, node, cfg.StateTokenTTL)
}

func newProviderClient(cfg config.Config) provider.Client {
	return provider.NewHTTPClient(
		provider.RealmEndpoints(cfg.RealmURL()),
		cfg.ProviderClientID,
		cfg.ProviderClientSecret,
		nil,
	)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newIntrospectionGateway(providerClient provider.Client, logger *zap.Logger) *service.IntrospectionGateway {
	return service.NewIntrospectionGateway(providerClient, logger)
}

func newHealth(pool *pgxpool.Pool, client redis.UniversalClient) *service.Health {
	return service.NewHealth(pool, client)
}

func newAuthMiddleware(gateway *service.IntrospectionGateway, logger *zap.Logger) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Gateway: gateway, Logger: logger}
}

func verifyVault(pool *pgxpool.Pool, sealer *cipher.Sealer, logger *zap.Logger) error {
	return bootstrap.VerifyVault(pool, sealer, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
