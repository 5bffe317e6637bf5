package app

import (
	"context"
	"database/sql"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicecoach/backend/libs/auth"
	"voicecoach/backend/libs/db"
	libredis "voicecoach/backend/libs/redis"
	"voicecoach/backend/services/voice-service/internal/clients"
	"voicecoach/backend/services/voice-service/internal/config"
	httpserver "voicecoach/backend/services/voice-service/internal/http"
	"voicecoach/backend/services/voice-service/internal/http/handlers"
	redisstore "voicecoach/backend/services/voice-service/internal/redis"
	"voicecoach/backend/services/voice-service/internal/repository"
	"voicecoach/backend/services/voice-service/internal/service"
	"voicecoach/backend/services/voice-service/internal/ws"
)

// App wires voice service dependencies.
type App struct {
	server *httpserver.Server
	db     *sql.DB
	redis  *goredis.Client
	logger *zap.Logger
}

// New constructs application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgresDB(cfg.Database.DSN, db.PoolOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	redisClient, err := libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	callRepo := repository.NewCallRepository(sqlDB)
	minutesStore := redisstore.NewStore(redisClient, cfg.Billing.RecoveryTTL)
	quotaClient := clients.NewQuotaClient(cfg.Quota.BaseURL, logger)

	callsService := service.NewCallsService(
		callRepo,
		minutesStore,
		quotaClient,
		int64(cfg.Billing.PointsPerMinute),
		cfg.Billing.MaxMinutes,
		logger,
	)

	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.ExpiresIn)
	authenticated := auth.Middleware(tokens)

	wsServer := ws.NewServer(callsService, tokens, cfg.Billing.TickInterval, 0, logger)

	routes := httpserver.Routes{
		Voice:       wsServer.HandleWS,
		CallsMe:     authenticated(handlers.NewCallsMeHandler(callsService)),
		ActiveCalls: handlers.NewActiveCallsHandler(callsService),
		Health:      handlers.NewHealthHandler(),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server: server,
		db:     sqlDB,
		redis:  redisClient,
		logger: logger,
	}, nil
}

// Run starts HTTP server.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
