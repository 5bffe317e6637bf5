package app

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"voicecoach/backend/libs/auth"
	"voicecoach/backend/libs/db"
	"voicecoach/backend/services/quota-service/internal/config"
	httpserver "voicecoach/backend/services/quota-service/internal/http"
	"voicecoach/backend/services/quota-service/internal/http/handlers"
	"voicecoach/backend/services/quota-service/internal/repository"
	"voicecoach/backend/services/quota-service/internal/service"
)

// App wires quota service dependencies.
type App struct {
	server *httpserver.Server
	db     *sql.DB
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

	accountRepo := repository.NewAccountRepository(sqlDB)
	usageRepo := repository.NewUsageRepository(sqlDB)
	featureRepo := repository.NewFeatureRepository(sqlDB)
	quotaService := service.NewQuotaService(accountRepo, usageRepo, featureRepo, logger)

	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.ExpiresIn)
	authenticated := auth.Middleware(tokens)

	routes := httpserver.Routes{
		Deduct:  handlers.NewDeductHandler(quotaService, logger),
		Refund:  handlers.NewRefundHandler(quotaService, logger),
		QuotaMe: authenticated(handlers.NewQuotaMeHandler(quotaService)),
		UsageMe: authenticated(handlers.NewUsageMeHandler(quotaService)),
		Health:  handlers.NewHealthHandler(),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server: server,
		db:     sqlDB,
		logger: logger,
	}, nil
}

// Run starts HTTP server.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
