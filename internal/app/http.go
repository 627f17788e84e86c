package app

import (
	"context"
	"time"

	"github.com/kelvinguchu/t3clone-sub002/internal/api"
	"github.com/kelvinguchu/t3clone-sub002/internal/auth/credentials"
	"github.com/kelvinguchu/t3clone-sub002/internal/auth/handler"
	"github.com/kelvinguchu/t3clone-sub002/internal/auth/provider"
	"github.com/kelvinguchu/t3clone-sub002/internal/auth/provider/google"
	"github.com/kelvinguchu/t3clone-sub002/internal/auth/resolver"
	"github.com/kelvinguchu/t3clone-sub002/internal/cache"
	"github.com/kelvinguchu/t3clone-sub002/internal/config"
	"github.com/kelvinguchu/t3clone-sub002/internal/convo"
	"github.com/kelvinguchu/t3clone-sub002/internal/middleware"
	"github.com/kelvinguchu/t3clone-sub002/internal/ratelimit"
	"github.com/kelvinguchu/t3clone-sub002/internal/retry"
	"github.com/kelvinguchu/t3clone-sub002/internal/session"

	"github.com/gin-gonic/gin"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	cacheLayer := cache.New(infra.KV)
	limiter := ratelimit.New(infra.KV)
	contexts := convo.New(cacheLayer)
	detector := retry.New(infra.Store)

	sessions := session.NewManager(
		cacheLayer,
		infra.Store,
		limiter,
		session.WithMessageLimit(cfg.AnonMessageLimit),
		session.WithWindowSeconds(cfg.AnonWindowSeconds),
		session.WithTTL(24*time.Hour),
	)

	authSessions := session.NewKVAuthStore(cacheLayer)
	identityResolver := resolver.NewDBResolver(infra.Store.DB())
	credentialService := credentials.NewService(infra.Store.DB())

	googleProvider, err := google.New(
		ctx,
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURL,
	)
	if err != nil {
		return nil, nil, err
	}

	registry := provider.NewRegistry(googleProvider)

	authHandler := handler.NewHandler(
		registry,
		authSessions,
		identityResolver,
		sessions,
		credentialService,
		cfg.SessionHashSalt,
	)

	authMiddleware := middleware.NewAuthMiddleware(authSessions)

	apiHandler := api.NewHandler(
		sessions,
		limiter,
		contexts,
		detector,
		infra.Store,
		cfg.SessionHashSalt,
		0,
	)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	authHandler.RegisterRoutes(router)
	apiHandler.RegisterRoutes(router, authMiddleware)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ----------------------------
	// Cleanup
	// ----------------------------

	return router, func() error {
		if err := infra.KV.Close(); err != nil {
			return err
		}
		return infra.Store.Close()
	}, nil
}
