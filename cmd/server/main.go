package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	authapi "github.com/daylog-io/authd/api/echo"
	redisstore "github.com/daylog-io/authd/cache/redis"
	"github.com/daylog-io/authd/config"
	"github.com/daylog-io/authd/internal/auth"
	"github.com/daylog-io/authd/internal/federation"
	"github.com/daylog-io/authd/internal/metrics"
	applog "github.com/daylog-io/authd/log"
	"github.com/daylog-io/authd/middleware"
	"github.com/daylog-io/authd/mongodb"
	"github.com/daylog-io/authd/services"
	"github.com/daylog-io/authd/token"
	"github.com/daylog-io/authd/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	applog.Setup(cfg.LogLevel, cfg.LogPretty)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db", cfg.MongoDBName).
		Str("redis_addr", cfg.RedisAddr).
		Msg("Starting authd server")

	ctx := context.Background()

	tracerProvider, err := tracing.InitTracerProvider("authd")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize TracerProvider")
	}

	// MongoDB-backed principal directory.
	if err := mongodb.Init(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MongoDB connection")
	}
	db := mongodb.GetDB()

	principals, err := mongodb.NewPrincipalRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize PrincipalRepository")
	}
	identities, err := mongodb.NewLinkedIdentityRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize LinkedIdentityRepository")
	}

	// Redis-backed refresh-token store.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	refreshStore := redisstore.NewRefreshStore(redisClient, "")

	// Services.
	codec := token.NewCodec([]byte(cfg.AccessTokenSecret), []byte(cfg.RefreshTokenSecret))
	sessions := services.NewSessionService(
		codec, refreshStore,
		cfg.AccessTokenTTL(), cfg.RefreshTokenTTL(), cfg.StoreTimeout(),
	)

	hasher := auth.NewBcryptPasswordHasher(bcrypt.DefaultCost)
	authService := services.NewAuthService(principals, sessions, hasher)

	var providers []federation.Provider
	if cfg.GoogleClientID != "" {
		providers = append(providers, federation.NewGoogleProvider(federation.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}))
	}
	if cfg.KakaoClientID != "" {
		providers = append(providers, federation.NewKakaoProvider(federation.Config{
			ClientID:     cfg.KakaoClientID,
			ClientSecret: cfg.KakaoClientSecret,
			RedirectURL:  cfg.KakaoRedirectURL,
		}))
	}
	federationService := services.NewFederationService(
		providers, principals, identities, sessions, hasher, cfg.ProviderTimeout(),
	)

	// HTTP server.
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = authapi.ErrorHandler
	e.Use(echomw.Recover())

	gate := middleware.NewGate(codec, cfg.PublicPathList())
	e.Use(gate.Middleware())

	api := authapi.NewAuthAPI(authService, sessions, federationService, cfg.SecureCookies)
	api.RegisterRoutes(e)

	metrics.Register(prometheus.DefaultRegisterer)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	go func() {
		log.Info().Msgf("HTTP server listening on port %s", cfg.HTTPPort)
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	federationService.Stop()

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("TracerProvider shutdown error")
	}

	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Redis connection")
	}
	mongodb.Close(shutdownCtx)

	log.Info().Msg("Server gracefully stopped")
}
