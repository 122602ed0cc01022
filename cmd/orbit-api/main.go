package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/config"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/database"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/enrichment"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/extraction"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/ingest"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/server"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/social"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orbit-api",
		Short: "Orbit relationship graph backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "PostgreSQL connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "API token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "API token TTL in minutes")
	cmd.PersistentFlags().String("ai-model", defaults.GetString("ai.model"), "Extraction model name")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for the profile cache")
	cmd.PersistentFlags().Int("enrichment-pool-size", defaults.GetInt("enrichment.pool_size"), "Concurrent enrichment jobs")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "ai.model", "ai-model")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "enrichment.pool_size", "enrichment-pool-size")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for the configured signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if !appConfig.AuthEnabled() {
				return errors.New("auth.signing_secret is not configured")
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				Audience:      appConfig.AuthAudience,
				TokenTTL:      appConfig.AuthTokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", time.Duration(expiresIn)*time.Second)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	graphService, err := graph.NewService(graph.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: graph.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	realtimeDispatcher := realtime.NewDispatcher()

	profiles, closeProfiles := newProfileFetcher(ctx, appConfig, logger)
	defer closeProfiles()

	enricher, err := enrichment.NewEnricher(enrichment.Config{
		Store:      graphService,
		Fetcher:    profiles,
		Downloader: enrichment.NewHTTPDownloader(&http.Client{Timeout: appConfig.SocialHTTPTimeout}, appConfig.EnrichmentMaxMediaBytes),
		Publisher:  realtimeDispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	assetDispatcher, err := enrichment.NewDispatcher(enricher, enrichment.DispatcherConfig{
		PoolSize: appConfig.EnrichmentPoolSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := assetDispatcher.Release(shutdownTimeout); err != nil {
			logger.Warn("enrichment pool did not drain", zap.Error(err))
		}
	}()

	pipeline, err := ingest.NewPipeline(ingest.Config{
		Graph:      graphService,
		Extractor:  newExtractor(appConfig, logger),
		Profiles:   profiles,
		Dispatcher: assetDispatcher,
		Publisher:  realtimeDispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var sessions server.SessionValidator
	if appConfig.AuthEnabled() {
		validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(appConfig.AuthSigningSecret),
			Issuer:        appConfig.AuthIssuer,
			Audience:      appConfig.AuthAudience,
			CookieName:    appConfig.AuthCookieName,
		})
		if err != nil {
			return err
		}
		sessions = validator
	} else {
		logger.Warn("auth.signing_secret not set; the API is open")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Graph:          graphService,
		Ingester:       pipeline,
		Sessions:       sessions,
		Realtime:       realtimeDispatcher,
		Logger:         logger,
		MaxUploadBytes: appConfig.EnrichmentMaxMediaBytes,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newExtractor(appConfig config.AppConfig, logger *zap.Logger) extraction.Extractor {
	if appConfig.AIAPIKey == "" {
		logger.Warn("no model API key configured; ingestion is disabled")
		return extraction.Disabled{}
	}
	extractor, err := extraction.NewOpenAIExtractor(extraction.Config{
		BaseURL: appConfig.AIBaseURL,
		APIKey:  appConfig.AIAPIKey,
		Model:   appConfig.AIModel,
	}, logger)
	if err != nil {
		logger.Error("extraction model unavailable; ingestion is disabled", zap.Error(err))
		return extraction.Disabled{}
	}
	return extractor
}

// newProfileFetcher builds the social client, wrapped in a Redis cache when one is configured and reachable.
func newProfileFetcher(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (social.Fetcher, func()) {
	client := social.NewClient(social.Config{
		BaseURL:     appConfig.SocialBaseURL,
		BearerToken: appConfig.SocialBearerToken,
		CSRFToken:   appConfig.SocialCSRFToken,
		Cookie:      appConfig.SocialCookie,
		HTTPClient:  &http.Client{Timeout: appConfig.SocialHTTPTimeout},
		Logger:      logger,
	})
	if !client.Configured() {
		logger.Info("social credentials not configured; profile lookups will fail fast")
	}
	if appConfig.RedisAddress == "" {
		return client, func() {}
	}

	redisClient, err := social.ConnectRedis(ctx, social.RedisOptions{
		Address:  appConfig.RedisAddress,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("profile cache disabled", zap.Error(err))
		return client, func() {}
	}
	cache := social.NewRedisProfileCache(redisClient, appConfig.RedisProfileTTL)
	return social.NewCachingFetcher(client, cache, logger), func() {
		_ = redisClient.Close()
	}
}
