package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/pipeline"
	"server/internal/providers/llm"
	"server/internal/providers/media"
	"server/internal/providers/speech"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	sqlRunner := infra.NewSQLRunner(dbpool, logger)

	store, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize media storage")
	}

	geo, err := infra.NewGeoIP(cfg.GeoIPDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open geoip database")
	}
	defer geo.Close()

	fetcher, err := media.NewFetcher(media.Options{
		BaseURL:    cfg.DownloaderBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.DownloadTimeout},
		Store:      store,
		Attempts:   cfg.DownloadAttempts,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build media fetcher")
	}

	transcriber, err := speech.NewTranscriber(speech.Options{
		BaseURL: cfg.SpeechBaseURL,
		APIKey:  cfg.SpeechAPIKey,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build transcriber")
	}

	llmClient, err := llm.NewClient(llm.Options{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build llm client")
	}

	videos := repo.NewVideoRepository(sqlRunner)
	runner := pipeline.NewRunner(
		videos,
		store,
		fetcher,
		transcriber,
		llm.NewAnalyzer(llmClient),
		variantAdapter{gen: llm.NewVariantGenerator(llmClient, &logger)},
		pipeline.Config{
			FetchTimeout:      cfg.DownloadTimeout,
			TranscribeTimeout: cfg.TranscribeTimeout,
			AnalyzeTimeout:    cfg.AnalyzeTimeout,
			VariantsTimeout:   cfg.VariantsTimeout,
			MediaURLTTL:       cfg.MediaURLTTL,
		},
		logger,
	)

	app := handlers.NewApp(runner, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		DefaultLocale:  cfg.DefaultLocale,
		NormalizeLang:  llm.NormalizeLocale,
		CountryLookup:  geo.CountryCode,
		RateLimit:      cfg.RateLimitPerMin,
		RatePer:        time.Minute,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newStore(ctx context.Context, cfg *infra.Config) (storage.Store, error) {
	if cfg.StorageDriver == "filesystem" {
		return storage.NewFileStore(cfg.StoragePath, "")
	}
	return storage.NewMinIOStore(ctx, storage.MinIOOptions{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
	})
}

// variantAdapter bridges the pipeline's generator contract onto the llm
// implementation.
type variantAdapter struct {
	gen *llm.VariantGenerator
}

func (a variantAdapter) Generate(ctx context.Context, req pipeline.VariantRequest) ([]domain.Variant, error) {
	return a.gen.Generate(ctx, llm.GenerateVariantsRequest{
		Transcript: req.Transcript,
		Analysis:   req.Analysis,
		Count:      req.Count,
		Intensity:  req.Intensity,
		Locale:     req.Locale,
	})
}
