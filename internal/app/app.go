package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"vidquery/features/stats"
	"vidquery/features/video"
	"vidquery/internal/adapter/gemini"
	"vidquery/internal/adapter/groq"
	"vidquery/internal/adapter/whisper"
	"vidquery/internal/adapter/ytdlp"
	"vidquery/internal/config"
	"vidquery/internal/ingest"
	"vidquery/internal/middleware"
	"vidquery/internal/retrieval"
	"vidquery/internal/settings"
	"vidquery/internal/worker"
)

type App struct {
	Handler        http.Handler
	VideoService   *video.Service
	IngestConsumer *worker.IngestConsumer

	port int
}

func New(
	cfg *config.Config,
	db Database,
	vecStore VectorStore,
	taskPub TaskPublisher,
	logger *slog.Logger,
) (*App, error) {

	// Cast db to *sql.DB for repositories that require it.
	// This allows us to use interfaces in the signature (for mocking with sqlmock)
	// while maintaining compatibility with existing repositories.
	sqlDB := db.(*sql.DB)

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(sqlDB)
	settingsService := settings.NewService(settingsRepo)

	seedAPIKeys(cfg, settingsService)

	settingsHandler := settings.NewHandler(settingsService)

	// Adapters
	geminiEmbedder := gemini.NewDynamicEmbedder(settingsService)
	groqGenerator := groq.NewDynamicGenerator(settingsService, cfg.GroqBaseURL, cfg.GroqModel)
	transcriber := whisper.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.WhisperModel)
	downloader := ytdlp.New(cfg.MediaDir)

	// Feature: Video
	videoRepo := video.NewPostgresRepo(sqlDB)
	videoService := video.NewService(videoRepo, taskPub, vecStore, downloader)

	// Feature: Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(geminiEmbedder, vecStore, groqGenerator, queryLogger)
	asker := &settingsAwareAsker{svc: retrievalService, settings: settingsService}

	videoHandler := video.NewHandler(videoService, asker, cfg.MediaDir, cfg.MaxUploadSizeMB)

	// Feature: Stats
	statsHandler := stats.NewHandler(videoRepo, vecStore)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /videos", middleware.CorrelationID(enableCORS(videoHandler.Create)))
	mux.Handle("POST /videos/upload", middleware.CorrelationID(enableCORS(videoHandler.Upload)))
	mux.Handle("GET /videos", middleware.CorrelationID(enableCORS(videoHandler.List)))
	mux.Handle("GET /videos/{id}", middleware.CorrelationID(enableCORS(videoHandler.Get)))
	mux.Handle("DELETE /videos/{id}", middleware.CorrelationID(enableCORS(videoHandler.Delete)))
	mux.Handle("POST /videos/{id}/reindex", middleware.CorrelationID(enableCORS(videoHandler.Reindex)))
	mux.Handle("POST /videos/{id}/ask", middleware.CorrelationID(enableCORS(videoHandler.Ask)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Worker (Ingest Consumer) Setup
	pipeline := ingest.NewPipeline(transcriber, geminiEmbedder, vecStore, cfg.MinChunkChars)
	ingestConsumer := worker.NewIngestConsumer(pipeline, videoRepo)

	return &App{
		Handler:        mux,
		VideoService:   videoService,
		IngestConsumer: ingestConsumer,
		port:           cfg.ServerPort,
	}, nil
}

// seedAPIKeys copies keys from the environment into settings when the row
// has none, so a fresh deployment works without touching the settings UI.
func seedAPIKeys(cfg *config.Config, settingsService *settings.Service) {
	if cfg.GeminiAPIKey == "" && cfg.GroqAPIKey == "" {
		return
	}

	ctx := context.Background()
	set, err := settingsService.Get(ctx)
	if err != nil {
		slog.Warn("failed to fetch settings for seeding", "error", err)
		return
	}

	changed := false
	if cfg.GeminiAPIKey != "" && set.GeminiAPIKey == "" {
		set.GeminiAPIKey = cfg.GeminiAPIKey
		changed = true
	}
	if cfg.GroqAPIKey != "" && set.GroqAPIKey == "" {
		set.GroqAPIKey = cfg.GroqAPIKey
		changed = true
	}
	if !changed {
		return
	}

	if err := settingsService.Update(ctx, set); err != nil {
		slog.Warn("failed to seed api keys", "error", err)
	} else {
		slog.Info("seeded api keys from environment")
	}
}

// settingsAwareAsker fills in the configured search_top_k when the request
// does not ask for a specific number of matches.
type settingsAwareAsker struct {
	svc      *retrieval.Service
	settings *settings.Service
}

func (a *settingsAwareAsker) Ask(ctx context.Context, videoID, question string, topK int) (*retrieval.Answer, error) {
	if topK <= 0 {
		if set, err := a.settings.Get(ctx); err == nil && set.SearchTopK > 0 {
			topK = set.SearchTopK
		}
	}
	return a.svc.Ask(ctx, videoID, question, topK)
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
