// Package cli implements the pensieved commands.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pensieve-ai/pensieve/internal/api/handlers"
	"github.com/pensieve-ai/pensieve/internal/config"
	"github.com/pensieve-ai/pensieve/internal/database"
	"github.com/pensieve-ai/pensieve/internal/domain"
	"github.com/pensieve-ai/pensieve/internal/extract"
	"github.com/pensieve-ai/pensieve/internal/jobs"
	"github.com/pensieve-ai/pensieve/internal/openai"
	"github.com/pensieve-ai/pensieve/internal/repository"
	"github.com/pensieve-ai/pensieve/internal/server"
	"github.com/pensieve-ai/pensieve/internal/service"
	"github.com/pensieve-ai/pensieve/internal/storage"
	"github.com/pensieve-ai/pensieve/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the pensieve API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		environment := cfg.SentryEnvironment
		if environment == "" {
			environment = "development"
		}
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      environment,
			TracesSampleRate: cfg.SentrySampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	cmd.Flags().Visit(func(f *pflag.Flag) {
		log.Printf("flag override: --%s=%s", f.Name, f.Value.String())
	})

	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetString("port")
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	itemRepo := repository.NewItemRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)

	var blobs service.BlobStore
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		blobs = s3Client
	} else {
		local, err := storage.NewLocalStore(cfg.LocalStorageDir)
		if err != nil {
			return fmt.Errorf("failed to create local storage: %w", err)
		}
		log.Printf("local object storage at %s", cfg.LocalStorageDir)
		blobs = local
	}

	var embeddingProvider service.EmbeddingProvider
	var transcriber service.Transcriber
	var chat service.ChatClient
	if cfg.HasOpenAI() {
		client := openai.NewClientWithConfig(openai.Config{
			APIKey:             cfg.OpenAIAPIKey,
			EmbeddingModel:     goopenai.EmbeddingModel(cfg.EmbeddingModel),
			ChatModel:          cfg.ChatModel,
			TranscriptionModel: cfg.TranscriptionModel,
		})
		embeddingProvider = client
		transcriber = client
		chat = client
	} else {
		log.Println("OPENAI_API_KEY not set: embeddings, transcription, and synthesis disabled")
	}

	embeddings := service.NewEmbeddingGateway(embeddingProvider)
	writer := service.NewChunkWriter(chunkRepo)

	extractors := map[domain.SourceKind]service.Extractor{
		domain.SourceKindWeb:      extract.NewWebExtractor(),
		domain.SourceKindPDF:      extract.NewPDFExtractor(blobs),
		domain.SourceKindMarkdown: extract.NewMarkdownExtractor(blobs),
	}

	ingestionCfg := service.DefaultIngestionConfig()
	ingestion := service.NewIngestionService(itemRepo, writer, embeddings, extractors, transcriber, blobs, ingestionCfg)

	dispatcher, err := jobs.NewDispatcher(ingestion, cfg.WorkerPoolSize)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	retrievalCfg := service.DefaultRetrievalConfig()
	retrievalCfg.SemanticWeight = cfg.SemanticWeight
	retrievalCfg.LexicalWeight = cfg.LexicalWeight
	retrieval := service.NewRetrievalService(chunkRepo, embeddings, retrievalCfg)
	answer := service.NewAnswerService(retrieval, chat)

	router := server.NewRouter(server.RouterConfig{
		DefaultOwnerID: cfg.DefaultOwnerID,
		MaxUploadBytes: ingestionCfg.MaxUploadBytes,
		IngestHandler:  handlers.NewIngestHandler(itemRepo, blobs, dispatcher, ingestionCfg.MaxUploadBytes),
		ItemHandler:    handlers.NewItemHandler(itemRepo),
		AskHandler:     handlers.NewAskHandler(answer, retrieval),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Let in-flight ingestion passes settle before releasing the pool.
	dispatcher.Shutdown()

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Printf("migrations applied (version: %d, dirty: %v)", version, dirty)
	return nil
}
