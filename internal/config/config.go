package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"pensieve-objects"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	// LocalStorageDir backs blobs with a plain directory when S3 is not
	// configured.
	LocalStorageDir string `envconfig:"LOCAL_STORAGE_DIR" default:"./data/objects"`

	OpenAIAPIKey       string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel     string `envconfig:"EMBEDDING_MODEL"`
	ChatModel          string `envconfig:"CHAT_MODEL"`
	TranscriptionModel string `envconfig:"TRANSCRIPTION_MODEL"`

	SentryDSN         string  `envconfig:"SENTRY_DSN"`
	SentryEnvironment string  `envconfig:"SENTRY_ENVIRONMENT"`
	SentrySampleRate  float64 `envconfig:"SENTRY_SAMPLE_RATE" default:"0.1"`

	// DefaultOwnerID scopes all items when requests carry no owner.
	DefaultOwnerID string `envconfig:"DEFAULT_OWNER_ID" default:"default"`

	WorkerPoolSize int `envconfig:"WORKER_POOL_SIZE" default:"4"`

	SemanticWeight float64 `envconfig:"SEMANTIC_WEIGHT" default:"0.6"`
	LexicalWeight  float64 `envconfig:"LEXICAL_WEIGHT" default:"0.4"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("PENSIEVE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
