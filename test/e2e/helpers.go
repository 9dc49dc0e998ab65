//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pensieve-ai/pensieve/internal/api/handlers"
	"github.com/pensieve-ai/pensieve/internal/domain"
	"github.com/pensieve-ai/pensieve/internal/extract"
	"github.com/pensieve-ai/pensieve/internal/jobs"
	"github.com/pensieve-ai/pensieve/internal/repository"
	"github.com/pensieve-ai/pensieve/internal/server"
	"github.com/pensieve-ai/pensieve/internal/service"
	"github.com/pensieve-ai/pensieve/internal/storage"
	"github.com/pensieve-ai/pensieve/internal/testutil"
)

// TestEnv holds the full in-process stack for end-to-end tests: a pgvector
// container, directory-backed blob storage, the real ingestion pipeline
// (without external AI providers), and the HTTP API.
type TestEnv struct {
	T          *testing.T
	Ctx        context.Context
	PostgresC  *testutil.PostgresContainer
	Pool       *pgxpool.Pool
	Server     *httptest.Server
	Dispatcher *jobs.Dispatcher
	Items      *repository.ItemRepository
	HTTPClient *http.Client
}

// SetupEnv wires the whole stack the way serve does, minus OpenAI: the
// embedding gateway, transcriber, and chat client are absent, so passes
// degrade exactly as they would in an unconfigured deployment.
func SetupEnv(t *testing.T) *TestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	itemRepo := repository.NewItemRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)

	embeddings := service.NewEmbeddingGateway(nil)
	writer := service.NewChunkWriter(chunkRepo)
	extractors := map[domain.SourceKind]service.Extractor{
		domain.SourceKindWeb:      extract.NewWebExtractor(),
		domain.SourceKindPDF:      extract.NewPDFExtractor(blobs),
		domain.SourceKindMarkdown: extract.NewMarkdownExtractor(blobs),
	}

	ingestionCfg := service.DefaultIngestionConfig()
	ingestion := service.NewIngestionService(itemRepo, writer, embeddings, extractors, nil, blobs, ingestionCfg)

	dispatcher, err := jobs.NewDispatcher(ingestion, 2)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	retrieval := service.NewRetrievalService(chunkRepo, embeddings, service.DefaultRetrievalConfig())
	answer := service.NewAnswerService(retrieval, nil)

	router := server.NewRouter(server.RouterConfig{
		DefaultOwnerID: "default",
		MaxUploadBytes: ingestionCfg.MaxUploadBytes,
		IngestHandler:  handlers.NewIngestHandler(itemRepo, blobs, dispatcher, ingestionCfg.MaxUploadBytes),
		ItemHandler:    handlers.NewItemHandler(itemRepo),
		AskHandler:     handlers.NewAskHandler(answer, retrieval),
	})

	srv := httptest.NewServer(router)

	return &TestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		Pool:       pool,
		Server:     srv,
		Dispatcher: dispatcher,
		Items:      itemRepo,
		HTTPClient: srv.Client(),
	}
}

// Cleanup tears the environment down in dependency order.
func (env *TestEnv) Cleanup() {
	env.Server.Close()
	env.Dispatcher.Shutdown()
	env.Pool.Close()
	_ = env.PostgresC.Terminate(env.Ctx)
}

// APIResponse is the decoded success envelope.
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// Post sends a JSON POST and decodes the envelope.
func (env *TestEnv) Post(path string, body any) (*APIResponse, int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return env.do(req)
}

// Get sends a GET and decodes the envelope.
func (env *TestEnv) Get(path string) (*APIResponse, int, error) {
	req, err := http.NewRequest(http.MethodGet, env.Server.URL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	return env.do(req)
}

// Upload sends a multipart POST with one file and optional form fields.
func (env *TestEnv) Upload(path, filename string, content []byte, fields map[string]string) (*APIResponse, int, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, 0, err
	}
	if _, err := fw.Write(content); err != nil {
		return nil, 0, err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, 0, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequest(http.MethodPost, env.Server.URL+path, &buf)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return env.do(req)
}

func (env *TestEnv) do(req *http.Request) (*APIResponse, int, error) {
	resp, err := env.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var decoded APIResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("decode response %q: %w", string(raw), err)
		}
	}
	return &decoded, resp.StatusCode, nil
}

// WaitForStatus polls the item until it reaches a terminal status or the
// timeout elapses, and returns its final state.
func (env *TestEnv) WaitForStatus(itemID string, timeout time.Duration) (*domain.KnowledgeItem, error) {
	deadline := time.Now().Add(timeout)
	for {
		item, err := env.Items.GetByID(env.Ctx, itemID)
		if err != nil {
			return nil, err
		}
		if item.Status.Terminal() {
			return item, nil
		}
		if time.Now().After(deadline) {
			return item, fmt.Errorf("item %s still %s after %s", itemID, item.Status, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
