//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pensieve-ai/pensieve/internal/domain"
)

type itemPayload struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Kind         string         `json:"kind"`
	Status       string         `json:"status"`
	Title        string         `json:"title"`
	Metadata     map[string]any `json:"metadata"`
	ErrorMessage string         `json:"error_message"`
}

type evidencePayload struct {
	ChunkID  string  `json:"chunk_id"`
	ItemID   string  `json:"item_id"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Citation string  `json:"citation"`
}

func TestE2E_WebIngestion(t *testing.T) {
	env := SetupEnv(t)
	defer env.Cleanup()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>
			<head><title>Release Notes</title></head>
			<body><article>
				<p>Version two shipped with the new retrieval engine.</p>
				<p>The old engine is deprecated.</p>
			</article></body>
		</html>`)
	}))
	defer origin.Close()

	resp, status, err := env.Post("/ingest/web", map[string]string{"url": origin.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, status)

	var created itemPayload
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, string(domain.ItemStatusPending), created.Status)

	item, err := env.WaitForStatus(created.ID, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusReady, item.Status)
	assert.Equal(t, "Release Notes", item.Title)

	// The extracted text is now searchable lexically.
	resp, status, err = env.Post("/search", map[string]any{"question": "retrieval engine"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	var evidence []evidencePayload
	require.NoError(t, json.Unmarshal(resp.Data, &evidence))
	require.NotEmpty(t, evidence)
	assert.Equal(t, created.ID, evidence[0].ItemID)
	assert.Contains(t, evidence[0].Citation, "Release Notes")
}

func TestE2E_WebIngestionDegradesOnDeadOrigin(t *testing.T) {
	env := SetupEnv(t)
	defer env.Cleanup()

	// A port nothing listens on: extraction fails but the pass degrades.
	resp, status, err := env.Post("/ingest/web", map[string]string{"url": "http://127.0.0.1:1/post"})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, status)

	var created itemPayload
	require.NoError(t, json.Unmarshal(resp.Data, &created))

	item, err := env.WaitForStatus(created.ID, 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusReady, item.Status)
	assert.NotEmpty(t, item.Metadata["fetch_error"])
}

func TestE2E_MarkdownUpload(t *testing.T) {
	env := SetupEnv(t)
	defer env.Cleanup()

	note := "# Weekly Plan\n\nShip the retrieval engine by Friday.\n\nThen write the announcement post."
	resp, status, err := env.Upload("/ingest/document", "plan.md", []byte(note), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, status)

	var created itemPayload
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, string(domain.SourceKindMarkdown), created.Kind)

	item, err := env.WaitForStatus(created.ID, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusReady, item.Status)
	assert.Equal(t, "Weekly Plan", item.Title)

	resp, status, err = env.Post("/ask", map[string]any{"question": "when does the retrieval engine ship"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	var answer struct {
		Text     string            `json:"text"`
		Evidence []evidencePayload `json:"evidence"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &answer))
	// No chat client is configured, so the answer degrades to evidence.
	assert.NotEmpty(t, answer.Text)
	require.NotEmpty(t, answer.Evidence)
	assert.Contains(t, answer.Evidence[0].Citation, "[note]")
}

func TestE2E_AudioFailsWithoutTranscriber(t *testing.T) {
	env := SetupEnv(t)
	defer env.Cleanup()

	resp, status, err := env.Upload("/ingest/audio", "memo.mp3", []byte("not-really-audio"), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, status)

	var created itemPayload
	require.NoError(t, json.Unmarshal(resp.Data, &created))

	item, err := env.WaitForStatus(created.ID, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusFailed, item.Status)
	assert.Equal(t, "transcription_not_configured", item.ErrorMessage)
}

func TestE2E_ItemListingAndScoping(t *testing.T) {
	env := SetupEnv(t)
	defer env.Cleanup()

	resp, status, err := env.Upload("/ingest/document", "note.md", []byte("# Note\n\nbody"), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, status)

	var created itemPayload
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	_, err = env.WaitForStatus(created.ID, 30*time.Second)
	require.NoError(t, err)

	resp, status, err = env.Get("/items")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	var items []itemPayload
	require.NoError(t, json.Unmarshal(resp.Data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "default", items[0].OwnerID)

	// A different owner sees nothing.
	req, err := http.NewRequest(http.MethodGet, env.Server.URL+"/items/"+created.ID, nil)
	require.NoError(t, err)
	req.Header.Set("X-Owner-ID", "someone-else")
	httpResp, err := env.HTTPClient.Do(req)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, httpResp.StatusCode)
}

func TestE2E_SearchValidation(t *testing.T) {
	env := SetupEnv(t)
	defer env.Cleanup()

	_, status, err := env.Post("/search", map[string]any{"question": ""})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	// An empty corpus returns an empty evidence list, not an error.
	resp, status, err := env.Post("/search", map[string]any{"question": "anything at all"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	var evidence []evidencePayload
	require.NoError(t, json.Unmarshal(resp.Data, &evidence))
	assert.Empty(t, evidence)
}
