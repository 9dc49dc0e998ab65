package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxBodyBytes_RejectsDeclaredOversize(t *testing.T) {
	called := false
	handler := MaxBodyBytes(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/ingest/audio", strings.NewReader(strings.Repeat("a", 50)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Contains(t, rr.Body.String(), "10 byte limit")
}

func TestMaxBodyBytes_CutsOffUndeclaredOversize(t *testing.T) {
	var readErr error
	handler := MaxBodyBytes(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	// ContentLength -1 skips the up-front check; MaxBytesReader catches it.
	req := httptest.NewRequest(http.MethodPost, "/ingest/audio", strings.NewReader(strings.Repeat("a", 50)))
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Error(t, readErr)
}

func TestMaxBodyBytes_PassesSmallBody(t *testing.T) {
	var body []byte
	handler := MaxBodyBytes(100)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/ingest/web", strings.NewReader("hello"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello", string(body))
}

func TestMaxBodyBytes_ZeroLimitDisables(t *testing.T) {
	called := false
	handler := MaxBodyBytes(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/ingest/web", strings.NewReader(strings.Repeat("a", 1000)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.True(t, called)
}
