package files

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobiz/abp/backend/internal/service/library"
)

func setupRouter(t *testing.T) *chi.Mux {
	t.Helper()
	lib, err := library.NewService(t.TempDir(), nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	New(lib).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestUploadListServeDelete(t *testing.T) {
	r := setupRouter(t)

	resp := do(r, http.MethodPost, "/files/documents?name=notes.txt", []byte("hello library"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var entry library.Entry
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &entry))
	assert.Equal(t, "notes.txt", entry.Name)

	resp = do(r, http.MethodPost, "/files/documents?name=notes.txt", []byte("second"))
	require.Equal(t, http.StatusCreated, resp.Code)
	var second library.Entry
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &second))
	assert.NotEqual(t, "notes.txt", second.Name, "existing files are never overwritten")

	resp = do(r, http.MethodGet, "/files?category=documents&pageSize=1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var page library.Page
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)

	resp = do(r, http.MethodGet, "/files/documents/notes.txt", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "hello library", resp.Body.String())

	resp = do(r, http.MethodDelete, "/files/documents/notes.txt", nil)
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = do(r, http.MethodGet, "/files/documents/notes.txt", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestFileErrors(t *testing.T) {
	r := setupRouter(t)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/files?category=secrets", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/files/secrets?name=a.txt", []byte("x")).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/files/documents/..", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/files/generated_images/none.png", nil).Code)
}
