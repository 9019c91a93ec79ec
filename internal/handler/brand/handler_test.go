package brand

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/autobiz/abp/backend/internal/model/brand"
	brandService "github.com/autobiz/abp/backend/internal/service/brand"
)

func setupRouter(t *testing.T) *chi.Mux {
	t.Helper()
	store, err := model.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc, err := brandService.NewService(store, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	New(svc).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestListAndGetPresets(t *testing.T) {
	r := setupRouter(t)

	resp := do(r, http.MethodGet, "/brand-templates?category=tech", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var list []model.Template
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "tech_futuristic", list[0].ID)

	resp = do(r, http.MethodGet, "/brand-templates/minimalist_modern", "")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = do(r, http.MethodGet, "/brand-templates/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = do(r, http.MethodGet, "/brand-templates/categories", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Professional")
}

func TestCustomTemplateLifecycle(t *testing.T) {
	r := setupRouter(t)

	resp := do(r, http.MethodPost, "/brand-templates", `{"name":"Neon","prompts":{"product":"neon glow"}}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	var created model.Template
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.False(t, created.Preset)

	resp = do(r, http.MethodPost, "/brand-templates/"+created.ID+"/enhance", `{"prompt":"a mug"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "neon glow")

	resp = do(r, http.MethodPut, "/brand-templates/"+created.ID, `{"name":"Neon v2"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Neon v2")

	resp = do(r, http.MethodDelete, "/brand-templates/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = do(r, http.MethodDelete, "/brand-templates/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestTemplateErrors(t *testing.T) {
	r := setupRouter(t)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/brand-templates", `{"name":" "}`).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPut, "/brand-templates/minimalist_modern", `{"name":"mine"}`).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodDelete, "/brand-templates/minimalist_modern", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/brand-templates/bad.id", `{"name":"x"}`).Code)
}
