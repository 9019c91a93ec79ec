package printify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobiz/abp/backend/internal/config"
	"github.com/autobiz/abp/backend/internal/model/usage"
	"github.com/autobiz/abp/backend/internal/platform/apierr"
	"github.com/autobiz/abp/backend/internal/platform/retry"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, mux *http.ServeMux, rec usage.Recorder) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	opts := []Option{WithRetryPolicy(retry.Policy{MaxRetries: 2, Initial: time.Millisecond, Multiplier: 2, MaxInterval: 5 * time.Millisecond})}
	if rec != nil {
		opts = append(opts, WithRecorder(rec))
	}
	return New(config.PrintifyConfig{APIToken: "pt", ShopID: "42", BaseURL: srv.URL}, opts...)
}

func TestShopsSendsBearer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /shops.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pt", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []Shop{{ID: 42, Title: "Main"}})
	})
	usageRepo := usage.NewMemoryRepository()
	client := newTestClient(t, mux, recorderFunc(func(ctx context.Context, c usage.Call) (usage.Call, error) {
		return c, usageRepo.Record(ctx, c)
	}))

	shops, err := client.Shops(context.Background())
	require.NoError(t, err)
	require.Len(t, shops, 1)
	assert.Equal(t, "Main", shops[0].Title)

	calls, _ := usageRepo.Recent(context.Background(), 0)
	require.Len(t, calls, 1)
	assert.Equal(t, "printify", calls[0].Provider)
	assert.Equal(t, "shops", calls[0].Model)
}

type recorderFunc func(context.Context, usage.Call) (usage.Call, error)

func (f recorderFunc) Track(ctx context.Context, c usage.Call) (usage.Call, error) { return f(ctx, c) }

func TestFindBlueprintAndVariant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /catalog/blueprints.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []Blueprint{{ID: 5, Title: "Unisex Jersey T-Shirt"}, {ID: 68, Title: "Ceramic Mug 11oz"}})
	})
	mux.HandleFunc("GET /catalog/blueprints/68/print_providers.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []PrintProvider{{ID: 1, Title: "Empty"}, {ID: 9, Title: "Good"}})
	})
	mux.HandleFunc("GET /catalog/blueprints/68/print_providers/1/variants.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"variants": []Variant{}})
	})
	mux.HandleFunc("GET /catalog/blueprints/68/print_providers/9/variants.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"variants": []Variant{{ID: 1001, Title: "11oz"}}})
	})
	client := newTestClient(t, mux, nil)
	ctx := context.Background()

	bp, err := client.FindBlueprint(ctx, "MUG")
	require.NoError(t, err)
	assert.Equal(t, 68, bp.ID)

	_, err = client.FindBlueprint(ctx, "hoodie")
	assert.ErrorIs(t, err, ErrBlueprintNotFound)

	providerID, variant, err := client.FirstProviderVariant(ctx, 68)
	require.NoError(t, err)
	assert.Equal(t, 9, providerID)
	assert.Equal(t, 1001, variant.ID)
}

func TestProductsCapsLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /shops/42/products.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{{"id": "p1", "title": "Mug"}}})
	})
	client := newTestClient(t, mux, nil)

	products, err := client.Products(context.Background(), "", 200, 2)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "p1", products[0].ID)
}

func TestMockupsSortedByPosition(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /shops/42/products/p1.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "p1",
			"images": []map[string]any{
				{"src": "https://img/c", "position": 3},
				{"src": "", "position": 0},
				{"src": "https://img/a", "position": 1, "is_default": true},
				{"src": "https://img/b", "position": "2"},
			},
		})
	})
	client := newTestClient(t, mux, nil)

	mockups, err := client.Mockups(context.Background(), "42", "p1")
	require.NoError(t, err)
	require.Len(t, mockups, 3)
	assert.Equal(t, []string{"https://img/a", "https://img/b", "https://img/c"}, []string{mockups[0].Src, mockups[1].Src, mockups[2].Src})
	assert.True(t, mockups[0].IsDefault)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /uploads/images.json", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream"})
			return
		}
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw, err := base64.StdEncoding.DecodeString(body["contents"])
		assert.NoError(t, err)
		assert.Equal(t, "png-bytes", string(raw))
		writeJSON(w, http.StatusOK, Image{ID: "img-1", FileName: body["file_name"]})
	})
	client := newTestClient(t, mux, nil)

	img, err := client.UploadImage(context.Background(), "design.png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "img-1", img.ID)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /shops/42/products/p9/publish.json", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such product"})
	})
	client := newTestClient(t, mux, nil)

	err := client.PublishProduct(context.Background(), "", "p9")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apierr.StatusCode(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestNotConfigured(t *testing.T) {
	client := New(config.PrintifyConfig{})
	_, err := client.Shops(context.Background())
	assert.ErrorIs(t, err, apierr.ErrNotConfigured)

	configured := New(config.PrintifyConfig{APIToken: "x"})
	_, err = configured.Products(context.Background(), "", 10, 1)
	assert.ErrorIs(t, err, ErrShopRequired)
}
