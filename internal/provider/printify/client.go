// Package printify wraps the Printify v1 REST API used for print-on-demand products.
package printify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/config"
	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/model/usage"
	"github.com/autobiz/abp/backend/internal/platform/apierr"
	"github.com/autobiz/abp/backend/internal/platform/httpjson"
	"github.com/autobiz/abp/backend/internal/platform/retry"
)

const provider = "printify"

// MaxPageSize is the largest page the products endpoint accepts.
const MaxPageSize = 50

var (
	ErrBlueprintNotFound = errors.New("no blueprint matches the product type")
	ErrNoVariant         = errors.New("no print provider offers a variant for the blueprint")
	ErrShopRequired      = errors.New("printify shop id is required")
)

type Shop struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	SalesChannel string `json:"sales_channel"`
}

type Blueprint struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Brand       string   `json:"brand"`
	Model       string   `json:"model"`
	Images      []string `json:"images"`
}

type PrintProvider struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type Variant struct {
	ID      int               `json:"id"`
	Title   string            `json:"title"`
	Options map[string]string `json:"options"`
}

type Image struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Size     int    `json:"size"`
	MimeType string `json:"mime_type"`
	Preview  string `json:"preview_url"`
}

// Mockup is one rendered product image.
type Mockup struct {
	Src       string `json:"src"`
	IsDefault bool   `json:"is_default"`
	Position  int    `json:"position"`
}

// Product is the subset of a Printify product the platform reads back.
type Product struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Images      []struct {
		Src       string `json:"src"`
		IsDefault bool   `json:"is_default"`
		Position  any    `json:"position"`
	} `json:"images"`
	Visible   bool   `json:"visible"`
	CreatedAt string `json:"created_at"`
}

// ProductVariant prices one variant of a new product, in cents.
type ProductVariant struct {
	ID        int  `json:"id"`
	Price     int  `json:"price"`
	IsEnabled bool `json:"is_enabled"`
}

// Placeholder places an uploaded image on a print area.
type Placeholder struct {
	Position string             `json:"position"`
	Images   []PlaceholderImage `json:"images"`
}

type PlaceholderImage struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
	Angle float64 `json:"angle"`
}

type PrintArea struct {
	VariantIDs   []int         `json:"variant_ids"`
	Placeholders []Placeholder `json:"placeholders"`
}

// NewProduct is the create-product request body.
type NewProduct struct {
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Tags            []string         `json:"tags,omitempty"`
	BlueprintID     int              `json:"blueprint_id"`
	PrintProviderID int              `json:"print_provider_id"`
	Variants        []ProductVariant `json:"variants"`
	PrintAreas      []PrintArea      `json:"print_areas"`
}

// Client talks to the Printify API.
type Client struct {
	cfg      config.PrintifyConfig
	api      *httpjson.Client
	policy   retry.Policy
	recorder usage.Recorder
	logger   *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.api.HTTP = h } }

func WithRecorder(r usage.Recorder) Option { return func(c *Client) { c.recorder = r } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

func WithRetryPolicy(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

// New builds a client with bearer authentication and a 30 second timeout.
func New(cfg config.PrintifyConfig, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.printify.com/v1"
	}
	token := cfg.APIToken
	c := &Client{
		cfg: cfg,
		api: httpjson.New(provider, cfg.BaseURL, 30*time.Second, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+token)
		}),
		policy:   retry.DefaultPolicy(),
		recorder: usage.NopRecorder{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Enabled() bool { return c.cfg.Enabled() }

// ShopID returns the configured default shop.
func (c *Client) ShopID() string { return c.cfg.ShopID }

func (c *Client) shop(shopID string) (string, error) {
	if shopID == "" {
		shopID = c.cfg.ShopID
	}
	if shopID == "" {
		return "", ErrShopRequired
	}
	return url.PathEscape(shopID), nil
}

// call runs one request with retries and records it as a single API call.
func (c *Client) call(ctx context.Context, endpoint, method, path string, in, out any) error {
	if !c.Enabled() {
		return apierr.ErrNotConfigured
	}
	start := time.Now()
	_, err := retry.Do(ctx, c.policy, "printify."+endpoint, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.api.Do(ctx, method, path, in, out)
	})

	rec := usage.Call{
		Provider:   provider,
		Model:      endpoint,
		Operation:  method,
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
		logging.FromContextOr(ctx, c.logger).Warn("printify call failed", zap.String("endpoint", endpoint), zap.Error(err))
	}
	if _, terr := c.recorder.Track(ctx, rec); terr != nil {
		logging.FromContextOr(ctx, c.logger).Debug("usage tracking failed", zap.Error(terr))
	}
	return err
}

// Shops lists the shops on the account.
func (c *Client) Shops(ctx context.Context) ([]Shop, error) {
	var shops []Shop
	err := c.call(ctx, "shops", http.MethodGet, "shops.json", nil, &shops)
	return shops, err
}

// Blueprints lists the catalog.
func (c *Client) Blueprints(ctx context.Context) ([]Blueprint, error) {
	var bps []Blueprint
	err := c.call(ctx, "blueprints", http.MethodGet, "catalog/blueprints.json", nil, &bps)
	return bps, err
}

// FindBlueprint returns the first blueprint whose title contains productType,
// case-insensitively.
func (c *Client) FindBlueprint(ctx context.Context, productType string) (Blueprint, error) {
	bps, err := c.Blueprints(ctx)
	if err != nil {
		return Blueprint{}, err
	}
	needle := strings.ToLower(strings.TrimSpace(productType))
	for _, bp := range bps {
		if needle != "" && strings.Contains(strings.ToLower(bp.Title), needle) {
			return bp, nil
		}
	}
	return Blueprint{}, fmt.Errorf("%w: %q", ErrBlueprintNotFound, productType)
}

// PrintProviders lists providers that can print a blueprint.
func (c *Client) PrintProviders(ctx context.Context, blueprintID int) ([]PrintProvider, error) {
	var providers []PrintProvider
	path := fmt.Sprintf("catalog/blueprints/%d/print_providers.json", blueprintID)
	err := c.call(ctx, "print_providers", http.MethodGet, path, nil, &providers)
	return providers, err
}

// Variants lists the variants a provider offers for a blueprint.
func (c *Client) Variants(ctx context.Context, blueprintID, providerID int) ([]Variant, error) {
	var resp struct {
		Variants []Variant `json:"variants"`
	}
	path := fmt.Sprintf("catalog/blueprints/%d/print_providers/%d/variants.json", blueprintID, providerID)
	err := c.call(ctx, "variants", http.MethodGet, path, nil, &resp)
	return resp.Variants, err
}

// FirstProviderVariant finds the first provider with at least one variant.
func (c *Client) FirstProviderVariant(ctx context.Context, blueprintID int) (int, Variant, error) {
	providers, err := c.PrintProviders(ctx, blueprintID)
	if err != nil {
		return 0, Variant{}, err
	}
	for _, p := range providers {
		variants, err := c.Variants(ctx, blueprintID, p.ID)
		if err != nil {
			return 0, Variant{}, err
		}
		if len(variants) > 0 {
			return p.ID, variants[0], nil
		}
	}
	return 0, Variant{}, fmt.Errorf("%w %d", ErrNoVariant, blueprintID)
}

// UploadImage uploads raw bytes and returns the Printify image id.
func (c *Client) UploadImage(ctx context.Context, fileName string, data []byte) (Image, error) {
	body := map[string]string{
		"file_name": fileName,
		"contents":  base64.StdEncoding.EncodeToString(data),
	}
	var img Image
	err := c.call(ctx, "uploads", http.MethodPost, "uploads/images.json", body, &img)
	return img, err
}

// UploadImageURL lets Printify fetch the image itself.
func (c *Client) UploadImageURL(ctx context.Context, fileName, imageURL string) (Image, error) {
	body := map[string]string{"file_name": fileName, "url": imageURL}
	var img Image
	err := c.call(ctx, "uploads", http.MethodPost, "uploads/images.json", body, &img)
	return img, err
}

// CreateProduct creates a product in shopID, or the default shop when empty.
func (c *Client) CreateProduct(ctx context.Context, shopID string, p NewProduct) (Product, error) {
	shop, err := c.shop(shopID)
	if err != nil {
		return Product{}, err
	}
	var out Product
	err = c.call(ctx, "products.create", http.MethodPost, "shops/"+shop+"/products.json", p, &out)
	return out, err
}

// PublishProduct pushes a product to the shop's sales channel.
func (c *Client) PublishProduct(ctx context.Context, shopID, productID string) error {
	shop, err := c.shop(shopID)
	if err != nil {
		return err
	}
	body := map[string]bool{"title": true, "description": true, "images": true, "variants": true, "tags": true}
	path := "shops/" + shop + "/products/" + url.PathEscape(productID) + "/publish.json"
	return c.call(ctx, "products.publish", http.MethodPost, path, body, nil)
}

// Products returns one page of the shop's products; limit is capped at MaxPageSize.
func (c *Client) Products(ctx context.Context, shopID string, limit, page int) ([]Product, error) {
	shop, err := c.shop(shopID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page < 1 {
		page = 1
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}, "page": {strconv.Itoa(page)}}
	var resp struct {
		Data []Product `json:"data"`
	}
	err = c.call(ctx, "products.list", http.MethodGet, "shops/"+shop+"/products.json?"+q.Encode(), nil, &resp)
	return resp.Data, err
}

// Product fetches one product.
func (c *Client) Product(ctx context.Context, shopID, productID string) (Product, error) {
	shop, err := c.shop(shopID)
	if err != nil {
		return Product{}, err
	}
	var p Product
	err = c.call(ctx, "products.get", http.MethodGet, "shops/"+shop+"/products/"+url.PathEscape(productID)+".json", nil, &p)
	return p, err
}

// Mockups returns every rendered image of a product ordered by position.
func (c *Client) Mockups(ctx context.Context, shopID, productID string) ([]Mockup, error) {
	p, err := c.Product(ctx, shopID, productID)
	if err != nil {
		return nil, err
	}
	out := make([]Mockup, 0, len(p.Images))
	for _, img := range p.Images {
		if img.Src == "" {
			continue
		}
		out = append(out, Mockup{Src: img.Src, IsDefault: img.IsDefault, Position: position(img.Position)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// position accepts the numeric or named positions the API returns.
func position(v any) int {
	switch p := v.(type) {
	case float64:
		return int(p)
	case string:
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return 0
}
