// Package shopify wraps the parts of the Shopify Admin REST API the platform
// publishes to: shop info, products and blog articles.
package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
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

const provider = "shopify"

// MaxPageSize is the Admin API page limit.
const MaxPageSize = 250

// DefaultBlogHandle is used when the store has no blog yet.
const DefaultBlogHandle = "news"

var ErrTitleRequired = errors.New("title is required")

type Shop struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Domain   string `json:"domain"`
	Currency string `json:"currency"`
	PlanName string `json:"plan_name"`
}

type ProductImage struct {
	ID  int64  `json:"id,omitempty"`
	Src string `json:"src"`
}

type ProductVariant struct {
	ID    int64  `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Price string `json:"price,omitempty"`
	SKU   string `json:"sku,omitempty"`
}

type Product struct {
	ID          int64            `json:"id,omitempty"`
	Title       string           `json:"title"`
	BodyHTML    string           `json:"body_html,omitempty"`
	Vendor      string           `json:"vendor,omitempty"`
	ProductType string           `json:"product_type,omitempty"`
	Handle      string           `json:"handle,omitempty"`
	Tags        string           `json:"tags,omitempty"`
	Status      string           `json:"status,omitempty"`
	Images      []ProductImage   `json:"images,omitempty"`
	Variants    []ProductVariant `json:"variants,omitempty"`
	CreatedAt   string           `json:"created_at,omitempty"`
}

// NewProduct describes a product to create. Tags are joined with ", ".
type NewProduct struct {
	Title       string
	BodyHTML    string
	Vendor      string
	ProductType string
	Tags        []string
	ImageURLs   []string
	Variants    []ProductVariant
}

type Blog struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Handle string `json:"handle"`
}

type ArticleImage struct {
	Src string `json:"src"`
}

type Article struct {
	ID          int64         `json:"id,omitempty"`
	BlogID      int64         `json:"blog_id,omitempty"`
	Title       string        `json:"title"`
	Author      string        `json:"author,omitempty"`
	BodyHTML    string        `json:"body_html,omitempty"`
	Handle      string        `json:"handle,omitempty"`
	Tags        string        `json:"tags,omitempty"`
	Published   *bool         `json:"published,omitempty"`
	PublishedAt string        `json:"published_at,omitempty"`
	Image       *ArticleImage `json:"image,omitempty"`
	// URL is filled in by the client, the API does not return it.
	URL string `json:"url,omitempty"`
}

// NewArticle describes a blog post. BlogID zero posts to the first blog,
// creating a "News" blog when the store has none.
type NewArticle struct {
	BlogID    int64
	Title     string
	BodyHTML  string
	Author    string
	Tags      []string
	Handle    string
	ImageURL  string
	Published bool
}

// Client talks to one store's Admin API.
type Client struct {
	cfg      config.ShopifyConfig
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

// New builds a client for cfg.ShopURL. The shop URL may be a bare domain
// ("acme.myshopify.com") or carry its own scheme.
func New(cfg config.ShopifyConfig, opts ...Option) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-01"
	}
	token := cfg.AccessToken
	c := &Client{
		cfg: cfg,
		api: httpjson.New(provider, adminBase(cfg), 30*time.Second, func(r *http.Request) {
			r.Header.Set("X-Shopify-Access-Token", token)
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

func adminBase(cfg config.ShopifyConfig) string {
	return storefront(cfg.ShopURL) + "/admin/api/" + cfg.APIVersion
}

func storefront(shopURL string) string {
	shop := strings.TrimRight(strings.TrimSpace(shopURL), "/")
	if shop == "" {
		return ""
	}
	if !strings.Contains(shop, "://") {
		shop = "https://" + shop
	}
	return shop
}

func (c *Client) Enabled() bool { return c.cfg.Enabled() }

func (c *Client) call(ctx context.Context, endpoint, method, path string, in, out any) error {
	if !c.Enabled() {
		return apierr.ErrNotConfigured
	}
	start := time.Now()
	_, err := retry.Do(ctx, c.policy, "shopify."+endpoint, func(ctx context.Context) (struct{}, error) {
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
		logging.FromContextOr(ctx, c.logger).Warn("shopify call failed", zap.String("endpoint", endpoint), zap.Error(err))
	}
	if _, terr := c.recorder.Track(ctx, rec); terr != nil {
		logging.FromContextOr(ctx, c.logger).Debug("usage tracking failed", zap.Error(terr))
	}
	return err
}

// Shop returns the store's profile; it doubles as the connection test.
func (c *Client) Shop(ctx context.Context) (Shop, error) {
	var resp struct {
		Shop Shop `json:"shop"`
	}
	err := c.call(ctx, "shop", http.MethodGet, "shop.json", nil, &resp)
	return resp.Shop, err
}

// Products returns up to limit products; limit is capped at MaxPageSize.
func (c *Client) Products(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = 50
	}
	var resp struct {
		Products []Product `json:"products"`
	}
	err := c.call(ctx, "products.list", http.MethodGet, "products.json?limit="+strconv.Itoa(limit), nil, &resp)
	return resp.Products, err
}

// CreateProduct creates a product; the vendor defaults to "My Store".
func (c *Client) CreateProduct(ctx context.Context, p NewProduct) (Product, error) {
	if strings.TrimSpace(p.Title) == "" {
		return Product{}, ErrTitleRequired
	}
	body := Product{
		Title:       p.Title,
		BodyHTML:    p.BodyHTML,
		Vendor:      p.Vendor,
		ProductType: p.ProductType,
		Tags:        strings.Join(p.Tags, ", "),
		Variants:    p.Variants,
	}
	if body.Vendor == "" {
		body.Vendor = "My Store"
	}
	for _, src := range p.ImageURLs {
		body.Images = append(body.Images, ProductImage{Src: src})
	}

	var resp struct {
		Product Product `json:"product"`
	}
	err := c.call(ctx, "products.create", http.MethodPost, "products.json", map[string]any{"product": body}, &resp)
	return resp.Product, err
}

// Blogs lists the store's blogs.
func (c *Client) Blogs(ctx context.Context) ([]Blog, error) {
	var resp struct {
		Blogs []Blog `json:"blogs"`
	}
	err := c.call(ctx, "blogs.list", http.MethodGet, "blogs.json", nil, &resp)
	return resp.Blogs, err
}

// CreateBlog creates a blog with an optional handle.
func (c *Client) CreateBlog(ctx context.Context, title, handle string) (Blog, error) {
	blog := map[string]string{"title": title}
	if handle != "" {
		blog["handle"] = handle
	}
	var resp struct {
		Blog Blog `json:"blog"`
	}
	err := c.call(ctx, "blogs.create", http.MethodPost, "blogs.json", map[string]any{"blog": blog}, &resp)
	return resp.Blog, err
}

// Articles lists posts of one blog.
func (c *Client) Articles(ctx context.Context, blogID int64, limit int) ([]Article, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = 50
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	var resp struct {
		Articles []Article `json:"articles"`
	}
	path := fmt.Sprintf("blogs/%d/articles.json?%s", blogID, q.Encode())
	err := c.call(ctx, "articles.list", http.MethodGet, path, nil, &resp)
	return resp.Articles, err
}

// CreateArticle publishes a post and fills in its public URL.
func (c *Client) CreateArticle(ctx context.Context, a NewArticle) (Article, error) {
	if strings.TrimSpace(a.Title) == "" {
		return Article{}, ErrTitleRequired
	}

	blogID, blogHandle, err := c.targetBlog(ctx, a.BlogID)
	if err != nil {
		return Article{}, err
	}

	published := a.Published
	body := Article{
		Title:     a.Title,
		Author:    a.Author,
		BodyHTML:  a.BodyHTML,
		Handle:    a.Handle,
		Tags:      strings.Join(a.Tags, ", "),
		Published: &published,
	}
	if body.Author == "" {
		body.Author = "AI Blog Writer"
	}
	if a.ImageURL != "" {
		body.Image = &ArticleImage{Src: a.ImageURL}
	}

	var resp struct {
		Article Article `json:"article"`
	}
	path := fmt.Sprintf("blogs/%d/articles.json", blogID)
	if err := c.call(ctx, "articles.create", http.MethodPost, path, map[string]any{"article": body}, &resp); err != nil {
		return Article{}, err
	}

	out := resp.Article
	handle := out.Handle
	if handle == "" {
		handle = strconv.FormatInt(out.ID, 10)
	}
	out.URL = storefront(c.cfg.ShopURL) + "/blogs/" + blogHandle + "/" + handle
	return out, nil
}

func (c *Client) targetBlog(ctx context.Context, blogID int64) (int64, string, error) {
	blogs, err := c.Blogs(ctx)
	if err != nil {
		return 0, "", err
	}
	if blogID != 0 {
		for _, b := range blogs {
			if b.ID == blogID {
				return b.ID, or(b.Handle, DefaultBlogHandle), nil
			}
		}
		return blogID, DefaultBlogHandle, nil
	}
	if len(blogs) > 0 {
		return blogs[0].ID, or(blogs[0].Handle, DefaultBlogHandle), nil
	}

	logging.FromContextOr(ctx, c.logger).Info("store has no blog, creating one")
	blog, err := c.CreateBlog(ctx, "News", DefaultBlogHandle)
	if err != nil {
		return 0, "", fmt.Errorf("create default blog: %w", err)
	}
	return blog.ID, or(blog.Handle, DefaultBlogHandle), nil
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
