package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/model/media"
	"github.com/autobiz/abp/backend/internal/provider/printify"
	"github.com/autobiz/abp/backend/internal/provider/shopify"
	"github.com/autobiz/abp/backend/internal/service/ai"
	"github.com/autobiz/abp/backend/internal/service/library"
)

const (
	defaultProductType = "mug"
	defaultPriceCents  = 2500
	designScale        = 0.85
)

var (
	ErrTitleRequired  = errors.New("title is required")
	ErrArtworkMissing = errors.New("image url or prompt is required")
	ErrShopifyMissing = errors.New("shopify is not configured")
)

// ProductRequest creates a print-on-demand product from artwork. Without an
// image URL the artwork is generated from Prompt first.
type ProductRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	ProductType   string   `json:"productType,omitempty"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	Prompt        string   `json:"prompt,omitempty"`
	BrandTemplate string   `json:"brandTemplate,omitempty"`
	PriceCents    int      `json:"priceCents,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	ShopID        string   `json:"shopId,omitempty"`
	Publish       bool     `json:"publish,omitempty"`
	// Shopify also lists the product in the Shopify store.
	Shopify bool `json:"shopify,omitempty"`
}

// ProductResult reports what was created.
type ProductResult struct {
	PrintifyID    string   `json:"printifyId"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ImageURL      string   `json:"imageUrl"`
	BlueprintID   int      `json:"blueprintId"`
	ProviderID    int      `json:"providerId"`
	VariantID     int      `json:"variantId"`
	PriceCents    int      `json:"priceCents"`
	Mockups       []string `json:"mockups,omitempty"`
	Published     bool     `json:"published"`
	ShopifyID     int64    `json:"shopifyId,omitempty"`
	ShopifyHandle string   `json:"shopifyHandle,omitempty"`
}

func (h *handlers) product(ctx context.Context, req ProductRequest) (ProductResult, error) {
	logger := logging.FromContextOr(ctx, h.Logger)
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return ProductResult{}, ErrTitleRequired
	}
	if req.ImageURL == "" && strings.TrimSpace(req.Prompt) == "" {
		return ProductResult{}, ErrArtworkMissing
	}
	if req.Shopify && h.Shopify == nil {
		return ProductResult{}, ErrShopifyMissing
	}
	if req.ProductType == "" {
		req.ProductType = defaultProductType
	}
	if req.PriceCents <= 0 {
		req.PriceCents = defaultPriceCents
	}

	if req.ImageURL == "" {
		if h.Media == nil {
			return ProductResult{}, fmt.Errorf("%w: no image generator", ErrArtworkMissing)
		}
		executor.ReportProgress(ctx, 0.05, "generating artwork")
		asset, err := h.image(ctx, media.ImageRequest{
			Prompt:      req.Prompt,
			AspectRatio: "1:1",
			Delivery: media.Delivery{
				Save:          h.Library != nil,
				Name:          library.SanitizeFilename(req.Title) + ".png",
				BrandTemplate: req.BrandTemplate,
			},
		})
		if err != nil {
			return ProductResult{}, fmt.Errorf("generate artwork: %w", err)
		}
		req.ImageURL = asset.URL
	}

	if strings.TrimSpace(req.Description) == "" && h.Writer != nil {
		executor.ReportProgress(ctx, 0.25, "writing description")
		desc, err := h.describe(ctx, req)
		if err != nil {
			logger.Warn("product description failed, using title", zap.Error(err))
			desc = req.Title
		}
		req.Description = desc
	}

	executor.ReportProgress(ctx, 0.4, "resolving blueprint")
	bp, err := h.Printify.FindBlueprint(ctx, req.ProductType)
	if err != nil {
		return ProductResult{}, err
	}
	providerID, variant, err := h.Printify.FirstProviderVariant(ctx, bp.ID)
	if err != nil {
		return ProductResult{}, err
	}

	executor.ReportProgress(ctx, 0.55, "uploading artwork")
	img, err := h.Printify.UploadImageURL(ctx, library.SanitizeFilename(req.Title)+".png", req.ImageURL)
	if err != nil {
		return ProductResult{}, err
	}

	executor.ReportProgress(ctx, 0.7, "creating product")
	created, err := h.Printify.CreateProduct(ctx, req.ShopID, printify.NewProduct{
		Title:           req.Title,
		Description:     req.Description,
		Tags:            req.Tags,
		BlueprintID:     bp.ID,
		PrintProviderID: providerID,
		Variants:        []printify.ProductVariant{{ID: variant.ID, Price: req.PriceCents, IsEnabled: true}},
		PrintAreas: []printify.PrintArea{{
			VariantIDs: []int{variant.ID},
			Placeholders: []printify.Placeholder{{
				Position: "front",
				Images:   []printify.PlaceholderImage{{ID: img.ID, X: 0.5, Y: 0.5, Scale: designScale}},
			}},
		}},
	})
	if err != nil {
		return ProductResult{}, err
	}

	res := ProductResult{
		PrintifyID:  created.ID,
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		BlueprintID: bp.ID,
		ProviderID:  providerID,
		VariantID:   variant.ID,
		PriceCents:  req.PriceCents,
	}

	if req.Publish {
		executor.ReportProgress(ctx, 0.8, "publishing")
		if err := h.Printify.PublishProduct(ctx, req.ShopID, created.ID); err != nil {
			return res, fmt.Errorf("publish product %s: %w", created.ID, err)
		}
		res.Published = true
	}

	mockups, err := h.Printify.Mockups(ctx, req.ShopID, created.ID)
	if err != nil {
		logger.Warn("mockups unavailable", zap.String("product", created.ID), zap.Error(err))
	}
	for _, m := range mockups {
		res.Mockups = append(res.Mockups, m.Src)
	}

	if req.Shopify {
		executor.ReportProgress(ctx, 0.9, "listing on shopify")
		images := res.Mockups
		if len(images) == 0 {
			images = []string{req.ImageURL}
		}
		listing, err := h.Shopify.CreateProduct(ctx, shopify.NewProduct{
			Title:       req.Title,
			BodyHTML:    "<p>" + req.Description + "</p>",
			ProductType: req.ProductType,
			Tags:        req.Tags,
			ImageURLs:   images,
			Variants:    []shopify.ProductVariant{{Price: fmt.Sprintf("%.2f", float64(req.PriceCents)/100)}},
		})
		if err != nil {
			return res, fmt.Errorf("shopify listing: %w", err)
		}
		res.ShopifyID = listing.ID
		res.ShopifyHandle = listing.Handle
	}

	logger.Info("product created",
		zap.String("printifyId", res.PrintifyID),
		zap.Int("blueprint", res.BlueprintID),
		zap.Bool("published", res.Published),
		zap.Int64("shopifyId", res.ShopifyID),
	)
	return res, nil
}

func (h *handlers) describe(ctx context.Context, req ProductRequest) (string, error) {
	brief := ai.Brief{Product: req.Title}
	if hint, err := h.brand(req.BrandTemplate, "", "marketing"); err == nil {
		brief.BrandHint = hint
	}
	wr, err := h.prompts.Build(ai.PromptProduct, brief, req.Prompt)
	if err != nil {
		return "", err
	}
	text, err := h.Writer.Write(ctx, wr)
	if err != nil {
		return "", err
	}
	// the first line is a title suggestion
	if _, body, ok := strings.Cut(text, "\n"); ok && strings.TrimSpace(body) != "" {
		text = body
	}
	return strings.TrimSpace(text), nil
}

// BlogRequest publishes an article to the Shopify store. An empty body is
// written from Topic.
type BlogRequest struct {
	Title         string   `json:"title"`
	Topic         string   `json:"topic,omitempty"`
	BodyHTML      string   `json:"bodyHtml,omitempty"`
	Author        string   `json:"author,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	BlogID        int64    `json:"blogId,omitempty"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	BrandTemplate string   `json:"brandTemplate,omitempty"`
	Publish       bool     `json:"publish,omitempty"`
}

func (h *handlers) blog(ctx context.Context, req BlogRequest) (shopify.Article, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return shopify.Article{}, ErrTitleRequired
	}
	body := strings.TrimSpace(req.BodyHTML)
	if body == "" {
		if h.Writer == nil {
			return shopify.Article{}, ai.ErrNoBackend
		}
		topic := req.Topic
		if topic == "" {
			topic = req.Title
		}
		brief := ai.Brief{Product: topic}
		if hint, err := h.brand(req.BrandTemplate, "", "marketing"); err == nil {
			brief.BrandHint = hint
		}
		wr, err := h.prompts.Build(ai.PromptBlog, brief, "")
		if err != nil {
			return shopify.Article{}, err
		}
		executor.ReportProgress(ctx, 0.2, "writing post")
		body, err = h.Writer.Write(ctx, wr)
		if err != nil {
			return shopify.Article{}, fmt.Errorf("write post: %w", err)
		}
	}

	executor.ReportProgress(ctx, 0.7, "publishing post")
	article, err := h.Shopify.CreateArticle(ctx, shopify.NewArticle{
		BlogID:    req.BlogID,
		Title:     req.Title,
		BodyHTML:  body,
		Author:    req.Author,
		Tags:      req.Tags,
		ImageURL:  req.ImageURL,
		Published: req.Publish,
	})
	if err != nil {
		return shopify.Article{}, err
	}
	logging.FromContextOr(ctx, h.Logger).Info("blog post created", zap.Int64("id", article.ID), zap.String("url", article.URL))
	return article, nil
}
