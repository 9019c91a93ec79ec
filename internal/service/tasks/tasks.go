// Package tasks registers every job kind the platform can run on an
// executor registry. The api process and the workers share this wiring.
package tasks

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/model/media"
	"github.com/autobiz/abp/backend/internal/provider/printify"
	"github.com/autobiz/abp/backend/internal/provider/replicate"
	"github.com/autobiz/abp/backend/internal/provider/shopify"
	"github.com/autobiz/abp/backend/internal/service/ai"
	"github.com/autobiz/abp/backend/internal/service/campaign"
	"github.com/autobiz/abp/backend/internal/service/library"
)

// Job kinds beyond the media ones.
const (
	KindCampaign = "campaign.generate"
	KindProduct  = "product.create"
	KindBlog     = "blog.publish"
)

// MediaGenerator runs hosted generation models. *replicate.Client satisfies it.
type MediaGenerator interface {
	GenerateImage(ctx context.Context, req replicate.ImageRequest) (string, error)
	GenerateVideo(ctx context.Context, req replicate.VideoRequest) (string, error)
	GenerateText(ctx context.Context, req replicate.TextRequest) (string, error)
	GenerateSpeech(ctx context.Context, req replicate.SpeechRequest) (string, error)
}

// Library stores generated assets. *library.Service satisfies it.
type Library interface {
	Save(ctx context.Context, category library.Category, name string, r io.Reader) (library.Entry, error)
	Download(ctx context.Context, category library.Category, rawURL, name string) (library.Entry, error)
}

// Printify is the subset of the Printify client used to create products.
type Printify interface {
	FindBlueprint(ctx context.Context, productType string) (printify.Blueprint, error)
	FirstProviderVariant(ctx context.Context, blueprintID int) (int, printify.Variant, error)
	UploadImageURL(ctx context.Context, fileName, imageURL string) (printify.Image, error)
	CreateProduct(ctx context.Context, shopID string, p printify.NewProduct) (printify.Product, error)
	PublishProduct(ctx context.Context, shopID, productID string) error
	Mockups(ctx context.Context, shopID, productID string) ([]printify.Mockup, error)
}

// Shopify is the subset of the Shopify client used for listings and posts.
type Shopify interface {
	CreateProduct(ctx context.Context, p shopify.NewProduct) (shopify.Product, error)
	CreateArticle(ctx context.Context, a shopify.NewArticle) (shopify.Article, error)
}

// Campaigns generates campaigns. *campaign.Service satisfies it.
type Campaigns interface {
	Generate(ctx context.Context, req campaign.Request) (campaign.Result, error)
}

// Deps are the services job handlers call. Kinds whose dependencies are nil
// are not registered.
type Deps struct {
	Media     MediaGenerator
	Writer    ai.TextGenerator
	Library   Library
	Brands    campaign.PromptEnhancer
	Printify  Printify
	Shopify   Shopify
	Campaigns Campaigns
	Logger    *zap.Logger
}

type handlers struct {
	Deps
	prompts *ai.PromptManager
}

// Register adds the kinds d can serve to reg.
func Register(reg *executor.Registry, d Deps) error {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &handlers{Deps: d, prompts: ai.NewPromptManager()}

	var kinds []executor.Kind
	if d.Media != nil {
		kinds = append(kinds,
			executor.Kind{Name: media.KindImage, Description: "Generate an image", Profile: executor.ImageProfile, Handler: executor.Typed(h.image)},
			executor.Kind{Name: media.KindVideo, Description: "Generate a video", Profile: executor.VideoProfile, Handler: executor.Typed(h.video)},
			executor.Kind{Name: media.KindSpeech, Description: "Synthesize speech", Profile: executor.TextProfile, Handler: executor.Typed(h.speech)},
		)
	}
	if d.Media != nil || d.Writer != nil {
		kinds = append(kinds, executor.Kind{Name: media.KindText, Description: "Generate copy", Profile: executor.TextProfile, Handler: executor.Typed(h.text)})
	}
	if d.Printify != nil {
		kinds = append(kinds, executor.Kind{Name: KindProduct, Description: "Create a print-on-demand product", Profile: executor.ProductProfile, Handler: executor.Typed(h.product)})
	}
	if d.Shopify != nil {
		kinds = append(kinds, executor.Kind{Name: KindBlog, Description: "Publish a store blog post", Profile: executor.BlogProfile, Handler: executor.Typed(h.blog)})
	}
	if d.Campaigns != nil {
		kinds = append(kinds, executor.Kind{
			Name:        KindCampaign,
			Description: "Generate a complete marketing campaign",
			Profile:     executor.CampaignProfile,
			LocalOnly:   true,
			Handler:     executor.Typed(d.Campaigns.Generate),
		})
	}

	for _, k := range kinds {
		if err := reg.Register(k); err != nil {
			return fmt.Errorf("register tasks: %w", err)
		}
	}
	return nil
}
