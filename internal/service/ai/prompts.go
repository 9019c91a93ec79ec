package ai

import (
	"fmt"
	"strings"
)

// Brief is the shared context every campaign prompt is built from.
type Brief struct {
	Product   string
	Audience  string
	Budget    float64
	Platforms []string
	// BrandHint is the brand template's prompt modifier, if any.
	BrandHint string
}

// PromptTemplate describes one kind of generated copy.
type PromptTemplate struct {
	SystemPrompt string
	Task         string
	Sections     []string
	Closing      string
	MaxTokens    int
	Temperature  float32
}

// Prompt names.
const (
	PromptConcept   = "concept"
	PromptPlan      = "plan"
	PromptResources = "resources"
	PromptRecap     = "recap"
	PromptEnhance   = "enhance"
	PromptProduct   = "product"
	PromptBlog      = "blog"
)

const strategistSystem = "You are a business strategist and marketer for a small print-on-demand brand. Write concise, specific, actionable copy. Never mention AI or automation."

// PromptManager holds the copy templates.
type PromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPromptManager returns a manager loaded with the default templates.
func NewPromptManager() *PromptManager {
	pm := &PromptManager{templates: make(map[string]*PromptTemplate)}
	pm.loadDefaultTemplates()
	return pm
}

// Template returns the named template.
func (pm *PromptManager) Template(name string) (*PromptTemplate, error) {
	t, ok := pm.templates[name]
	if !ok {
		return nil, fmt.Errorf("prompt template not found: %s", name)
	}
	return t, nil
}

// Build renders the named template for brief. reference carries earlier
// campaign output and is truncated to keep prompts short.
func (pm *PromptManager) Build(name string, brief Brief, reference string) (WriteRequest, error) {
	t, err := pm.Template(name)
	if err != nil {
		return WriteRequest{}, err
	}

	var b strings.Builder
	b.WriteString(t.Task)
	b.WriteString("\n\n")
	if brief.Product != "" {
		fmt.Fprintf(&b, "Design theme / product: %s\n", brief.Product)
	}
	if brief.Audience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", brief.Audience)
	}
	if brief.Budget > 0 {
		fmt.Fprintf(&b, "Marketing budget: $%.2f\n", brief.Budget)
	}
	if len(brief.Platforms) > 0 {
		fmt.Fprintf(&b, "Platforms: %s\n", strings.Join(brief.Platforms, ", "))
	}
	if brief.BrandHint != "" {
		fmt.Fprintf(&b, "Brand style: %s\n", brief.BrandHint)
	}
	if ref := strings.TrimSpace(reference); ref != "" {
		b.WriteString("\nEarlier campaign material:\n")
		b.WriteString(clip(ref, 600))
		b.WriteString("\n")
	}
	if len(t.Sections) > 0 {
		b.WriteString("\nCover:\n")
		for i, s := range t.Sections {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	if t.Closing != "" {
		b.WriteString("\n")
		b.WriteString(t.Closing)
	}

	return WriteRequest{
		System:      t.SystemPrompt,
		Prompt:      strings.TrimSpace(b.String()),
		MaxTokens:   t.MaxTokens,
		Temperature: t.Temperature,
	}, nil
}

// EnhanceRequest asks the model to review and improve content of kind.
func (pm *PromptManager) EnhanceRequest(kind, content string) WriteRequest {
	t := pm.templates[PromptEnhance]
	prompt := fmt.Sprintf("%s\n\nContent type: %s\n\nContent:\n%s\n\n%s", t.Task, kind, content, t.Closing)
	return WriteRequest{System: t.SystemPrompt, Prompt: prompt, MaxTokens: t.MaxTokens, Temperature: t.Temperature}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates[PromptConcept] = &PromptTemplate{
		SystemPrompt: strategistSystem,
		Task:         "Create a design collection concept for print-on-demand merchandise. The design is printed on existing products such as mugs, t-shirts, hoodies, hats, tote bags and phone cases.",
		Sections: []string{
			"Collection name",
			"Artistic style",
			"Color palette and mood",
			"Three to five design variations",
			"Who loves this aesthetic",
			"Best product applications",
			"Marketing angle",
		},
		Closing:     "Make it compelling for a dropshipping merch store.",
		MaxTokens:   600,
		Temperature: 0.85,
	}

	pm.templates[PromptPlan] = &PromptTemplate{
		SystemPrompt: strategistSystem,
		Task:         "Create a marketing execution plan for launching this design collection through Printify and Shopify.",
		Sections: []string{
			"Week-by-week launch timeline",
			"Design reveal strategy per platform",
			"Product mockup content",
			"Audience targeting",
			"Collection drop tactics",
			"Budget allocation",
			"Key milestones",
		},
		Closing:     "Be specific and tactical. Market the artwork, not product features.",
		MaxTokens:   800,
		Temperature: 0.7,
	}

	pm.templates[PromptResources] = &PromptTemplate{
		SystemPrompt: strategistSystem,
		Task:         "Create a resource guide for launching this design collection on Printify and Shopify.",
		Sections: []string{
			"Printify setup and pricing",
			"Shopify collection page optimisation",
			"Mockup and social template tools",
			"Announcement and shop-the-look copy templates",
			"Community building",
			"Quick wins",
		},
		MaxTokens:   700,
		Temperature: 0.7,
	}

	pm.templates[PromptRecap] = &PromptTemplate{
		SystemPrompt: strategistSystem,
		Task:         "Write a campaign recap for this design collection launch.",
		Sections: []string{
			"Executive summary",
			"Design variations and styles",
			"Product coverage",
			"Launch strategy",
			"Channel plan",
			"Success metrics",
			"Next steps",
		},
		MaxTokens:   700,
		Temperature: 0.7,
	}

	pm.templates[PromptEnhance] = &PromptTemplate{
		SystemPrompt: "You are a senior marketing editor. Improve drafts without changing their facts.",
		Task:         "Review and improve the following draft.",
		Closing:      "Return a short assessment (strengths, weaknesses) followed by the improved version.",
		MaxTokens:    800,
		Temperature:  0.7,
	}

	pm.templates[PromptProduct] = &PromptTemplate{
		SystemPrompt: "You write short, vivid product descriptions for an online merch store.",
		Task:         "Write a product title on the first line, then a two-paragraph description.",
		Closing:      "Plain text, no markdown. End with a call to action.",
		MaxTokens:    400,
		Temperature:  0.8,
	}

	pm.templates[PromptBlog] = &PromptTemplate{
		SystemPrompt: "You write friendly, SEO-aware blog posts for a small online brand.",
		Task:         "Write a blog post announcing this collection. Use simple HTML: <h2>, <p> and <ul> only.",
		Closing:      "Finish with a call to action linking readers to the shop.",
		MaxTokens:    1200,
		Temperature:  0.75,
	}
}
