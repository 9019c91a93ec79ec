package usage

import (
	"sort"
	"strings"
)

const defaultKey = "_default"

// fallbackCost applies to providers missing from the table.
const fallbackCost = 0.01

// CostTable maps provider -> model -> flat price per call in USD.
type CostTable map[string]map[string]float64

// DefaultCosts are rough per-call estimates for the models the platform uses.
func DefaultCosts() CostTable {
	return CostTable{
		"replicate": {
			// image, per image
			"black-forest-labs/flux-schnell":                0.003,
			"black-forest-labs/flux-dev":                    0.025,
			"black-forest-labs/flux-1.1-pro":                0.04,
			"black-forest-labs/flux-kontext-pro":            0.04,
			"prunaai/flux-fast":                             0.005,
			"stability-ai/sdxl":                             0.01,
			"stability-ai/stable-diffusion-3":               0.035,
			"playgroundai/playground-v2.5-1024px-aesthetic": 0.01,

			// video
			"minimax/video-01":                    0.25,
			"luma/ray":                            0.20,
			"stability-ai/stable-video-diffusion": 0.15,
			"fofr/kling-v1.6-pro":                 0.30,
			"kwaivgi/kling-v2.5-turbo-pro":        0.30,
			"openai/sora-2":                       0.50,

			// text
			"openai/gpt-4.1":                 0.01,
			"openai/gpt-4.1-nano":            0.005,
			"meta/llama-2-70b":               0.01,
			"meta/meta-llama-3-70b-instruct": 0.01,
			"anthropic/claude-4.5-sonnet":    0.03,
			"mistralai/mistral-7b-instruct":  0.005,

			// editing
			"nightmareai/real-esrgan":        0.005,
			"philz1337x/clarity-upscaler":    0.02,
			"cjwbw/rembg":                    0.002,
			"timothybrooks/instruct-pix2pix": 0.01,

			// audio
			"meta/musicgen":        0.02,
			"lucataco/xtts-v2":     0.01,
			"suno/bark":            0.015,
			"minimax/speech-02-hd": 0.01,

			defaultKey: 0.01,
		},
		// commerce APIs are not billed per call
		"printify": {defaultKey: 0},
		"shopify":  {defaultKey: 0},
	}
}

// Estimate prices a call: exact model match, then substring match in either
// direction (longest key wins), then the provider default.
func (t CostTable) Estimate(provider, model string) float64 {
	models, ok := t[provider]
	if !ok {
		return fallbackCost
	}
	if cost, ok := models[model]; ok && model != defaultKey {
		return cost
	}

	keys := make([]string, 0, len(models))
	for k := range models {
		if k != defaultKey {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	if model != "" {
		for _, k := range keys {
			if strings.Contains(model, k) || strings.Contains(k, model) {
				return models[k]
			}
		}
	}

	if cost, ok := models[defaultKey]; ok {
		return cost
	}
	return fallbackCost
}
