// Package media holds the payloads of the media generation job kinds.
package media

// Job kinds that produce media.
const (
	KindImage  = "media.image"
	KindVideo  = "media.video"
	KindText   = "media.text"
	KindSpeech = "media.speech"
)

// Delivery controls what happens with a generated asset.
type Delivery struct {
	// Save downloads the asset into the file library.
	Save bool `json:"save,omitempty"`
	// Name is the library file name; empty generates one.
	Name string `json:"name,omitempty"`
	// BrandTemplate is applied to the prompt before generation.
	BrandTemplate string `json:"brandTemplate,omitempty"`
}

// ImageRequest 图片生成请求
type ImageRequest struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model,omitempty"`
	AspectRatio    string  `json:"aspectRatio,omitempty"` // 1:1, 16:9, ...
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	OutputFormat   string  `json:"outputFormat,omitempty"` // webp, png, jpg
	Guidance       float64 `json:"guidance,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Seed           *int    `json:"seed,omitempty"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
	Delivery
}

// VideoRequest 视频生成请求，ImageURL 不为空时为图生视频
type VideoRequest struct {
	Prompt      string `json:"prompt,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Duration    int    `json:"duration,omitempty"` // seconds
	Delivery
}

// TextRequest 文本生成请求
type TextRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Premium      bool    `json:"premium,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	Delivery
}

// SpeechRequest 语音合成请求
type SpeechRequest struct {
	Text    string  `json:"text"`
	Model   string  `json:"model,omitempty"`
	Voice   string  `json:"voice,omitempty"`
	Speed   float64 `json:"speed,omitempty"` // 0.5-2.0
	Emotion string  `json:"emotion,omitempty"`
	Format  string  `json:"format,omitempty"` // mp3, wav
	Delivery
}
