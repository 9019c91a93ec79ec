package media

import "time"

// Asset 生成结果。URL 为远端地址，File 为保存到文件库后的文件名。
type Asset struct {
	Kind      string    `json:"kind"`
	URL       string    `json:"url,omitempty"`
	Text      string    `json:"text,omitempty"`
	Category  string    `json:"category,omitempty"`
	File      string    `json:"file,omitempty"`
	// SaveError is set when generation succeeded but the library copy failed;
	// URL or Text still carries the result.
	SaveError string    `json:"saveError,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Duration  int64     `json:"duration"` // milliseconds
	CreatedAt time.Time `json:"createdAt"`
}
