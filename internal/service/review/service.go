// Package review scores generated marketing copy, preferring an LLM
// classifier and falling back to deterministic heuristics.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/analysis/copyscore"
	"github.com/autobiz/abp/backend/internal/logging"
)

// Result sources.
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// Config controls the review service.
type Config struct {
	Enabled bool
	// HistoryLimit caps how many earlier sections are shown to the classifier.
	HistoryLimit int
}

// Request is one piece of copy to review.
type Request struct {
	Kind     copyscore.Kind `json:"kind"`
	Label    string         `json:"label,omitempty"`
	Text     string         `json:"text"`
	Audience string         `json:"audience,omitempty"`
	// History holds earlier campaign sections, oldest first.
	History []string `json:"history,omitempty"`
}

// Result is the review outcome. Score is on a 0-10 scale.
type Result struct {
	Score       float64        `json:"score"`
	Tone        copyscore.Tone `json:"tone"`
	Suggestions []string       `json:"suggestions"`
	Source      string         `json:"source"`
}

// Service reviews copy.
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(text string, kind copyscore.Kind) copyscore.Assessment
	historyLimit int
	logger       *zap.Logger
}

// NewService builds the review service. chatModel may be nil, in which case
// every review is heuristic.
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     copyscore.Analyze,
		historyLimit: historyLimit,
		logger:       logger,
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(reviewSystemPrompt),
		schema.UserMessage(reviewUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile review classifier chain: %w", err)
	}
	svc.classifier = runnable
	return svc, nil
}

// Enabled reports whether the LLM classifier is in use.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Review scores req.Text. It never fails: classifier problems degrade to the
// heuristic result.
func (s *Service) Review(ctx context.Context, req Request) Result {
	if !s.Enabled() || strings.TrimSpace(req.Text) == "" {
		return s.fallbackResult(req)
	}
	logger := logging.FromContextOr(ctx, s.logger)

	label := req.Label
	if label == "" {
		label = string(req.Kind)
	}
	audience := strings.TrimSpace(req.Audience)
	if audience == "" {
		audience = "general online shoppers"
	}
	input := map[string]any{
		"label":    label,
		"audience": audience,
		"history":  formatHistory(req.History, s.historyLimit),
		"text":     strings.TrimSpace(req.Text),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		logger.Warn("review classifier failed, using heuristics", zap.Error(err))
		return s.fallbackResult(req)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallbackResult(req)
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		logger.Warn("review output unparseable, using heuristics", zap.Error(err))
		return s.fallbackResult(req)
	}
	tone, ok := parseTone(payload.Tone)
	if !ok || payload.Score == nil {
		return s.fallbackResult(req)
	}

	suggestions := make([]string, 0, len(payload.Suggestions))
	for _, sug := range payload.Suggestions {
		if sug = strings.TrimSpace(sug); sug != "" {
			suggestions = append(suggestions, sug)
		}
	}
	return Result{
		Score:       clampScore(*payload.Score),
		Tone:        tone,
		Suggestions: suggestions,
		Source:      SourceLLM,
	}
}

func (s *Service) fallbackResult(req Request) Result {
	a := s.fallback(req.Text, req.Kind)
	return Result{
		Score:       a.Score,
		Tone:        a.Tone,
		Suggestions: a.Suggestions,
		Source:      SourceHeuristic,
	}
}

type classifierPayload struct {
	Score       *float64 `json:"score"`
	Tone        string   `json:"tone"`
	Suggestions []string `json:"suggestions"`
}

func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func parseTone(raw string) (copyscore.Tone, bool) {
	switch tone := copyscore.Tone(strings.ToLower(strings.TrimSpace(raw))); tone {
	case copyscore.Neutral, copyscore.Professional, copyscore.Friendly, copyscore.Playful,
		copyscore.Urgent, copyscore.Luxury, copyscore.Inspirational:
		return tone, true
	default:
		return "", false
	}
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Round(math.Max(0, math.Min(10, v))*10) / 10
}

func formatHistory(history []string, limit int) string {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	var b strings.Builder
	for _, h := range history {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(clip(h, 400))
	}
	if b.Len() == 0 {
		return "(none)"
	}
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

const reviewSystemPrompt = "You are a senior marketing editor reviewing copy for a print-on-demand merch brand. Judge clarity, audience fit, brand voice and whether the copy drives action.\nAnswer with a single JSON object and nothing else: score (number from 0 to 10), tone (one of neutral/professional/friendly/playful/urgent/luxury/inspirational), suggestions (array of at most five short, concrete improvements)."

const reviewUserPrompt = "Content type: {label}\nTarget audience: {audience}\n\nEarlier campaign material:\n{history}\n\nCopy to review:\n{text}\n\nReturn the JSON now."
