// Package ai generates marketing copy through an eino chat chain.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/logging"
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// WriteRequest is one copywriting call.
type WriteRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// TextGenerator produces copy. Writer is the production implementation.
type TextGenerator interface {
	Write(ctx context.Context, req WriteRequest) (string, error)
}

// Writer runs system+query prompts through a compiled chain.
type Writer struct {
	backend string
	chain   compose.Runnable[map[string]any, *schema.Message]
	logger  *zap.Logger
}

// NewWriter compiles the copywriting chain around chatModel.
func NewWriter(ctx context.Context, chatModel model.BaseChatModel, backend string, logger *zap.Logger) (*Writer, error) {
	if chatModel == nil {
		return nil, ErrNoBackend
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile writer chain: %w", err)
	}

	return &Writer{backend: backend, chain: runnable, logger: logger}, nil
}

// Backend names the model provider behind the chain.
func (w *Writer) Backend() string { return w.backend }

// Write returns the trimmed completion for req.
func (w *Writer) Write(ctx context.Context, req WriteRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("prompt is required")
	}
	system := req.System
	if strings.TrimSpace(system) == "" {
		system = "You are a helpful marketing copywriter."
	}

	var opts []model.Option
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(req.Temperature))
	}

	input := map[string]any{"system": system, "query": req.Prompt}
	msg, err := w.chain.Invoke(ctx, input, compose.WithChatModelOption(opts...))
	if err != nil {
		return "", fmt.Errorf("failed to run writer chain: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", ErrEmptyCompletion
	}

	logging.FromContextOr(ctx, w.logger).Debug("copy generated",
		zap.String("backend", w.backend),
		zap.Int("length", len(msg.Content)),
	)
	return strings.TrimSpace(msg.Content), nil
}
