package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/autobiz/abp/backend/internal/config"
	"github.com/autobiz/abp/backend/internal/provider/replicate"
)

// Backend names.
const (
	BackendArk       = "ark"
	BackendReplicate = "replicate"
)

// ErrNoBackend means neither Ark nor Replicate credentials are configured.
var ErrNoBackend = errors.New("no text generation backend configured")

// NewChatModel picks the chat model used by writer and review chains: Ark
// when configured, otherwise text models hosted on Replicate.
func NewChatModel(ctx context.Context, cfg config.AIConfig, rep *replicate.Client) (model.BaseChatModel, string, error) {
	if cfg.Enabled() {
		m, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, "", err
		}
		return m, BackendArk, nil
	}
	if rep != nil && rep.Enabled() {
		return NewReplicateChatModel(rep, false), BackendReplicate, nil
	}
	return nil, "", ErrNoBackend
}

// ReplicateChatModel adapts replicate text generation to the eino chat model
// interface. The conversation is flattened into one prompt.
type ReplicateChatModel struct {
	client  *replicate.Client
	premium bool
}

// NewReplicateChatModel wraps client; premium selects the premium text model.
func NewReplicateChatModel(client *replicate.Client, premium bool) *ReplicateChatModel {
	return &ReplicateChatModel{client: client, premium: premium}
}

// Generate runs one text prediction.
func (m *ReplicateChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{}, opts...)
	req := flatten(input)
	req.Premium = m.premium
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if options.Temperature != nil {
		req.Temperature = float64(*options.Temperature)
	}
	if options.TopP != nil {
		req.TopP = float64(*options.TopP)
	}
	if options.Model != nil {
		req.Model = *options.Model
	}

	text, err := m.client.GenerateText(ctx, req)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(strings.TrimSpace(text), nil), nil
}

// Stream returns the whole completion as a single chunk; Replicate output is
// collected by polling.
func (m *ReplicateChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools is unsupported; text models on Replicate do not call tools.
func (m *ReplicateChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) == 0 {
		return nil
	}
	return fmt.Errorf("replicate chat model does not support tools")
}

func flatten(input []*schema.Message) replicate.TextRequest {
	var (
		system []string
		turns  []string
	)
	for _, msg := range input {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			turns = append(turns, "Assistant: "+msg.Content)
		default:
			turns = append(turns, msg.Content)
		}
	}

	// a single user turn goes through unlabelled
	prompt := strings.Join(turns, "\n\n")
	if len(turns) > 1 {
		for i, t := range turns {
			if !strings.HasPrefix(t, "Assistant: ") {
				turns[i] = "User: " + t
			}
		}
		prompt = strings.Join(turns, "\n\n") + "\n\nAssistant:"
	}
	return replicate.TextRequest{
		Prompt:       prompt,
		SystemPrompt: strings.Join(system, "\n\n"),
	}
}
