package review

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobiz/abp/backend/internal/analysis/copyscore"
)

type fakeModel struct {
	reply  string
	err    error
	inputs [][]*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

const sample = "Meet the Neon Nights collection: glowing city art on mugs and tees. Shop now! #neon #art"

func TestReviewUsesClassifier(t *testing.T) {
	fm := &fakeModel{reply: "Sure, here you go:\n{\"score\": 8.46, \"tone\": \"Playful\", \"suggestions\": [\"Name the products\", \"  \"]}"}
	svc, err := NewService(context.Background(), fm, Config{Enabled: true, HistoryLimit: 1}, nil)
	require.NoError(t, err)
	require.True(t, svc.Enabled())

	res := svc.Review(context.Background(), Request{
		Kind:    copyscore.KindSocial,
		Label:   "Instagram caption",
		Text:    sample,
		History: []string{"old concept", "latest plan"},
	})
	assert.Equal(t, SourceLLM, res.Source)
	assert.Equal(t, 8.5, res.Score)
	assert.Equal(t, copyscore.Playful, res.Tone)
	assert.Equal(t, []string{"Name the products"}, res.Suggestions)

	require.Len(t, fm.inputs, 1)
	user := fm.inputs[0][1].Content
	assert.Contains(t, user, "Content type: Instagram caption")
	assert.Contains(t, user, "latest plan")
	assert.NotContains(t, user, "old concept")
}

func TestReviewFallsBack(t *testing.T) {
	cases := map[string]*fakeModel{
		"invoke error": {err: errors.New("boom")},
		"no json":      {reply: "looks great"},
		"bad tone":     {reply: `{"score": 7, "tone": "sarcastic"}`},
		"no score":     {reply: `{"tone": "friendly"}`},
	}
	for name, fm := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := NewService(context.Background(), fm, Config{Enabled: true}, nil)
			require.NoError(t, err)

			res := svc.Review(context.Background(), Request{Kind: copyscore.KindSocial, Text: sample})
			assert.Equal(t, SourceHeuristic, res.Source)
			assert.Equal(t, copyscore.Analyze(sample, copyscore.KindSocial).Score, res.Score)
		})
	}
}

func TestReviewDisabled(t *testing.T) {
	fm := &fakeModel{reply: `{"score": 10, "tone": "luxury"}`}
	svc, err := NewService(context.Background(), fm, Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	res := svc.Review(context.Background(), Request{Kind: copyscore.KindSocial, Text: sample})
	assert.Equal(t, SourceHeuristic, res.Source)
	assert.Empty(t, fm.inputs)

	nilModel, err := NewService(context.Background(), nil, Config{Enabled: true}, nil)
	require.NoError(t, err)
	assert.False(t, nilModel.Enabled())
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, clampScore(-3))
	assert.Equal(t, 10.0, clampScore(42))
	assert.Equal(t, 6.3, clampScore(6.25))
}
