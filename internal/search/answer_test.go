package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/llm"
	"github.com/Aman-CERP/ragkb/internal/store"
)

func TestEngine_Answer(t *testing.T) {
	ctx := context.Background()
	var got llm.Request
	gen := llm.Func(func(_ context.Context, req llm.Request) (string, error) {
		got = req
		return "Refunds are issued within thirty days [1].", nil
	})
	kb := newTestKB(t, WithGenerator(gen))
	kb.seedRefundCorpus(t)

	answer, err := kb.engine.Answer(ctx, "How do refunds work?", QueryOptions{OrganizationID: "org-a"})
	require.NoError(t, err)

	assert.Equal(t, "Refunds are issued within thirty days [1].", answer.Text)
	assert.Equal(t, "func", answer.Model)
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, "semantic", answer.Sources[0].DocumentID())

	// The prompt numbers sources and ends with the question
	assert.Contains(t, got.Prompt, "[1] (semantic.txt)")
	assert.Contains(t, got.Prompt, "money back")
	assert.Contains(t, got.Prompt, "Question: How do refunds work?")
	assert.NotEmpty(t, got.System)
}

func TestEngine_AnswerWithoutContextSkipsModel(t *testing.T) {
	called := false
	gen := llm.Func(func(context.Context, llm.Request) (string, error) {
		called = true
		return "", nil
	})
	kb := newTestKB(t, WithGenerator(gen))

	answer, err := kb.engine.Answer(context.Background(), "anything?", QueryOptions{})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, noContextAnswer, answer.Text)
	assert.Empty(t, answer.Sources)
}

func TestEngine_AnswerNeedsGenerator(t *testing.T) {
	kb := newTestKB(t)
	_, err := kb.engine.Answer(context.Background(), "q", QueryOptions{})
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeConfigInvalid, kberrors.GetCode(err))
}

func TestBuildAnswerPrompt_FallsBackToDocumentID(t *testing.T) {
	prompt := BuildAnswerPrompt("why?", []Result{
		{Text: " first ", Metadata: store.ChunkMetadata{DocumentID: "doc-1"}},
		{Text: "second", Metadata: store.ChunkMetadata{DocumentID: "doc-2", SourceName: "Guide"}},
	})
	assert.Contains(t, prompt, "[1] (doc-1)\nfirst\n")
	assert.Contains(t, prompt, "[2] (Guide)\nsecond\n")
	assert.True(t, len(prompt) > 0 && prompt[len(prompt)-len("Answer:"):] == "Answer:")
}
