package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/llm"
)

const answerSystemPrompt = `You are a knowledge base assistant. Answer the question using only the
numbered sources below. Cite sources by their number in square brackets, for example [2].
If the sources do not contain the answer, say that you do not know.`

// noContextAnswer is returned without calling the model when retrieval
// found nothing.
const noContextAnswer = "I could not find anything in the knowledge base about that."

// Answer retrieves context for question and asks the generator to answer
// from it.
func (e *Engine) Answer(ctx context.Context, question string, opts QueryOptions) (*Answer, error) {
	if e.generator == nil {
		return nil, kberrors.ConfigError("answer synthesis needs a generation provider", nil).
			WithSuggestion("set generation.provider to ollama, anthropic or gemini")
	}

	sources, err := e.Query(ctx, question, opts)
	if err != nil {
		return nil, err
	}
	answer := &Answer{Question: question, Model: e.generator.ModelName(), Sources: sources}
	if len(sources) == 0 {
		answer.Text = noContextAnswer
		return answer, nil
	}

	start := time.Now()
	text, err := e.generator.Generate(ctx, llm.Request{
		System: answerSystemPrompt,
		Prompt: BuildAnswerPrompt(question, sources),
	})
	if err != nil {
		return nil, err
	}
	answer.Text = text

	slog.Info("answer_generated",
		slog.String("model", answer.Model),
		slog.Int("sources", len(sources)),
		slog.Duration("took", time.Since(start)))
	return answer, nil
}

// BuildAnswerPrompt numbers the sources from 1 and appends the question.
func BuildAnswerPrompt(question string, sources []Result) string {
	var sb strings.Builder
	sb.WriteString("Sources:\n\n")
	for i, s := range sources {
		name := s.Metadata.SourceName
		if name == "" {
			name = s.Metadata.DocumentID
		}
		fmt.Fprintf(&sb, "[%d] (%s)\n%s\n\n", i+1, name, strings.TrimSpace(s.Text))
	}
	fmt.Fprintf(&sb, "Question: %s\nAnswer:", strings.TrimSpace(question))
	return sb.String()
}
