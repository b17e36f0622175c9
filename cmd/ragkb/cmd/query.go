package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/internal/search"
	"github.com/Aman-CERP/ragkb/internal/store"
)

// queryFlags are shared by query, ask and doc search.
type queryFlags struct {
	org          string
	topK         int
	minScore     float64
	mode         string
	vectorWeight float64
	rerank       bool
	rerankModel  string
	filter       map[string]string
}

func (q *queryFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&q.org, "org", "", "Organization to search within")
	f.IntVarP(&q.topK, "top-k", "k", 0, "Number of results (default from config)")
	f.Float64Var(&q.minScore, "min-score", 0, "Minimum vector similarity")
	f.StringVarP(&q.mode, "mode", "m", "", "Retrieval mode: vector, keyword, hybrid")
	f.Float64Var(&q.vectorWeight, "vector-weight", 0, "Vector list weight in hybrid mode, 0..1")
	f.BoolVar(&q.rerank, "rerank", false, "Rerank fused results with the generation model")
	f.StringVar(&q.rerankModel, "rerank-model", "", "Model used for reranking")
	f.StringToStringVar(&q.filter, "filter", nil, "Chunk metadata equality filter key=value (repeatable)")
}

// options maps only the flags the user set, leaving the rest to the
// engine's configured defaults.
func (q *queryFlags) options(cmd *cobra.Command, a *app) search.QueryOptions {
	f := cmd.Flags()
	opts := search.QueryOptions{
		OrganizationID: q.org,
		TopK:           q.topK,
		Mode:           search.Mode(q.mode),
		Rerank:         a.cfg.Rerank.Enabled,
		RerankModel:    q.rerankModel,
	}
	if f.Changed("min-score") {
		opts.MinScore = search.Float(q.minScore)
	}
	if f.Changed("vector-weight") {
		opts.VectorWeight = search.Float(q.vectorWeight)
	}
	if f.Changed("rerank") {
		opts.Rerank = q.rerank
	}
	if len(q.filter) > 0 {
		opts.Filter = make(store.Filter, len(q.filter))
		for k, v := range q.filter {
			opts.Filter[k] = v
		}
	}
	return opts
}

func queryContext(parent context.Context, a *app) (context.Context, context.CancelFunc) {
	if a.cfg.Query.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, a.cfg.Query.Timeout)
}

func newQueryCmd(g *globalOptions) *cobra.Command {
	var q queryFlags

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve the chunks most relevant to a query",
		Long: `Retrieve chunks by vector similarity, keyword relevance or both.

Hybrid mode fuses the two ranked lists with Reciprocal Rank Fusion.
--min-score applies to vector similarity only.

Examples:
  ragkb query "refund policy" --org acme
  ragkb query "error 504" --mode hybrid --top-k 10 --rerank
  ragkb query "onboarding" --filter category=hr --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				ctx, cancel := queryContext(cmd.Context(), a)
				defer cancel()

				start := time.Now()
				results, err := a.engine.Query(ctx, text, q.options(cmd, a))
				if err != nil {
					return err
				}
				out := writer(cmd)
				if g.jsonOut {
					return out.JSON(results)
				}
				out.Results(results)
				out.Statusf("", "%d results in %s", len(results), time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
	q.register(cmd)
	return cmd
}

func newAskCmd(g *globalOptions) *cobra.Command {
	var q queryFlags

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from retrieved chunks",
		Long: `Retrieve chunks for the question and have the generation model answer
from them, citing its sources. Requires generation.provider.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				ctx, cancel := queryContext(cmd.Context(), a)
				defer cancel()

				answer, err := a.engine.Answer(ctx, question, q.options(cmd, a))
				if err != nil {
					return err
				}
				out := writer(cmd)
				if g.jsonOut {
					return out.JSON(answer)
				}
				out.Answer(answer)
				return nil
			})
		},
	}
	q.register(cmd)
	return cmd
}
