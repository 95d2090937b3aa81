package chat

import (
	"context"
	"log/slog"
	"strings"
)

// OptimizerSystemPrompt instructs the model rewriting search queries.
const OptimizerSystemPrompt = "You are an assistant that helps optimize search queries. " +
	"Provide a more precise or expanded version of the given query to improve search results. " +
	"Reply with the query only."

// SystemCompleter completes a prompt under a system instruction.
type SystemCompleter interface {
	CompleteWithSystem(ctx context.Context, system, user string) (string, error)
}

// QueryOptimizer expands free text queries before semantic search.
type QueryOptimizer struct {
	llm    SystemCompleter
	logger *slog.Logger
}

// NewQueryOptimizer creates an optimizer backed by llm.
func NewQueryOptimizer(llm SystemCompleter, logger *slog.Logger) *QueryOptimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryOptimizer{llm: llm, logger: logger.With("component", "query_optimizer")}
}

// Optimize returns the rewritten query, or query itself when the model fails
// or answers with nothing.
func (o *QueryOptimizer) Optimize(ctx context.Context, query string) string {
	if o == nil || o.llm == nil {
		return query
	}
	out, err := o.llm.CompleteWithSystem(ctx, OptimizerSystemPrompt,
		"Optimize the following query for better search results: "+query)
	if err != nil {
		o.logger.WarnContext(ctx, "query optimization failed, using original query", "error", err)
		return query
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return query
	}
	o.logger.DebugContext(ctx, "optimized query", "original", query, "optimized", out)
	return out
}
