package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/lindqvist/mapfold/internal/db"
	"github.com/lindqvist/mapfold/internal/mapreduce"
)

const (
	quickSearchLimit = 10
	qaMaxTokens      = 1000
	qaTemperature    = 0.3
)

// SourceRef identifies one chunk a quick answer was grounded on.
type SourceRef struct {
	Title      string  `json:"title"`
	Preview    string  `json:"preview"`
	Similarity float64 `json:"similarity"`
}

// QuickAnswerer serves quick_qa queries synchronously: vector search over the
// scope, then one completion over the retrieved chunks.
type QuickAnswerer struct {
	scope    ScopeStore
	model    mapreduce.Completer
	embedder Embedder
}

// NewQuickAnswerer creates the quick answer path.
func NewQuickAnswerer(scope ScopeStore, model mapreduce.Completer, embedder Embedder) *QuickAnswerer {
	return &QuickAnswerer{scope: scope, model: model, embedder: embedder}
}

// Answer retrieves the most similar chunks and answers from them. Returns the
// answer text and the sources it drew on.
func (q *QuickAnswerer) Answer(ctx context.Context, userID string, scopeIDs []string, query string) (string, []SourceRef, error) {
	embedding, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return "", nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := q.scope.SearchChunks(ctx, userID, scopeIDs, embedding, quickSearchLimit)
	if err != nil {
		return "", nil, err
	}
	if len(hits) == 0 {
		return "I could not find anything relevant to that in the selected scope.", []SourceRef{}, nil
	}

	answer, err := q.model.Complete(ctx, buildQAPrompt(query, hits), query, qaMaxTokens, qaTemperature)
	if err != nil {
		return "", nil, fmt.Errorf("quick answer: %w", err)
	}

	sources := make([]SourceRef, len(hits))
	for i, h := range hits {
		sources[i] = SourceRef{Title: h.Title, Preview: h.Preview, Similarity: h.Similarity}
	}
	return strings.TrimSpace(answer), sources, nil
}

func buildQAPrompt(query string, hits []db.ChunkHit) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant answering questions from the user's knowledge base.\n")
	b.WriteString("Answer the question using ONLY the context below. If the context does not contain the answer, say so.\n\n")
	b.WriteString("Context:\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", h.Title, h.Preview)
	}
	fmt.Fprintf(&b, "Question: %s\n", query)
	return b.String()
}
