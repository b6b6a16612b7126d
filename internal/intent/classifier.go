// Package intent classifies raw queries into routing decisions: answer now
// on the quick path, or spawn an async map-reduce job.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lindqvist/mapfold/internal/models"
)

// Completer is the text-generation round trip the classifier depends on.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// Processing-estimate constants. Items-per-second reflects map-phase
// throughput with the default worker width.
const (
	itemsPerSecond   = 10.0
	baseSeconds      = 1.0
	reduceSeconds    = 1.0
	reduceThreshold  = 50
	filteredFraction = 0.35
	quickQAItems     = 10

	classifyMaxTokens   = 500
	classifyTemperature = 0.1
)

// Classifier turns a query plus scope size into an IntentDecision.
type Classifier struct {
	model          Completer
	asyncThreshold time.Duration
}

// NewClassifier creates a classifier. asyncThreshold routes queries whose
// time estimate exceeds it to async processing.
func NewClassifier(model Completer, asyncThreshold time.Duration) *Classifier {
	if asyncThreshold <= 0 {
		asyncThreshold = 5 * time.Second
	}
	return &Classifier{model: model, asyncThreshold: asyncThreshold}
}

// Classify never fails: when the upstream call or its reply is unusable it
// falls back to a deterministic keyword heuristic with confidence 0.3.
func (c *Classifier) Classify(ctx context.Context, query string, scopeItemCount int) models.IntentDecision {
	reply, err := c.model.Complete(ctx,
		buildClassificationPrompt(query, scopeItemCount), query,
		classifyMaxTokens, classifyTemperature)
	if err != nil {
		slog.Warn("intent classification call failed, using keyword fallback", "error", err)
		return c.fallback(query, scopeItemCount)
	}

	var decision models.IntentDecision
	if err := json.Unmarshal([]byte(stripCodeFences(reply)), &decision); err != nil {
		slog.Warn("intent classification reply unparseable, using keyword fallback", "error", err)
		return c.fallback(query, scopeItemCount)
	}
	if !decision.Type.Valid() {
		slog.Warn("intent classification returned unknown type, using keyword fallback", "type", decision.Type)
		return c.fallback(query, scopeItemCount)
	}

	c.validate(&decision)
	c.enrich(&decision, scopeItemCount)
	return decision
}

// validate clamps and defaults fields the model may have omitted or mangled.
func (c *Classifier) validate(d *models.IntentDecision) {
	if d.Confidence == 0 {
		d.Confidence = 0.5
	}
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	if d.Filter.SemanticFilter != "" && d.Filter.Threshold <= 0 {
		d.Filter.Threshold = 0.3
	}
}

// enrich fills in the item and duration estimates and the async verdict.
func (c *Classifier) enrich(d *models.IntentDecision, scopeItemCount int) {
	switch {
	case d.Type == models.IntentQuickQA:
		d.EstimatedItems = quickQAItems
	case d.Filter.SemanticFilter != "":
		d.EstimatedItems = int(float64(scopeItemCount) * filteredFraction)
	default:
		d.EstimatedItems = scopeItemCount
	}

	reduce := reduceSeconds
	if d.EstimatedItems > reduceThreshold {
		reduce = 2 * reduceSeconds
	}
	d.EstimatedSeconds = baseSeconds + float64(d.EstimatedItems)/itemsPerSecond + reduce
	d.RequiresAsync = d.EstimatedSeconds > c.asyncThreshold.Seconds()
}

var (
	aggregationKeywords = []string{"total", "sum", "count", "how many", "average", "all"}
	summaryKeywords     = []string{"summarize", "overview", "summary", "tell me about"}
)

// fallback is the deterministic keyword heuristic used when classification
// fails. Confidence is fixed low so callers can tell the paths apart.
func (c *Classifier) fallback(query string, scopeItemCount int) models.IntentDecision {
	lower := strings.ToLower(query)

	d := models.IntentDecision{
		Type:       models.IntentQuickQA,
		Confidence: 0.3,
		Reasoning:  "fallback classification based on keywords",
	}
	if containsAny(lower, aggregationKeywords) {
		d.Type = models.IntentAggregation
		d.RequiresFullScan = true
	} else if containsAny(lower, summaryKeywords) {
		d.Type = models.IntentFullScopeSummary
		d.RequiresFullScan = true
	}

	c.enrich(&d, scopeItemCount)
	return d
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// stripCodeFences removes a surrounding markdown code fence if the model
// ignored the no-markdown instruction.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func buildClassificationPrompt(query string, scopeItemCount int) string {
	scopeInfo := ""
	if scopeItemCount > 0 {
		scopeInfo = fmt.Sprintf("\nThe target scope contains %d total items.", scopeItemCount)
	}

	return fmt.Sprintf(`You are an intent classifier for a knowledge base query system.

Query: %q%s

Classify this query and output ONLY a JSON object with this exact structure:

{
  "intent_type": "quick_qa" | "aggregation" | "full_scope_summary" | "filtered_aggregation",
  "confidence": 0.0-1.0,
  "reasoning": "brief explanation",
  "requires_full_scan": true/false,
  "extraction_schema": {
    "extract_numbers": true/false,
    "extract_dates": true/false,
    "extract_categories": true/false,
    "fields": ["field1", "field2"]
  },
  "filter_criteria": {
    "semantic_filter": "optional filter query",
    "date_range": {"start": "YYYY-MM-DD", "end": "YYYY-MM-DD"},
    "threshold": 0.3
  }
}

Intent Types:
- "quick_qa": Simple question answerable with top-k retrieval (e.g., "What is X?", "Explain Y")
- "aggregation": Requires counting/summing across items (e.g., "total transactions", "how many", "sum of")
- "full_scope_summary": Needs to process all items (e.g., "summarize everything", "overview of the scope")
- "filtered_aggregation": Aggregation with semantic/temporal filter (e.g., "December transactions", "recent orders")

Guidelines:
1. Use "quick_qa" for: definitions, explanations, finding specific info
2. Use "aggregation" for: totals, counts, averages, all items with math operations
3. Use "full_scope_summary" for: broad summaries, overviews without specific filter
4. Use "filtered_aggregation" for: "total X in December", "count Y from last month"
5. Set requires_full_scan=true only if answer needs ALL items (aggregations, full summaries)
6. Extract semantic filters naturally (e.g., "December orders" -> filter: "December", date_range: Dec 2024)
7. confidence < 0.5 means unclear, default to "quick_qa"

Output ONLY valid JSON, no markdown formatting.`, query, scopeInfo)
}
