package mapreduce

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lindqvist/mapfold/internal/models"
)

// buildBatchContext renders a batch's items and chunk previews into the
// text block the map prompt operates on.
func buildBatchContext(batch models.Batch) string {
	var b strings.Builder

	for _, item := range batch.Items {
		sourceURL := "N/A"
		if item.SourceURL != nil {
			sourceURL = *item.SourceURL
		}

		fmt.Fprintf(&b, "\n--- Item: %s ---\n", item.Title)
		fmt.Fprintf(&b, "Source: %s\n", sourceURL)
		fmt.Fprintf(&b, "Type: %s\n", item.Kind)
		fmt.Fprintf(&b, "Date: %s\n", item.CreatedAt.Format("2006-01-02"))
		if len(item.Metadata) > 0 {
			fmt.Fprintf(&b, "Metadata: %v\n", item.Metadata)
		}
		b.WriteString("\nContent:\n")
		for _, chunk := range item.Chunks {
			b.WriteString(chunk.Preview)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// buildMapPrompt selects the extraction schema by intent type.
func buildMapPrompt(query string, intentType models.IntentType, context string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are processing a batch of knowledge items to answer: %q

Your task: Extract ONLY relevant information from the provided items.

Context:
%s

`, query, context)

	switch intentType {
	case models.IntentAggregation:
		b.WriteString(`
CRITICAL: This is an aggregation query. You MUST extract exact numeric values.

Output JSON format:
{
  "relevant": true/false,
  "extracted_data": [
    {
      "source": "item title or identifier",
      "value": 123.45,
      "unit": "USD" | "count" | etc,
      "date": "YYYY-MM-DD" if available,
      "category": "category if applicable"
    }
  ],
  "summary": "Brief text summary of this batch",
  "item_count": number_of_relevant_items
}

Rules:
- Extract EXACT numbers, never round or approximate
- If no relevant items, return: {"relevant": false, "reason": "..."}
- Include ALL numeric values that match the query
- Preserve currency symbols and units
`)

	case models.IntentFullScopeSummary:
		b.WriteString(`
Output JSON format:
{
  "relevant": true,
  "themes": ["theme1", "theme2"],
  "key_points": ["point1", "point2"],
  "summary": "Comprehensive summary of items in this batch",
  "item_count": number_of_items
}
`)

	default: // filtered aggregation
		b.WriteString(`
Output JSON format:
{
  "relevant": true/false,
  "extracted_data": [...],
  "summary": "Summary",
  "item_count": number_of_relevant_items
}

Note: Only include items that match the query criteria.
`)
	}

	b.WriteString("\n\nOutput ONLY valid JSON, no markdown formatting.")
	return b.String()
}

// buildSynthesisPrompt embeds the aggregation summary verbatim so the model
// frames the computed numbers instead of re-deriving them.
func buildSynthesisPrompt(query string, summary models.AggregationSummary, intentType models.IntentType) string {
	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		payload = []byte("{}")
	}

	if intentType.Numeric() {
		return fmt.Sprintf(`You are synthesizing aggregation results into a natural response.

User Query: %q

Calculated Results:
%s

Instructions:
1. Use the EXACT numbers provided (total, count, average)
2. Generate a natural, conversational response
3. Highlight key insights from the data
4. Mention breakdown by category/time if relevant
5. Reference specific top items as examples
6. Be helpful and clear

Format your response naturally, as if speaking to the user directly.
`, query, payload)
	}

	return fmt.Sprintf(`You are synthesizing multiple summaries into a cohesive overview.

User Query: %q

Aggregated Information:
%s

Instructions:
1. Create a comprehensive but concise summary
2. Organize by themes if available
3. Highlight key points
4. Be natural and conversational

Format your response as a helpful summary.
`, query, payload)
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
