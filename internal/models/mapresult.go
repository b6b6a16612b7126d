package models

// ExtractedRecord is one numeric datum pulled from a batch.
type ExtractedRecord struct {
	Source   string  `json:"source"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit,omitempty"`
	Date     string  `json:"date,omitempty"`
	Category string  `json:"category,omitempty"`
}

// MapResult is the outcome of one map call over a batch. Failed batches
// carry Error and are excluded from aggregation.
type MapResult struct {
	Relevant      bool              `json:"relevant"`
	ExtractedData []ExtractedRecord `json:"extracted_data,omitempty"`
	Themes        []string          `json:"themes,omitempty"`
	KeyPoints     []string          `json:"key_points,omitempty"`
	Summary       string            `json:"summary,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	ItemCount     int               `json:"item_count"`

	BatchIndex   int    `json:"batch_index"`
	ItemsInBatch int    `json:"items_in_batch"`
	Error        string `json:"error,omitempty"`
}

// Failed reports whether the batch behind this result failed permanently.
func (r *MapResult) Failed() bool {
	return r.Error != ""
}

// GroupStat accumulates count and sub-total for one aggregation bucket.
type GroupStat struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

// AggregationSummary is the deterministic reduction of successful map
// results. Numeric intents fill the first block, the qualitative intent the
// second; Confidence is always set.
type AggregationSummary struct {
	Total      float64              `json:"total"`
	Count      int                  `json:"count"`
	Average    float64              `json:"average"`
	ByCategory map[string]GroupStat `json:"by_category,omitempty"`
	ByMonth    map[string]GroupStat `json:"by_month,omitempty"`
	TopItems   []ExtractedRecord    `json:"top_items,omitempty"`

	Themes     []string `json:"themes,omitempty"`
	KeyPoints  []string `json:"key_points,omitempty"`
	TotalItems int      `json:"total_items,omitempty"`

	Confidence float64 `json:"confidence"`
}

// ProcessingInfo enumerates what the pipeline touched, for user verification.
type ProcessingInfo struct {
	TotalItemsInScope int     `json:"total_items_in_scope"`
	ItemsProcessed    int     `json:"items_processed"`
	ItemsSkipped      int     `json:"items_skipped"`
	BatchesProcessed  int     `json:"batches_processed"`
	BatchesFailed     int     `json:"batches_failed"`
	Strategy          JobType `json:"strategy"`
}

// AggregationDetails is the full breakdown persisted on a completed job.
type AggregationDetails struct {
	Summary    AggregationSummary `json:"summary"`
	Processing ProcessingInfo     `json:"processing_info"`
	TopItems   []ExtractedRecord  `json:"top_items,omitempty"`
	Confidence float64            `json:"confidence"`
}
