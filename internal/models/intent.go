package models

// IntentType discriminates the classified purpose of a query.
type IntentType string

const (
	IntentQuickQA             IntentType = "quick_qa"
	IntentAggregation         IntentType = "aggregation"
	IntentFullScopeSummary    IntentType = "full_scope_summary"
	IntentFilteredAggregation IntentType = "filtered_aggregation"
)

// Valid reports whether t is one of the four known intent types.
func (t IntentType) Valid() bool {
	switch t {
	case IntentQuickQA, IntentAggregation, IntentFullScopeSummary, IntentFilteredAggregation:
		return true
	}
	return false
}

// Numeric reports whether the intent extracts numeric records in the map phase.
func (t IntentType) Numeric() bool {
	return t == IntentAggregation || t == IntentFilteredAggregation
}

// JobType maps an async intent to the job type stored on the job record.
func (t IntentType) JobType() JobType {
	switch t {
	case IntentFullScopeSummary:
		return JobTypeFullScopeSummary
	case IntentFilteredAggregation:
		return JobTypeFilteredAggregation
	default:
		return JobTypeAggregation
	}
}

// ExtractionSchema tells the map phase which fields to pull per item.
type ExtractionSchema struct {
	ExtractNumbers    bool     `json:"extract_numbers"`
	ExtractDates      bool     `json:"extract_dates"`
	ExtractCategories bool     `json:"extract_categories"`
	Fields            []string `json:"fields,omitempty"`
}

// DateRange bounds a temporal filter, inclusive, as YYYY-MM-DD strings.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// FilterCriteria narrows the scope before batching.
type FilterCriteria struct {
	SemanticFilter string     `json:"semantic_filter,omitempty"`
	DateRange      *DateRange `json:"date_range,omitempty"`
	Threshold      float64    `json:"threshold,omitempty"`
}

// IntentDecision is the classifier's routing verdict for a query. The
// classifier validates and defaults every field; downstream code can trust it.
type IntentDecision struct {
	Type             IntentType       `json:"intent_type"`
	Confidence       float64          `json:"confidence"`
	Reasoning        string           `json:"reasoning,omitempty"`
	RequiresFullScan bool             `json:"requires_full_scan"`
	RequiresAsync    bool             `json:"requires_async"`
	EstimatedItems   int              `json:"estimated_items"`
	EstimatedSeconds float64          `json:"estimated_time_seconds"`
	Extraction       ExtractionSchema `json:"extraction_schema"`
	Filter           FilterCriteria   `json:"filter_criteria"`
}
