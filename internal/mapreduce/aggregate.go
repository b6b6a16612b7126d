package mapreduce

import (
	"sort"

	"github.com/lindqvist/mapfold/internal/models"
)

const (
	topItemsCap = 20
	// Matched-item count below which confidence is discounted.
	lowMatchThreshold  = 5
	lowMatchMultiplier = 0.7
)

// Aggregate reduces map results into a summary. Pure and deterministic:
// permuting the input yields an identical summary, which is what makes
// out-of-order batch completion safe.
func Aggregate(mapResults []models.MapResult, intentType models.IntentType) models.AggregationSummary {
	var summary models.AggregationSummary

	if intentType.Numeric() {
		summary = aggregateNumeric(mapResults)
	} else {
		summary = aggregateQualitative(mapResults)
	}

	summary.Confidence = confidence(mapResults, &summary)
	return summary
}

func aggregateNumeric(mapResults []models.MapResult) models.AggregationSummary {
	var records []models.ExtractedRecord
	for _, r := range mapResults {
		if r.Failed() || !r.Relevant {
			continue
		}
		records = append(records, r.ExtractedData...)
	}

	total := 0.0
	byCategory := make(map[string]models.GroupStat)
	byMonth := make(map[string]models.GroupStat)
	items := make([]models.ExtractedRecord, 0, len(records))

	for _, rec := range records {
		category := rec.Category
		if category == "" {
			category = "uncategorized"
		}

		total += rec.Value

		stat := byCategory[category]
		stat.Count++
		stat.Total += rec.Value
		byCategory[category] = stat

		if len(rec.Date) >= 7 {
			monthKey := rec.Date[:7] // YYYY-MM
			stat := byMonth[monthKey]
			stat.Count++
			stat.Total += rec.Value
			byMonth[monthKey] = stat
		}

		rec.Category = category
		items = append(items, rec)
	}

	// Full ordering keeps the top list identical across input permutations.
	sort.Slice(items, func(i, j int) bool {
		if items[i].Value != items[j].Value {
			return items[i].Value > items[j].Value
		}
		if items[i].Source != items[j].Source {
			return items[i].Source < items[j].Source
		}
		return items[i].Date < items[j].Date
	})
	if len(items) > topItemsCap {
		items = items[:topItemsCap]
	}

	count := len(records)
	average := 0.0
	if count > 0 {
		average = total / float64(count)
	}

	return models.AggregationSummary{
		Total:      total,
		Count:      count,
		Average:    average,
		ByCategory: byCategory,
		ByMonth:    byMonth,
		TopItems:   items,
	}
}

func aggregateQualitative(mapResults []models.MapResult) models.AggregationSummary {
	// Work on a copy ordered by batch index so key points read in scope
	// order no matter how batches completed.
	ordered := make([]models.MapResult, len(mapResults))
	copy(ordered, mapResults)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].BatchIndex < ordered[j].BatchIndex
	})

	themeSet := make(map[string]struct{})
	var keyPoints []string
	totalItems := 0

	for _, r := range ordered {
		totalItems += r.ItemCount
		if r.Failed() || !r.Relevant {
			continue
		}
		for _, theme := range r.Themes {
			themeSet[theme] = struct{}{}
		}
		keyPoints = append(keyPoints, r.KeyPoints...)
	}

	themes := make([]string, 0, len(themeSet))
	for theme := range themeSet {
		themes = append(themes, theme)
	}
	sort.Strings(themes)

	return models.AggregationSummary{
		Themes:     themes,
		KeyPoints:  keyPoints,
		TotalItems: totalItems,
	}
}

// confidence scores the summary: 1 minus the failed-batch fraction. When
// batches failed and few items matched, the result rests on thin evidence
// and gets a further discount. Zero when everything failed.
func confidence(mapResults []models.MapResult, summary *models.AggregationSummary) float64 {
	totalBatches := len(mapResults)
	if totalBatches == 0 {
		return 0
	}
	failed := 0
	for _, r := range mapResults {
		if r.Failed() {
			failed++
		}
	}
	if failed == totalBatches {
		return 0
	}

	c := 1.0 - float64(failed)/float64(totalBatches)

	matched := summary.Count
	if matched == 0 {
		matched = summary.TotalItems
	}
	if failed > 0 && matched < lowMatchThreshold {
		c *= lowMatchMultiplier
	}
	return c
}

// BuildDetails assembles the breakdown persisted on a completed job for
// user verification.
func BuildDetails(
	mapResults []models.MapResult,
	summary models.AggregationSummary,
	totalItemsInScope int,
	strategy models.JobType,
) models.AggregationDetails {
	processed, skipped, failed := 0, 0, 0
	for _, r := range mapResults {
		if r.Failed() {
			failed++
			continue
		}
		if r.Relevant {
			processed++
		} else {
			skipped++
		}
	}

	return models.AggregationDetails{
		Summary: summary,
		Processing: models.ProcessingInfo{
			TotalItemsInScope: totalItemsInScope,
			ItemsProcessed:    processed,
			ItemsSkipped:      skipped,
			BatchesProcessed:  len(mapResults) - failed,
			BatchesFailed:     failed,
			Strategy:          strategy,
		},
		TopItems:   summary.TopItems,
		Confidence: summary.Confidence,
	}
}
