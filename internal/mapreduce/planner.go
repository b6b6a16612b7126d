// Package mapreduce implements the batch pipeline behind async queries:
// semantic filtering, deterministic batch planning, bounded parallel map
// extraction, commutative aggregation and answer synthesis.
package mapreduce

import (
	"math"
	"sort"

	"github.com/lindqvist/mapfold/internal/models"
)

// Batch sizing factors relative to the target chunk count. An item larger
// than the oversize factor gets its own batch; a running batch may overflow
// the target up to the overflow factor before it is flushed.
const (
	oversizeFactor = 1.5
	overflowFactor = 1.2
)

// FilterItems scores each item against the filter embedding using its first
// chunk's vector and keeps those at or above threshold, sorted by descending
// similarity. Items without chunks or embeddings are dropped.
func FilterItems(items []*models.Item, filterEmbedding []float32, threshold float64) []models.ScoredItem {
	scored := make([]models.ScoredItem, 0, len(items))
	for _, item := range items {
		if len(item.Chunks) == 0 {
			continue
		}
		first := item.Chunks[0]
		if len(first.Embedding) == 0 {
			continue
		}

		similarity := cosineSimilarity(filterEmbedding, first.Embedding)
		if similarity >= threshold {
			scored = append(scored, models.ScoredItem{Item: item, Similarity: similarity})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	return scored
}

// Items unwraps a scored slice back into plain items, preserving order.
func Items(scored []models.ScoredItem) []*models.Item {
	items := make([]*models.Item, len(scored))
	for i, s := range scored {
		items[i] = s.Item
	}
	return items
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Plan splits items into ordered, non-empty batches sized near the target
// chunk count. Greedy and deterministic: every item lands in exactly one
// batch and batch order follows item order.
func Plan(items []*models.Item, targetChunks int) []models.Batch {
	if targetChunks <= 0 {
		targetChunks = 10
	}
	oversizeLimit := float64(targetChunks) * oversizeFactor
	overflowLimit := float64(targetChunks) * overflowFactor

	var batches []models.Batch
	var current []*models.Item
	currentChunks := 0

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, models.Batch{Index: len(batches), Items: current})
			current = nil
			currentChunks = 0
		}
	}

	for _, item := range items {
		chunks := item.ChunkCount()

		// A single outsized item is isolated in its own batch.
		if float64(chunks) > oversizeLimit {
			flush()
			batches = append(batches, models.Batch{Index: len(batches), Items: []*models.Item{item}})
			continue
		}

		if currentChunks >= targetChunks || float64(currentChunks+chunks) > overflowLimit {
			flush()
		}
		current = append(current, item)
		currentChunks += chunks
	}
	flush()

	return batches
}
