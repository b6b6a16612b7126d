package mapreduce

import (
	"fmt"
	"testing"
	"time"

	"github.com/lindqvist/mapfold/internal/models"
)

func makeItem(title string, chunkCount int, embedding []float32) *models.Item {
	item := &models.Item{
		Title:     title,
		Kind:      "document",
		CreatedAt: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
	}
	for i := 0; i < chunkCount; i++ {
		item.Chunks = append(item.Chunks, models.Chunk{
			Position:  i,
			Preview:   fmt.Sprintf("%s chunk %d", title, i),
			Embedding: embedding,
		})
	}
	return item
}

func batchSizes(batches []models.Batch) []int {
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = len(b.Items)
	}
	return sizes
}

func TestPlanEvenItems(t *testing.T) {
	// 23 single-chunk items at target 10 split into 10, 10, 3.
	var items []*models.Item
	for i := 0; i < 23; i++ {
		items = append(items, makeItem(fmt.Sprintf("item-%02d", i), 1, nil))
	}

	batches := Plan(items, 10)

	want := []int{10, 10, 3}
	got := batchSizes(batches)
	if len(got) != len(want) {
		t.Fatalf("batch count = %d, want %d (sizes %v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPlanOversizedItemIsolated(t *testing.T) {
	items := []*models.Item{
		makeItem("small-1", 2, nil),
		makeItem("huge", 20, nil),
		makeItem("small-2", 2, nil),
	}

	batches := Plan(items, 10)

	if len(batches) != 3 {
		t.Fatalf("batch count = %d, want 3 (sizes %v)", len(batches), batchSizes(batches))
	}
	if len(batches[1].Items) != 1 || batches[1].Items[0].Title != "huge" {
		t.Errorf("oversized item should be alone in its own batch, got %v", batchSizes(batches))
	}
}

func TestPlanPreservesAllItems(t *testing.T) {
	tests := []struct {
		name        string
		chunkCounts []int
		target      int
	}{
		{"uniform", []int{1, 1, 1, 1, 1, 1, 1}, 3},
		{"mixed", []int{3, 7, 2, 9, 1, 4, 16, 2}, 10},
		{"all oversized", []int{20, 30, 16}, 10},
		{"single item", []int{5}, 10},
		{"slight overflow tolerated", []int{9, 3}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var items []*models.Item
			for i, n := range tt.chunkCounts {
				items = append(items, makeItem(fmt.Sprintf("item-%d", i), n, nil))
			}

			batches := Plan(items, tt.target)

			seen := make(map[string]int)
			for i, b := range batches {
				if len(b.Items) == 0 {
					t.Errorf("batch %d is empty", i)
				}
				if b.Index != i {
					t.Errorf("batch index = %d, want %d", b.Index, i)
				}
				for _, item := range b.Items {
					seen[item.Title]++
				}
			}
			if len(seen) != len(items) {
				t.Errorf("expected %d distinct items across batches, got %d", len(items), len(seen))
			}
			for title, n := range seen {
				if n != 1 {
					t.Errorf("item %s appears %d times, want exactly once", title, n)
				}
			}

			// Batch order follows item order
			pos := 0
			for _, b := range batches {
				for _, item := range b.Items {
					if item.Title != fmt.Sprintf("item-%d", pos) {
						t.Fatalf("item order broken: got %s at position %d", item.Title, pos)
					}
					pos++
				}
			}
		})
	}
}

func TestPlanOverflowTolerance(t *testing.T) {
	// 9 + 3 = 12 chunks stays within the 1.2x overflow limit, so both items
	// share one batch instead of splitting at the target.
	items := []*models.Item{
		makeItem("item-0", 9, nil),
		makeItem("item-1", 3, nil),
	}

	batches := Plan(items, 10)
	if len(batches) != 1 {
		t.Fatalf("batch count = %d, want 1 (sizes %v)", len(batches), batchSizes(batches))
	}
}

func TestPlanEmptyInput(t *testing.T) {
	if batches := Plan(nil, 10); len(batches) != 0 {
		t.Errorf("expected no batches for empty input, got %d", len(batches))
	}
}

func TestFilterItems(t *testing.T) {
	// Normalized 2-d embeddings against query [1,0]: similarity equals the
	// first component.
	query := []float32{1, 0}
	items := []*models.Item{
		makeItem("low-a", 1, []float32{0.1, 0.995}),
		makeItem("mid", 1, []float32{0.6, 0.8}),
		makeItem("top", 1, []float32{1, 0}),
		makeItem("low-b", 1, []float32{0.2, 0.98}),
		makeItem("negative", 1, []float32{-0.5, 0.866}),
		makeItem("high", 1, []float32{0.8, 0.6}),
		makeItem("threshold", 1, []float32{0.3, 0.954}),
		makeItem("low-c", 1, []float32{0.05, 0.999}),
		makeItem("no-chunks", 0, nil),
		makeItem("no-embedding", 1, nil),
	}

	scored := FilterItems(items, query, 0.3)

	wantOrder := []string{"top", "high", "mid", "threshold"}
	if len(scored) != len(wantOrder) {
		t.Fatalf("expected %d items above threshold, got %d", len(wantOrder), len(scored))
	}
	for i, want := range wantOrder {
		if scored[i].Item.Title != want {
			t.Errorf("position %d = %s, want %s", i, scored[i].Item.Title, want)
		}
	}
	for i := 1; i < len(scored); i++ {
		if scored[i].Similarity > scored[i-1].Similarity {
			t.Error("scores must be sorted descending")
		}
	}

	plain := Items(scored)
	if len(plain) != len(scored) || plain[0].Title != "top" {
		t.Error("Items should unwrap scored items preserving order")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}
