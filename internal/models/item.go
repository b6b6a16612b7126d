package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Item is a unit of scoped content. Items and their chunks are produced by
// the ingestion side and are read-only to the query engine.
type Item struct {
	ID        surrealmodels.RecordID `json:"id"`
	UserID    string                 `json:"user_id"`
	ScopeID   string                 `json:"scope_id"`
	Title     string                 `json:"title"`
	SourceURL *string                `json:"source_url,omitempty"`
	Kind      string                 `json:"kind"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`

	// Chunks are loaded ordered by position for map-phase context building.
	Chunks []Chunk `json:"chunks,omitempty"`
}

// ChunkCount returns the number of chunks attached to the item.
func (i *Item) ChunkCount() int {
	return len(i.Chunks)
}

// Chunk is a sub-piece of an item's content with an embedding vector.
type Chunk struct {
	ID        surrealmodels.RecordID `json:"id"`
	Item      surrealmodels.RecordID `json:"item"`
	Position  int                    `json:"position"`
	Preview   string                 `json:"preview"`
	Embedding []float32              `json:"embedding,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Batch is an ordered, non-empty group of items processed in one map call.
// Batches are planning artifacts and are never persisted on their own.
type Batch struct {
	Index int
	Items []*Item
}

// ChunkCount returns the summed chunk count of the batch's items.
func (b *Batch) ChunkCount() int {
	n := 0
	for _, it := range b.Items {
		n += it.ChunkCount()
	}
	return n
}

// ScoredItem pairs an item with its semantic-filter similarity.
type ScoredItem struct {
	Item       *Item
	Similarity float64
}
