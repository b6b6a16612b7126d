// Package db provides SurrealDB query functions for item and chunk records.
package db

import (
	"context"
	"fmt"

	"github.com/lindqvist/mapfold/internal/models"
)

// CountScopeItems returns the number of items visible to the user in the
// given scopes. Empty scopeIDs counts across all of the user's scopes.
func (c *Client) CountScopeItems(ctx context.Context, userID string, scopeIDs []string) (int, error) {
	scopeClause := ""
	vars := map[string]any{"user_id": userID}
	if len(scopeIDs) > 0 {
		scopeClause = "AND scope_id IN $scopes"
		vars["scopes"] = scopeIDs
	}

	sql := fmt.Sprintf(`
		SELECT count() AS c FROM item WHERE user_id = $user_id %s GROUP ALL
	`, scopeClause)

	rows, err := queryRows[struct {
		C int `json:"c"`
	}](ctx, c, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("count scope items: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].C, nil
}

// FetchItemsWithChunks loads the full scope for map-phase processing: every
// item with its chunks attached, chunks ordered by position. Items come back
// newest first so batch plans are stable for a given scope state.
func (c *Client) FetchItemsWithChunks(ctx context.Context, userID string, scopeIDs []string) ([]models.Item, error) {
	scopeClause := ""
	vars := map[string]any{"user_id": userID}
	if len(scopeIDs) > 0 {
		scopeClause = "AND scope_id IN $scopes"
		vars["scopes"] = scopeIDs
	}

	sql := fmt.Sprintf(`
		SELECT *,
			(SELECT * FROM chunk WHERE item = $parent.id ORDER BY position ASC) AS chunks
		FROM item
		WHERE user_id = $user_id %s
		ORDER BY created_at DESC
	`, scopeClause)

	rows, err := queryRows[models.Item](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("fetch items with chunks: %w", err)
	}
	if rows == nil {
		rows = []models.Item{}
	}
	return rows, nil
}

// ChunkHit is a vector search result: a chunk with its parent item's title
// and the cosine similarity to the query embedding.
type ChunkHit struct {
	ID         any     `json:"id"`
	Preview    string  `json:"preview"`
	Position   int     `json:"position"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// SearchChunks performs HNSW vector search over chunk embeddings for the
// quick answer path. Results are ordered by similarity descending.
func (c *Client) SearchChunks(ctx context.Context, userID string, scopeIDs []string, embedding []float32, limit int) ([]ChunkHit, error) {
	if limit <= 0 {
		limit = 10
	}
	scopeClause := ""
	vars := map[string]any{
		"user_id": userID,
		"emb":     embedding,
		"limit":   limit,
	}
	if len(scopeIDs) > 0 {
		scopeClause = "AND item.scope_id IN $scopes"
		vars["scopes"] = scopeIDs
	}

	// HNSW with ef=40 for better recall
	sql := fmt.Sprintf(`
		SELECT id, preview, position, item.title AS title,
			vector::similarity::cosine(embedding, $emb) AS similarity
		FROM chunk
		WHERE embedding <|%d,40|> $emb
			AND item.user_id = $user_id %s
		ORDER BY similarity DESC
		LIMIT $limit
	`, limit, scopeClause)

	rows, err := queryRows[ChunkHit](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if rows == nil {
		rows = []ChunkHit{}
	}
	return rows, nil
}

// CreateItem inserts an item with its chunks. The query engine itself only
// reads items; this exists for seeding and tests.
func (c *Client) CreateItem(ctx context.Context, item models.Item, chunks []models.Chunk) (*models.Item, error) {
	rows, err := queryRows[models.Item](ctx, c, `
		CREATE item SET
			user_id = $user_id,
			scope_id = $scope_id,
			title = $title,
			source_url = $source_url,
			kind = $kind,
			metadata = $metadata
		RETURN AFTER
	`, map[string]any{
		"user_id":    item.UserID,
		"scope_id":   item.ScopeID,
		"title":      item.Title,
		"source_url": item.SourceURL,
		"kind":       item.Kind,
		"metadata":   item.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create item: no result returned")
	}
	created := rows[0]

	for _, ch := range chunks {
		err := c.exec(ctx, `
			CREATE chunk SET
				item = $item,
				position = $position,
				preview = $preview,
				embedding = $embedding
		`, map[string]any{
			"item":      created.ID,
			"position":  ch.Position,
			"preview":   ch.Preview,
			"embedding": ch.Embedding,
		})
		if err != nil {
			return nil, fmt.Errorf("create chunk: %w", err)
		}
	}
	return &created, nil
}

// DeleteItem removes an item and its chunks.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	err := c.exec(ctx, `
		DELETE chunk WHERE item = type::record("item", $id);
		DELETE type::record("item", $id);
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}
