package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lindqvist/mapfold/internal/models"
)

// Embedder produces embedding vectors for chunk text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ItemWriter persists items with their chunks.
type ItemWriter interface {
	CreateItem(ctx context.Context, item models.Item, chunks []models.Chunk) (*models.Item, error)
}

// Seeder loads markdown files into the knowledge base.
type Seeder struct {
	store    ItemWriter
	embedder Embedder
	config   ChunkConfig
}

// NewSeeder creates a seeder with default chunking.
func NewSeeder(store ItemWriter, embedder Embedder) *Seeder {
	return &Seeder{store: store, embedder: embedder, config: DefaultChunkConfig()}
}

// Result summarizes a seeding run.
type Result struct {
	FilesProcessed int
	ItemsCreated   int
	ChunksCreated  int
	Errors         []string
}

// SeedDirectory loads every .md file under dir into the given user's scope.
// Individual file failures are collected, not fatal.
func (s *Seeder) SeedDirectory(ctx context.Context, dir, userID, scopeID string) (*Result, error) {
	result := &Result{}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result.FilesProcessed++
		if err := s.SeedFile(ctx, path, userID, scopeID, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			slog.Warn("failed to seed file", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("walk %s: %w", dir, err)
	}
	return result, nil
}

// SeedFile loads one markdown file as an item with embedded chunks.
func (s *Seeder) SeedFile(ctx context.Context, path, userID, scopeID string, result *Result) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	doc := Parse(string(data))
	title := doc.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	kind := doc.FrontmatterString("kind")
	if kind == "" {
		kind = "document"
	}

	pieces := Chunk(doc, s.config)
	if len(pieces) == 0 {
		return fmt.Errorf("no content")
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		embedding, err := s.embedder.Embed(ctx, piece)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", i, err)
		}
		chunks[i] = models.Chunk{Position: i, Preview: piece, Embedding: embedding}
	}

	metadata := doc.Frontmatter
	if len(metadata) == 0 {
		metadata = nil
	}

	_, err = s.store.CreateItem(ctx, models.Item{
		UserID:   userID,
		ScopeID:  scopeID,
		Title:    title,
		Kind:     kind,
		Metadata: metadata,
	}, chunks)
	if err != nil {
		return err
	}

	result.ItemsCreated++
	result.ChunksCreated += len(chunks)
	slog.Debug("seeded item", "path", path, "title", title, "chunks", len(chunks))
	return nil
}
