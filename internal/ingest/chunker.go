package ingest

import (
	"strings"
	"unicode"
)

// ChunkConfig defines chunking parameters.
type ChunkConfig struct {
	// Threshold: documents at or below this length become a single chunk
	Threshold int
	// TargetSize: ideal chunk size in bytes
	TargetSize int
	// MinSize: smaller trailing pieces merge with their predecessor
	MinSize int
	// MaxSize: larger pieces split at sentence boundaries
	MaxSize int
}

// DefaultChunkConfig returns sensible defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Threshold:  1500,
		TargetSize: 750,
		MinSize:    200,
		MaxSize:    1000,
	}
}

// Chunk splits a document into embedding-sized text pieces. Section
// boundaries are preferred, then paragraphs, then sentences.
func Chunk(doc *Document, config ChunkConfig) []string {
	if len(doc.Body) <= config.Threshold {
		body := strings.TrimSpace(doc.Body)
		if body == "" {
			return nil
		}
		return []string{body}
	}

	var pieces []string
	if len(doc.Sections) > 0 {
		for _, section := range doc.Sections {
			text := section.Content
			if section.Heading != "" {
				text = section.Heading + "\n\n" + text
			}
			pieces = append(pieces, splitText(text, config)...)
		}
	} else {
		pieces = splitText(doc.Body, config)
	}

	return mergeSmall(pieces, config.MinSize)
}

// splitText breaks text at paragraph boundaries, falling back to sentences
// for oversized paragraphs.
func splitText(text string, config ChunkConfig) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len()+len(para) > config.MaxSize {
			flush()
		}
		if len(para) > config.MaxSize {
			chunks = append(chunks, splitSentences(para, config.TargetSize)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// splitSentences packs sentences into pieces of roughly targetSize.
func splitSentences(text string, targetSize int) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range sentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if current.Len()+len(sentence) > targetSize && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

// sentences splits text at sentence-ending punctuation followed by a space.
// Single uppercase letters before the period are treated as abbreviations.
func sentences(text string) []string {
	var out []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				continue
			}
			if i > 1 && unicode.IsUpper(runes[i-1]) {
				continue
			}
			out = append(out, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}

	return out
}

// mergeSmall folds pieces below minSize into their predecessor.
func mergeSmall(pieces []string, minSize int) []string {
	var out []string
	for _, p := range pieces {
		if len(p) < minSize && len(out) > 0 {
			out[len(out)-1] += "\n\n" + p
			continue
		}
		out = append(out, p)
	}
	return out
}
