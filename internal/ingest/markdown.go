// Package ingest loads markdown documents into the knowledge base as items
// with embedded chunks. The query engine itself only reads items; this is the
// seeding side.
package ingest

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a parsed markdown file ready for chunking.
type Document struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from frontmatter or the first h1
	Title string

	// Body is the content after frontmatter
	Body string

	// Sections split by heading, in document order
	Sections []Section
}

// Section is one heading and the content under it.
type Section struct {
	Heading string
	Level   int
	Content string
}

var (
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
)

// Parse parses markdown content into structured form. YAML frontmatter errors
// are ignored; the document is still usable without metadata.
func Parse(content string) *Document {
	doc := &Document{Frontmatter: make(map[string]any)}

	body := content
	if strings.HasPrefix(content, "---\n") {
		if endIdx := strings.Index(content[4:], "\n---"); endIdx > 0 {
			if err := yaml.Unmarshal([]byte(content[4:4+endIdx]), &doc.Frontmatter); err != nil {
				doc.Frontmatter = make(map[string]any)
			}
			body = strings.TrimPrefix(content[4+endIdx+4:], "\n")
		}
	}

	doc.Body = body
	doc.Title = extractTitle(doc.Frontmatter, body)
	doc.Sections = splitSections(body)
	return doc
}

// FrontmatterString extracts a string value from frontmatter.
func (d *Document) FrontmatterString(key string) string {
	if v, ok := d.Frontmatter[key].(string); ok {
		return v
	}
	return ""
}

func extractTitle(fm map[string]any, body string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if match := h1Regex.FindStringSubmatch(body); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

// splitSections breaks the body at headings. Content before the first heading
// becomes an untitled leading section.
func splitSections(body string) []Section {
	var sections []Section
	current := Section{}
	var content strings.Builder

	flush := func() {
		current.Content = strings.TrimSpace(content.String())
		if current.Content != "" || current.Heading != "" {
			sections = append(sections, current)
		}
		content.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if match := headingRegex.FindStringSubmatch(line); len(match) > 0 {
			flush()
			current = Section{Level: len(match[1]), Heading: strings.TrimSpace(match[2])}
			continue
		}
		content.WriteString(line)
		content.WriteString("\n")
	}
	flush()

	return sections
}
