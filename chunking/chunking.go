// Package chunking splits converted documents into retrievable chunks along
// heading boundaries.
package chunking

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/poiesic/ragjobs/converter"
	"github.com/poiesic/ragjobs/core"
)

const (
	// DefaultMaxChars approximates a 512 token embedding window.
	DefaultMaxChars = 2000
	DefaultOverlap  = 200

	sectionSeparator = " > "
)

// ErrInvalidOptions is returned for inconsistent size settings.
var ErrInvalidOptions = errors.New("chunking: invalid options")

// Source identifies the document chunks belong to.
type Source struct {
	DocumentID   string
	CollectionID string
	Filename     string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxChars caps the size of a chunk in characters.
func WithMaxChars(n int) Option {
	return func(c *Chunker) { c.maxChars = n }
}

// WithOverlap sets how many characters consecutive pieces of an oversize
// section share.
func WithOverlap(n int) Option {
	return func(c *Chunker) { c.overlap = n }
}

// Chunker groups consecutive blocks of one section into chunks no larger
// than maxChars. A section larger than that is split recursively on
// paragraph, line and word boundaries.
type Chunker struct {
	maxChars int
	overlap  int
	splitter textsplitter.RecursiveCharacter
}

// New creates a Chunker.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{maxChars: DefaultMaxChars, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxChars <= 0 || c.overlap < 0 || c.overlap >= c.maxChars {
		return nil, fmt.Errorf("%w: max %d, overlap %d", ErrInvalidOptions, c.maxChars, c.overlap)
	}
	c.splitter = textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.maxChars),
		textsplitter.WithChunkOverlap(c.overlap),
	)
	return c, nil
}

// section accumulates the blocks of the current heading path.
type section struct {
	path  string
	parts []string
	size  int
	pages []int
}

func (s *section) add(b converter.Block) {
	s.parts = append(s.parts, b.Text)
	s.size += utf8.RuneCountInString(b.Text)
	if b.Page > 0 && !slices.Contains(s.pages, b.Page) {
		s.pages = append(s.pages, b.Page)
	}
}

func (s *section) reset() {
	s.parts = nil
	s.size = 0
	s.pages = nil
}

// Split turns doc into chunks. Chunks carry no ID or vector yet.
func (c *Chunker) Split(doc *converter.Document, src Source) ([]core.Chunk, error) {
	var (
		chunks   []core.Chunk
		headings []string
		current  section
	)

	flush := func() error {
		defer current.reset()
		text := strings.TrimSpace(strings.Join(current.parts, "\n\n"))
		if text == "" {
			return nil
		}
		pieces := []string{text}
		if utf8.RuneCountInString(text) > c.maxChars {
			var err error
			pieces, err = c.splitter.SplitText(text)
			if err != nil {
				return fmt.Errorf("splitting section %q: %w", current.path, err)
			}
		}
		pages := slices.Clone(current.pages)
		slices.Sort(pages)
		for _, piece := range pieces {
			if piece = strings.TrimSpace(piece); piece == "" {
				continue
			}
			chunks = append(chunks, core.Chunk{
				DocumentID:   src.DocumentID,
				CollectionID: src.CollectionID,
				Filename:     src.Filename,
				Text:         piece,
				SectionPath:  current.path,
				Pages:        pages,
			})
		}
		return nil
	}

	for _, block := range doc.Blocks {
		if block.Kind == converter.BlockHeading {
			if err := flush(); err != nil {
				return nil, err
			}
			headings = pushHeading(headings, block.Level, block.Text)
			current.path = joinPath(headings)
			continue
		}
		if strings.TrimSpace(block.Text) == "" {
			continue
		}
		blockSize := utf8.RuneCountInString(block.Text)
		if len(current.parts) > 0 && current.size+blockSize+2 > c.maxChars {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current.add(block)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// pushHeading truncates the stack to the heading's parent level and pushes it.
func pushHeading(stack []string, level int, text string) []string {
	if level < 1 {
		level = 1
	}
	if len(stack) >= level {
		stack = stack[:level-1]
	}
	for len(stack) < level-1 {
		stack = append(stack, "")
	}
	return append(stack, strings.TrimSpace(text))
}

func joinPath(stack []string) string {
	parts := make([]string, 0, len(stack))
	for _, h := range stack {
		if h != "" {
			parts = append(parts, h)
		}
	}
	return strings.Join(parts, sectionSeparator)
}
