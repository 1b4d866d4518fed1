// Package converter turns uploaded files into structured text blocks and a
// markdown rendering kept next to the knowledge base.
package converter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/ragjobs/core"
)

// Format is the detected input format of a file.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatText     Format = "text"
)

// BlockKind classifies a converted block.
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockCode
)

// Block is one structural unit of a converted document.
type Block struct {
	Kind BlockKind
	// Level is the heading depth (1-6). Zero for non-headings.
	Level int
	Text  string
	// Page is the 1-based source page, or zero when the format has no pages.
	Page int
}

// Document is the structured result of a conversion.
type Document struct {
	Title     string
	Format    Format
	PageCount int
	Blocks    []Block
}

// RenderTarget names where the markdown rendering of a document is written:
// Dir/Collection/DocumentID.md.
type RenderTarget struct {
	Dir        string
	Collection string
	DocumentID string
}

// Path returns the rendering path, or "" when no directory is configured.
func (t RenderTarget) Path() string {
	if t.Dir == "" {
		return ""
	}
	return filepath.Join(t.Dir, t.Collection, t.DocumentID+".md")
}

// Converter is the document conversion capability used by ingestion.
type Converter interface {
	// Convert parses the file at filePath and writes its markdown rendering
	// to target. It returns the structured document and the rendering path.
	Convert(ctx context.Context, filePath string, target RenderTarget) (*Document, string, error)
}

// FileConverter dispatches on file extension.
type FileConverter struct {
	logger *slog.Logger
}

var _ Converter = (*FileConverter)(nil)

// Option configures a FileConverter.
type Option func(*FileConverter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *FileConverter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a FileConverter.
func New(opts ...Option) *FileConverter {
	c := &FileConverter{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "converter")
	return c
}

// DetectFormat maps a file name to a Format.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".txt", ".text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// Convert parses filePath according to its extension.
func (c *FileConverter) Convert(ctx context.Context, filePath string, target RenderTarget) (*Document, string, error) {
	format, err := DetectFormat(filePath)
	if err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	var (
		doc      *Document
		markdown string
	)
	switch format {
	case FormatPDF:
		doc, markdown, err = c.convertPDF(filePath)
	default:
		var src []byte
		src, err = os.ReadFile(filePath)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", core.ErrDocumentParsing, err)
		}
		switch format {
		case FormatMarkdown:
			doc, markdown = convertMarkdown(src), string(src)
		case FormatHTML:
			doc, markdown, err = convertHTML(src)
		case FormatText:
			doc, markdown = convertText(src), string(src)
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", core.ErrDocumentParsing, err)
	}
	doc.Format = format
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}

	path, err := writeRendering(target, markdown)
	if err != nil {
		return nil, "", err
	}
	c.logger.Debug("converted document", "file", filepath.Base(filePath), "format", format, "blocks", len(doc.Blocks))
	return doc, path, nil
}

// RemoveRendering deletes a rendering written by Convert. Missing files are ignored.
func RemoveRendering(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeRendering(target RenderTarget, markdown string) (string, error) {
	path := target.Path()
	if path == "" {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating render directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(markdown), 0644); err != nil {
		return "", fmt.Errorf("writing rendering: %w", err)
	}
	return path, nil
}

// convertText splits plain text into paragraphs on blank lines.
func convertText(src []byte) *Document {
	doc := &Document{}
	for _, para := range splitParagraphs(string(src)) {
		doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: para})
	}
	return doc
}

func splitParagraphs(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var out []string
	for _, part := range strings.Split(s, "\n\n") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
