package converter

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// convertPDF validates the file with pdfcpu, then pulls each page's plain
// text and splits it into paragraphs tagged with their page number.
func (c *FileConverter) convertPDF(filePath string) (*Document, string, error) {
	pageCount, err := api.PageCountFile(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("reading pdf: %w", err)
	}

	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	if n := reader.NumPage(); n != pageCount {
		c.logger.Warn("pdf page counts disagree", "file", filePath, "pdfcpu", pageCount, "reader", n)
		pageCount = min(pageCount, n)
	}

	doc := &Document{PageCount: pageCount}
	var rendering strings.Builder
	for page := 1; page <= pageCount; page++ {
		text, err := pageText(reader, page)
		if err != nil {
			return nil, "", fmt.Errorf("extracting text from page %d: %w", page, err)
		}
		fmt.Fprintf(&rendering, "<!-- page %d -->\n\n", page)
		for _, para := range splitParagraphs(text) {
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: para, Page: page})
			rendering.WriteString(para)
			rendering.WriteString("\n\n")
		}
	}
	return doc, rendering.String(), nil
}

// pageText returns the plain text of one page. Pages without a dictionary
// yield "". The reader panics on some malformed streams.
func pageText(reader *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page content: %v", r)
		}
	}()

	p := reader.Page(num)
	if p.V.IsNull() {
		return "", nil
	}
	fonts := make(map[string]*pdf.Font)
	for _, name := range p.Fonts() {
		font := p.Font(name)
		fonts[name] = &font
	}
	return p.GetPlainText(fonts)
}
