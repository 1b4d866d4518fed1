package converter

import (
	"bytes"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// convertHTML converts the page to markdown and parses the result, taking the
// title from the <title> element when present.
func convertHTML(src []byte) (*Document, string, error) {
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(string(src))
	if err != nil {
		return nil, "", err
	}

	doc := convertMarkdown([]byte(markdown))
	if page, err := goquery.NewDocumentFromReader(bytes.NewReader(src)); err == nil {
		if title := strings.TrimSpace(page.Find("title").First().Text()); title != "" {
			doc.Title = title
		}
	}
	return doc, markdown, nil
}
