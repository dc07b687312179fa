// Package extractors parses the portal's server-rendered HTML pages into
// domain values. Every parser works on raw page bytes so it can be tested
// against saved pages without a network.
package extractors

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"course-portal-go/pkg/types"
)

func parseDocument(page []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", types.ErrUnexpectedResponse, err)
	}
	return doc, nil
}

// collectText concatenates the text below s, skipping script and style
// elements.
func collectText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		writeText(&b, n)
	}
	return b.String()
}

func writeText(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
		case html.ElementNode:
			if c.Data == "script" || c.Data == "style" {
				continue
			}
			writeText(b, c)
		}
	}
}

// collapseSpace joins whitespace-separated fields with single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
