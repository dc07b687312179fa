package extractors

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"course-portal-go/pkg/types"
	"course-portal-go/pkg/urlutil"
)

// ParseVideoList reads the recorded lecture table. Links are resolved
// against listURL, the address the page was fetched from.
func ParseVideoList(page []byte, listURL string) ([]types.VideoMeta, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return nil, err
	}

	var (
		videos []types.VideoMeta
		rowErr error
	)
	doc.Find("tbody#listContainer_databody > tr").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		title := strings.TrimSpace(tr.Children().First().Text())
		values := tr.Find("span.table-data-cell-value")
		if values.Length() < 3 {
			rowErr = fmt.Errorf("%w: video row %d has %d value cells", types.ErrUnexpectedResponse, i, values.Length())
			return false
		}
		href, ok := values.Eq(2).Children().First().Attr("href")
		if !ok {
			rowErr = fmt.Errorf("%w: video row %d has no link", types.ErrUnexpectedResponse, i)
			return false
		}
		videos = append(videos, types.VideoMeta{
			Title:   title,
			Time:    strings.TrimSpace(values.Eq(0).Text()),
			Teacher: strings.TrimSpace(values.Eq(1).Text()),
			URL:     urlutil.ResolveURL(href, listURL),
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return videos, nil
}

// FindIframeSrc returns the src of the player iframe inside "#content",
// falling back to the first iframe on the page.
func FindIframeSrc(page []byte) (string, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return "", err
	}
	for _, sel := range []string{"#content iframe[src]", "iframe[src]"} {
		if src := strings.TrimSpace(doc.Find(sel).First().AttrOr("src", "")); src != "" {
			return src, nil
		}
	}
	return "", fmt.Errorf("%w: iframe not found", types.ErrUnexpectedResponse)
}
