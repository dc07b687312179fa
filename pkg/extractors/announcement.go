package extractors

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"course-portal-go/pkg/types"
)

// ParseAnnouncements reads the announcement list page. Items missing a link
// or a date are skipped.
func ParseAnnouncements(page []byte) ([]types.AnnouncementMeta, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return nil, err
	}

	var out []types.AnnouncementMeta
	doc.Find("li.announcement").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a").First()
		href, ok := a.Attr("href")
		date := li.Find("span.date").First()
		if !ok || date.Length() == 0 {
			return
		}
		id := href
		if _, after, found := strings.Cut(href, "annId="); found {
			id = after
		}
		out = append(out, types.AnnouncementMeta{
			ID:    id,
			Title: strings.TrimSpace(a.Text()),
			Time:  collapseSpace(date.Text()),
			Href:  href,
		})
	})
	return out, nil
}

// AnnouncementText returns the readable text of an announcement page body.
func AnnouncementText(page []byte) (string, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return "", err
	}
	body := doc.Find("#content").First()
	if body.Length() == 0 {
		body = doc.Find("body")
	}
	var lines []string
	for _, line := range strings.Split(collectText(body), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
