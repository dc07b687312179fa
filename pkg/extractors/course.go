package extractors

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"course-portal-go/pkg/types"
)

var courseKeyRe = regexp.MustCompile(`key=([\d_]+),`)

// ParseCourseList reads the portal home page. The first "ul.courseListing"
// holds the current semester's courses and the second the earlier ones.
// Anchors without a course key are ignored.
func ParseCourseList(page []byte) ([]types.CourseMeta, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return nil, err
	}

	lists := doc.Find("ul.courseListing")
	if lists.Length() == 0 {
		return nil, fmt.Errorf("%w: course listing not found", types.ErrUnexpectedResponse)
	}

	var courses []types.CourseMeta
	lists.Each(func(i int, ul *goquery.Selection) {
		if i > 1 {
			return
		}
		ul.Find("li a").Each(func(_ int, a *goquery.Selection) {
			m := courseKeyRe.FindStringSubmatch(a.AttrOr("href", ""))
			if m == nil {
				return
			}
			courses = append(courses, types.CourseMeta{
				ID:        m[1],
				LongTitle: strings.TrimSpace(a.Text()),
				IsCurrent: i == 0,
			})
		})
	})
	return courses, nil
}

// ParseCourseEntries reads a course's left navigation menu, in page order.
// Repeated titles keep their first link.
func ParseCourseEntries(page []byte) ([]types.Entry, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return nil, err
	}

	var entries []types.Entry
	seen := make(map[string]bool)
	doc.Find("#courseMenuPalette_contents > li > a").Each(func(_ int, a *goquery.Selection) {
		title := collapseSpace(a.Text())
		href, ok := a.Attr("href")
		if !ok || title == "" || seen[title] {
			return
		}
		seen[title] = true
		entries = append(entries, types.Entry{Title: title, URI: href})
	})
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: course menu not found", types.ErrUnexpectedResponse)
	}
	return entries, nil
}
