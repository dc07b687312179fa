package extractors

import (
	"regexp"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// AssignmentPage holds the fields read from an assignment upload page.
type AssignmentPage struct {
	Deadline   string            `json:"deadline,omitempty"`
	FormFields map[string]string `json:"form_fields,omitempty"`
}

// ParseAssignmentPage reads the deadline and the hidden submission form
// fields from an assignment upload page.
func ParseAssignmentPage(page []byte) (*AssignmentPage, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return nil, err
	}

	out := &AssignmentPage{FormFields: make(map[string]string)}
	if d := doc.Find("#assignMeta2 + div").First(); d.Length() > 0 {
		out.Deadline = collapseSpace(d.Text())
	}

	collect := func(_ int, input *goquery.Selection) {
		name, hasName := input.Attr("name")
		value, hasValue := input.Attr("value")
		if hasName && hasValue {
			out.FormFields[name] = value
		}
	}
	doc.Find("form#uploadAssignmentFormId input").Each(collect)
	doc.Find("div.field input").Each(collect)

	return out, nil
}

// ParseCurrentAttempt returns the attempt label of an assignment view page,
// or "" when nothing has been submitted.
func ParseCurrentAttempt(page []byte) (string, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return "", err
	}
	return collapseSpace(doc.Find("h3#currentAttempt_label").First().Text()), nil
}

var deadlineRe = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日 星期. (上午|下午)(\d{1,2}):(\d{1,2})`)

// ParseDeadline parses the portal's localized deadline text, for example
// "2024年3月15日 星期五 下午11:59", in loc.
func ParseDeadline(raw string, loc *time.Location) (time.Time, bool) {
	m := deadlineRe.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}
	nums := make([]int, 0, 5)
	for _, idx := range []int{1, 2, 3, 5, 6} {
		n, err := strconv.Atoi(m[idx])
		if err != nil {
			return time.Time{}, false
		}
		nums = append(nums, n)
	}
	year, month, day, hour, minute := nums[0], nums[1], nums[2], nums[3], nums[4]
	if m[4] == "下午" && hour < 12 {
		hour += 12
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
