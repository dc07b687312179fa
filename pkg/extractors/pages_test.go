package extractors

import (
	"errors"
	"testing"
	"time"

	"course-portal-go/pkg/types"
)

const homePage = `<html><body>
<ul class="portletList-img courseListing coursefakeclass">
  <li><a href=" /webapps/blackboard/execute/launcher?type=Course&id=PkId{key=_80052_1, dataType=blackboard.data.course.Course, container=blackboard.persist.DatabaseContainer@1}&url=" target="_top">04831410: 算法设计与分析(24-25学年第2学期)</a>
      <div><span>教员：</span><a href="mailto:t@example.edu">Teacher</a></div></li>
  <li><a href="/launcher?id=PkId{key=_80060_1, dataType=x}">04830041: Networks (24-25学年第2学期)</a></li>
</ul>
<ul class="portletList-img courseListing coursefakeclass">
  <li><a href="/launcher?id=PkId{key=_70001_1, dataType=x}">00100001: Calculus(23-24学年第1学期)</a></li>
</ul>
</body></html>`

func TestParseCourseList(t *testing.T) {
	courses, err := ParseCourseList([]byte(homePage))
	if err != nil {
		t.Fatalf("ParseCourseList() error = %v", err)
	}

	tests := []struct {
		id      string
		title   string
		name    string
		current bool
	}{
		{"_80052_1", "算法设计与分析(24-25学年第2学期)", "算法设计与分析", true},
		{"_80060_1", "Networks (24-25学年第2学期)", "Networks", true},
		{"_70001_1", "Calculus(23-24学年第1学期)", "Calculus", false},
	}
	if len(courses) != len(tests) {
		t.Fatalf("ParseCourseList() = %+v, want %d courses", courses, len(tests))
	}
	for i, tt := range tests {
		c := courses[i]
		if c.ID != tt.id || c.Title() != tt.title || c.Name() != tt.name || c.IsCurrent != tt.current {
			t.Errorf("courses[%d] = {%s %q %q %v}, want {%s %q %q %v}",
				i, c.ID, c.Title(), c.Name(), c.IsCurrent, tt.id, tt.title, tt.name, tt.current)
		}
	}
}

func TestParseCourseList_Missing(t *testing.T) {
	_, err := ParseCourseList([]byte(`<html><body>login required</body></html>`))
	if !errors.Is(err, types.ErrUnexpectedResponse) {
		t.Errorf("ParseCourseList() error = %v, want ErrUnexpectedResponse", err)
	}
}

func TestParseCourseEntries(t *testing.T) {
	page := `<ul id="courseMenuPalette_contents">
  <li><a href="/webapps/blackboard/execute/announcement?course_id=_1_1"><span title="课程通知">课程通知</span></a></li>
  <li><a href="/webapps/blackboard/content/listContent.jsp?course_id=_1_1&content_id=_10_1"><span> 教学内容 </span></a></li>
  <li><a href="/webapps/bb-streammedia-hqy-BBLEARN/videoList.action?course_id=_1_1"><span>课堂实录</span></a></li>
  <li><a href="/dup"><span>教学内容</span></a></li>
</ul>`
	entries, err := ParseCourseEntries([]byte(page))
	if err != nil {
		t.Fatalf("ParseCourseEntries() error = %v", err)
	}
	want := []string{"课程通知", "教学内容", "课堂实录"}
	if len(entries) != len(want) {
		t.Fatalf("ParseCourseEntries() = %+v", entries)
	}
	for i, title := range want {
		if entries[i].Title != title {
			t.Errorf("entries[%d].Title = %q, want %q", i, entries[i].Title, title)
		}
	}
	if entries[1].URI != "/webapps/blackboard/content/listContent.jsp?course_id=_1_1&content_id=_10_1" {
		t.Errorf("entries[1].URI = %q", entries[1].URI)
	}
}

func TestParseVideoList(t *testing.T) {
	page := `<table><tbody id="listContainer_databody">
<tr><th>第1周 周一</th>
  <td><span class="table-data-cell-value">2025-02-17 08:00</span></td>
  <td><span class="table-data-cell-value">Prof. Li</span></td>
  <td><span class="table-data-cell-value"><a href="playVideo.action?course_id=_1_1&sub_id=s100">观看</a></span></td></tr>
<tr><th>第1周 周三</th>
  <td><span class="table-data-cell-value">2025-02-19 10:00</span></td>
  <td><span class="table-data-cell-value">Prof. Li</span></td>
  <td><span class="table-data-cell-value"><a href="/webapps/x/playVideo.action?sub_id=s101">观看</a></span></td></tr>
</tbody></table>`
	listURL := "https://course.example.edu/webapps/bb-streammedia-hqy-BBLEARN/videoList.action?course_id=_1_1"

	videos, err := ParseVideoList([]byte(page), listURL)
	if err != nil {
		t.Fatalf("ParseVideoList() error = %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("ParseVideoList() = %+v", videos)
	}
	if videos[0].Title != "第1周 周一" || videos[0].Time != "2025-02-17 08:00" || videos[0].Teacher != "Prof. Li" {
		t.Errorf("videos[0] = %+v", videos[0])
	}
	if want := "https://course.example.edu/webapps/bb-streammedia-hqy-BBLEARN/playVideo.action?course_id=_1_1&sub_id=s100"; videos[0].URL != want {
		t.Errorf("videos[0].URL = %q, want %q", videos[0].URL, want)
	}
	if videos[1].URL != "https://course.example.edu/webapps/x/playVideo.action?sub_id=s101" {
		t.Errorf("videos[1].URL = %q", videos[1].URL)
	}
	if got := videos[0].ID("_1_1"); got != "_1_1::s100" {
		t.Errorf("ID() = %q", got)
	}
}

func TestParseVideoList_Malformed(t *testing.T) {
	page := `<table><tbody id="listContainer_databody"><tr><th>x</th><td><span class="table-data-cell-value">t</span></td></tr></tbody></table>`
	if _, err := ParseVideoList([]byte(page), "https://course.example.edu/v"); !errors.Is(err, types.ErrUnexpectedResponse) {
		t.Errorf("ParseVideoList() error = %v, want ErrUnexpectedResponse", err)
	}
}

func TestFindIframeSrc(t *testing.T) {
	tests := []struct {
		name    string
		page    string
		want    string
		wantErr bool
	}{
		{"content iframe", `<iframe src="/ad"></iframe><div id="content"><iframe src="https://player.example.edu/launch?x=1"></iframe></div>`, "https://player.example.edu/launch?x=1", false},
		{"fallback", `<div><iframe src="/player"></iframe></div>`, "/player", false},
		{"missing", `<div id="content">no player</div>`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindIframeSrc([]byte(tt.page))
			if (err != nil) != tt.wantErr {
				t.Fatalf("FindIframeSrc() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FindIframeSrc() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAssignmentPage(t *testing.T) {
	page := `<div id="assignMeta2">到期日期</div>
<div>
   2025年3月15日 星期六
   下午11:59
</div>
<form id="uploadAssignmentFormId">
  <input name="attempt_id" value="_9_1">
  <input name="course_id" value="_1_1">
  <input name="no_value">
</form>
<div class="field"><input name="textbox_prefix" value="studentSubmission."></div>`

	got, err := ParseAssignmentPage([]byte(page))
	if err != nil {
		t.Fatalf("ParseAssignmentPage() error = %v", err)
	}
	if got.Deadline != "2025年3月15日 星期六 下午11:59" {
		t.Errorf("Deadline = %q", got.Deadline)
	}
	want := map[string]string{"attempt_id": "_9_1", "course_id": "_1_1", "textbox_prefix": "studentSubmission."}
	if len(got.FormFields) != len(want) {
		t.Errorf("FormFields = %v, want %v", got.FormFields, want)
	}
	for k, v := range want {
		if got.FormFields[k] != v {
			t.Errorf("FormFields[%q] = %q, want %q", k, got.FormFields[k], v)
		}
	}
}

func TestParseCurrentAttempt(t *testing.T) {
	got, err := ParseCurrentAttempt([]byte(`<h3 id="currentAttempt_label">  尝试
	  25-3-14 下午3:00 </h3>`))
	if err != nil || got != "尝试 25-3-14 下午3:00" {
		t.Errorf("ParseCurrentAttempt() = %q, %v", got, err)
	}
	got, _ = ParseCurrentAttempt([]byte(`<div>none</div>`))
	if got != "" {
		t.Errorf("ParseCurrentAttempt() = %q, want empty", got)
	}
}

func TestParseDeadline(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{"2025年3月15日 星期六 下午11:59", time.Date(2025, 3, 15, 23, 59, 0, 0, loc), true},
		{"截止 2025年3月1日 星期六 上午9:05", time.Date(2025, 3, 1, 9, 5, 0, 0, loc), true},
		{"2025年3月1日 星期六 下午12:30", time.Date(2025, 3, 1, 12, 30, 0, 0, loc), true},
		{"2025年2月30日 星期日 上午9:00", time.Time{}, false},
		{"no deadline", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseDeadline(tt.raw, loc)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("ParseDeadline(%q) = %v, %v, want %v, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseAnnouncements(t *testing.T) {
	page := `<ul id="announcementList">
<li class="announcement"><h3><a href="/webapps/blackboard/execute/announcement?method=view&annId=_55_1">Exam moved</a></h3>
  <span class="date"> 发布时间: 2025年3月1日 </span></li>
<li class="announcement"><h3>No link</h3><span class="date">x</span></li>
<li class="announcement"><a href="/other">No date</a></li>
</ul>`
	got, err := ParseAnnouncements([]byte(page))
	if err != nil {
		t.Fatalf("ParseAnnouncements() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ParseAnnouncements() = %+v, want 1 item", got)
	}
	if got[0].ID != "_55_1" || got[0].Title != "Exam moved" || got[0].Time != "发布时间: 2025年3月1日" {
		t.Errorf("announcement = %+v", got[0])
	}
}

func TestAnnouncementText(t *testing.T) {
	page := `<html><body><div id="content"><h2>Exam moved</h2>
<p>The exam is now on Friday.</p><script>track()</script></div></body></html>`
	got, err := AnnouncementText([]byte(page))
	if err != nil {
		t.Fatalf("AnnouncementText() error = %v", err)
	}
	if got != "Exam moved\nThe exam is now on Friday." {
		t.Errorf("AnnouncementText() = %q", got)
	}
}
