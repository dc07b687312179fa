// Package portaltest runs an in-process fake of the course portal, its IAAA
// login service and the lecture video API, for tests.
package portaltest

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"course-portal-go/pkg/config"
	"course-portal-go/pkg/crypto"
)

// Fixture identifiers.
const (
	Username = "2100012345"
	Password = "secret"

	CourseID    = "_1_1"
	OldCourseID = "_0_1"
	VideoSubID  = "s1"

	sessionCookie = "s_session_id"
	sessionValue  = "fake-session"
	token         = "fake-token"
	authData      = "fake-auth"
)

// Segments is the plaintext of the fixture lecture, one entry per segment.
var Segments = func() [][]byte {
	out := make([][]byte, 4)
	for i := range out {
		out[i] = []byte(strings.Repeat(fmt.Sprintf("segment %d payload;", i), 20+i))
	}
	return out
}()

// Attachment is the body served for the fixture homework attachment.
var Attachment = []byte("%PDF-1.4 homework one")

// SyllabusAttachment is the body served for the fixture syllabus attachment.
var SyllabusAttachment = []byte("week 1: sorting\nweek 2: graphs\n")

var (
	keyOne = []byte("0123456789abcdef")
	keyTwo = []byte("fedcba9876543210")
)

const (
	mediaSequence = 7
	explicitIV    = "0x000102030405060708090a0b0c0d0e0f"
)

// Submission is one assignment upload received by the fake.
type Submission struct {
	Fields      map[string]string
	FileName    string
	ContentType string
	Data        []byte
}

// Portal is a running fake portal.
type Portal struct {
	Server *httptest.Server

	// FailContent makes listing requests for these content ids fail with
	// a 500 this many more times.
	FailContent map[string]int

	mu          sync.Mutex
	hits        map[string]int
	submissions []Submission
	segments    [][]byte
}

// New starts a fake portal that is shut down when the test ends.
func New(t testing.TB) *Portal {
	t.Helper()
	p := &Portal{
		FailContent: make(map[string]int),
		hits:        make(map[string]int),
	}
	p.segments = encryptSegments(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /iaaa/oauthlogin.do", p.iaaaLogin)
	mux.HandleFunc("GET /webapps/bb-sso-BBLEARN/execute/authValidate/campusLogin", p.ssoLogin)
	mux.HandleFunc("GET /webapps/portal/execute/tabs/tabAction", p.auth(p.home))
	mux.HandleFunc("GET /webapps/blackboard/execute/announcement", p.auth(p.courseMenu))
	mux.HandleFunc("GET /webapps/blackboard/execute/launcher", p.auth(p.announcementLauncher))
	mux.HandleFunc("GET /webapps/blackboard/announcement/list", p.auth(p.announcementList))
	mux.HandleFunc("GET /webapps/blackboard/announcement/view", p.auth(p.announcementView))
	mux.HandleFunc("GET /webapps/blackboard/content/listContent.jsp", p.auth(p.listContent))
	mux.HandleFunc("GET /webapps/assignment/uploadAssignment", p.auth(p.assignmentPage))
	mux.HandleFunc("POST /webapps/assignment/uploadAssignment", p.auth(p.assignmentSubmit))
	mux.HandleFunc("GET /webapps/bb-streammedia-hqy-BBLEARN/videoList.action", p.auth(p.videoList))
	mux.HandleFunc("GET /webapps/bb-streammedia-hqy-BBLEARN/playVideo.action", p.auth(p.videoLanding))
	mux.HandleFunc("GET /webapps/bb-streammedia-hqy-BBLEARN/launch", p.auth(p.videoLaunch))
	mux.HandleFunc("GET /courseapi/v2/schedule/get-sub-info-by-auth-data", p.subInfo)
	mux.HandleFunc("GET /hls/s1/index.m3u8", p.playlist)
	mux.HandleFunc("GET /hls/s1/{segment}", p.segment)
	mux.HandleFunc("GET /hls/keys/{key}", p.key)
	mux.HandleFunc("GET /bbcswebdav/pid-1/hw1.pdf", p.auth(p.attachmentRedirect))
	mux.HandleFunc("GET /files/hw1.pdf", p.auth(p.attachmentFile))
	mux.HandleFunc("GET /bbcswebdav/pid-2/syllabus.txt", p.auth(p.syllabusFile))

	p.Server = httptest.NewServer(p.count(mux))
	t.Cleanup(p.Server.Close)
	return p
}

// URL is the base URL of every fake service.
func (p *Portal) URL() string {
	return p.Server.URL
}

// Config returns a configuration pointing every base URL at the fake, with
// an in-memory cache and fast retries.
func (p *Portal) Config() *config.Config {
	cfg := config.Defaults()
	cfg.PortalBaseURL = p.URL()
	cfg.IAAABaseURL = p.URL()
	cfg.VideoAPIBaseURL = p.URL()
	cfg.Username = Username
	cfg.Password = Password
	cfg.CacheDir = ""
	cfg.HTTPRetries = 0
	cfg.RequestsPerSecond = 0
	cfg.CrawlRetryBaseDelay = time.Millisecond
	cfg.CrawlRetryMaxDelay = 5 * time.Millisecond
	return cfg
}

// Hits returns how many requests reached path.
func (p *Portal) Hits(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

// Submissions returns the uploads received so far.
func (p *Portal) Submissions() []Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Submission(nil), p.submissions...)
}

// Plaintext returns the whole fixture lecture, decrypted.
func Plaintext() []byte {
	var out []byte
	for _, s := range Segments {
		out = append(out, s...)
	}
	return out
}

func (p *Portal) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.hits[r.URL.Path]++
		p.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (p *Portal) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil || c.Value != sessionValue {
			http.Redirect(w, r, "/webapps/login/", http.StatusFound)
			return
		}
		next(w, r)
	}
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, "<html><body>"+body+"</body></html>")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (p *Portal) iaaaLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("appid") != "blackboard" || r.PostForm.Get("userName") != Username || r.PostForm.Get("password") != Password {
		writeJSON(w, map[string]any{"success": false, "errors": map[string]string{"msg": "用户名或密码错误"}})
		return
	}
	writeJSON(w, map[string]any{"success": true, "token": token})
}

func (p *Portal) ssoLogin(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != token || r.URL.Query().Get("_rand") == "" {
		http.Error(w, "bad token", http.StatusForbidden)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sessionValue, Path: "/"})
	http.Redirect(w, r, "/webapps/portal/execute/tabs/tabAction?tab_tab_group_id=_1_1", http.StatusFound)
}

func courseLink(id, title string) string {
	return fmt.Sprintf(`<li><a href="/webapps/blackboard/execute/launcher?type=Course&amp;id=PkId{key=%s, dataType=blackboard.data.course.Course, container=blackboard.persist.DatabaseContainer@1}&amp;url=">%s</a></li>`, id, html.EscapeString(title))
}

func (p *Portal) home(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, `<ul class="portletList-img courseListing coursefakeclass">`+
		courseLink(CourseID, "CS101: Algorithms(24-25学年第2学期)")+
		`</ul><ul class="portletList-img courseListing coursefakeclass">`+
		courseLink(OldCourseID, "MA100: Calculus(23-24学年第1学期)")+
		`</ul>`)
}

func menuItem(title, href string) string {
	return fmt.Sprintf(`<li><a href="%s"><span title="%s">%s</span></a></li>`, html.EscapeString(href), title, title)
}

func (p *Portal) courseMenu(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("course_id")
	if id == OldCourseID {
		writeHTML(w, `<ul id="courseMenuPalette_contents">`+
			menuItem("教学内容", "/webapps/blackboard/content/listContent.jsp?course_id=_0_1&content_id=_old_1")+
			`</ul>`)
		return
	}
	if id != CourseID {
		http.NotFound(w, r)
		return
	}
	writeHTML(w, `<ul id="courseMenuPalette_contents">`+
		menuItem("课程通知", "/webapps/blackboard/execute/launcher?type=Course&id=_1_1&url=announcements")+
		menuItem("教学内容", "/webapps/blackboard/content/listContent.jsp?course_id=_1_1&content_id=_root_1")+
		menuItem("课程资料", "/webapps/blackboard/content/listContent.jsp?course_id=_1_1&content_id=_res_1")+
		menuItem("课堂实录", "/webapps/bb-streammedia-hqy-BBLEARN/videoList.action?course_id=_1_1")+
		`</ul>`)
}

func (p *Portal) announcementLauncher(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/webapps/blackboard/announcement/list?course_id="+r.URL.Query().Get("id"), http.StatusFound)
}

func (p *Portal) announcementList(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, `<ul id="announcementList">
<li class="announcement"><h3><a href="/webapps/blackboard/announcement/view?annId=_55_1">Midterm moved</a></h3>
<span class="date">发布时间: 2025年3月1日 星期六 上午10:00</span></li>
</ul>`)
}

func (p *Portal) announcementView(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, `<div id="content"><h2>Midterm moved</h2>
<p>The midterm is now on Friday.</p></div>`)
}

func listItem(alt, id, title string, link bool, details string) string {
	t := html.EscapeString(title)
	if link {
		t = `<a href="/webapps/blackboard/content/listContent.jsp?content_id=` + id + `"><span>` + t + `</span></a>`
	}
	return fmt.Sprintf(`<li><img alt="%s" src="/images/ci/icon.gif"><div id="%s"><h3>%s</h3></div><div class="details">%s</div></li>`, alt, id, t, details)
}

// contentPages are the listing pages of the fixture course, by content id.
var contentPages = map[string]string{
	"_root_1": listItem("内容文件夹", "_w1_1", "Week 1", true, "") +
		listItem("作业", "_hw1_1", "Homework 1", true,
			`<div class="vtbegenerated"><p>Implement quicksort.</p></div>`+
				`<ul class="attachments"><li><a href="/bbcswebdav/pid-1/hw1.pdf">hw1.pdf</a></li></ul>`) +
		listItem("项目", "_syl_1", "Syllabus", false, `<div class="vtbegenerated"><p>Read before class.</p></div>`+
			`<ul class="attachments"><li><a href="/bbcswebdav/pid-2/syllabus.txt">syllabus.txt</a></li></ul>`),
	"_w1_1": listItem("文件", "_sl1_1", "Slides 1", true, "") +
		listItem("内容文件夹", "_ex_1", "Extra", true, ""),
	"_ex_1":  "",
	"_res_1": listItem("文件", "_rd_1", "Reading List", true, ""),
	"_old_1": "",
}

func (p *Portal) listContent(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("content_id")
	p.mu.Lock()
	fail := p.FailContent[id]
	if fail > 0 {
		p.FailContent[id] = fail - 1
	}
	p.mu.Unlock()
	if fail > 0 {
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}

	items, ok := contentPages[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeHTML(w, `<ul id="content_listContainer" class="contentList">`+items+`</ul>`)
}

func (p *Portal) assignmentPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("content_id") != "_hw1_1" || q.Get("course_id") != CourseID {
		http.NotFound(w, r)
		return
	}
	if q.Get("mode") == "view" {
		writeHTML(w, `<h3 id="currentAttempt_label">尝试
  2025-3-10 下午3:00</h3>`)
		return
	}
	var inputs strings.Builder
	for _, name := range []string{
		"attempt_id", "blackboard.platform.security.NonceUtil.nonce",
		"blackboard.platform.security.NonceUtil.nonce.ajax", "content_id", "course_id",
		"isAjaxSubmit", "lu_link_id", "mode", "recallUrl", "remove_file_id",
		"studentSubmission.text_f", "studentSubmission.text_w", "studentSubmission.type",
		"student_commentstext_f", "student_commentstext_w", "student_commentstype",
	} {
		fmt.Fprintf(&inputs, `<input type="hidden" name="%s" value="v-%s">`, name, name)
	}
	writeHTML(w, `<div id="assignMeta2">到期日期</div><div>
  2025年3月15日 星期六
  下午11:59</div>
<form id="uploadAssignmentFormId">`+inputs.String()+`</form>
<div class="field"><input name="textbox_prefix" value="studentSubmission."></div>`)
}

func (p *Portal) assignmentSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("newFile_LocalFile0")
	if err != nil {
		http.Error(w, "尝试呈现错误页面时发生严重的内部错误", http.StatusInternalServerError)
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)

	sub := Submission{
		Fields:      make(map[string]string),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	for k, v := range r.MultipartForm.Value {
		sub.Fields[k] = v[0]
	}
	p.mu.Lock()
	p.submissions = append(p.submissions, sub)
	p.mu.Unlock()
	writeHTML(w, "ok")
}

func (p *Portal) videoList(w http.ResponseWriter, _ *http.Request) {
	writeHTML(w, `<table><tbody id="listContainer_databody">
<tr><th>Lecture 1</th>
<td><span class="table-data-cell-value">2025-02-17 08:00</span></td>
<td><span class="table-data-cell-value">Prof. Li</span></td>
<td><span class="table-data-cell-value"><a href="playVideo.action?course_id=_1_1&amp;sub_id=s1">watch</a></span></td></tr>
</tbody></table>`)
}

func (p *Portal) videoLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("sub_id") != VideoSubID {
		http.NotFound(w, r)
		return
	}
	writeHTML(w, `<div id="content"><iframe src="/webapps/bb-streammedia-hqy-BBLEARN/launch?sub_id=s1"></iframe></div>`)
}

func (p *Portal) videoLaunch(w http.ResponseWriter, r *http.Request) {
	loc := fmt.Sprintf("%s/player/index.html?course_id=%s&sub_id=%s&app_id=4&auth_data=%s",
		p.URL(), CourseID, r.URL.Query().Get("sub_id"), authData)
	http.Redirect(w, r, loc, http.StatusFound)
}

func (p *Portal) subInfo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("auth_data") != authData || q.Get("sub_id") != VideoSubID || q.Get("app_id") == "" || q.Get("course_id") == "" {
		http.Error(w, "bad auth", http.StatusForbidden)
		return
	}
	content, _ := json.Marshal(map[string]any{
		"save_playback": map[string]string{
			"is_m3u8":  "yes",
			"contents": p.URL() + "/hls/s1/index.m3u8",
		},
	})
	writeJSON(w, map[string]any{"list": []map[string]string{{"sub_content": string(content)}}})
}

// PlaylistText is the fixture media playlist. Keys rotate at segment 2,
// which also switches from sequence-derived to explicit IVs.
const PlaylistText = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:7
#EXT-X-KEY:METHOD=AES-128,URI="/hls/keys/k1"
#EXTINF:10.000,
seg0.ts
#EXTINF:10.000,
seg1.ts
#EXT-X-KEY:METHOD=AES-128,URI="/hls/keys/k2",IV=0x000102030405060708090a0b0c0d0e0f
#EXTINF:10.000,
seg2.ts
#EXTINF:8.000,
seg3.ts
#EXT-X-ENDLIST
`

func (p *Portal) playlist(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	io.WriteString(w, PlaylistText)
}

func (p *Portal) segment(w http.ResponseWriter, r *http.Request) {
	var idx int
	if _, err := fmt.Sscanf(r.PathValue("segment"), "seg%d.ts", &idx); err != nil || idx < 0 || idx >= len(p.segments) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	w.Write(p.segments[idx])
}

func (p *Portal) key(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("key") {
	case "k1":
		w.Write(keyOne)
	case "k2":
		w.Write(keyTwo)
	default:
		http.NotFound(w, r)
	}
}

func (p *Portal) attachmentRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/files/hw1.pdf", http.StatusFound)
}

func (p *Portal) attachmentFile(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Write(Attachment)
}

func (p *Portal) syllabusFile(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write(SyllabusAttachment)
}

func encryptSegments(t testing.TB) [][]byte {
	t.Helper()
	explicit, err := crypto.ParseIV(explicitIV)
	if err != nil {
		t.Fatalf("ParseIV() error = %v", err)
	}
	out := make([][]byte, len(Segments))
	for i, plain := range Segments {
		key, iv := keyOne, crypto.SequenceIV(mediaSequence, uint64(i))
		if i >= 2 {
			key, iv = keyTwo, explicit
		}
		ct, err := crypto.EncryptAES128CBC(plain, key, iv)
		if err != nil {
			t.Fatalf("EncryptAES128CBC() error = %v", err)
		}
		out[i] = ct
	}
	return out
}
