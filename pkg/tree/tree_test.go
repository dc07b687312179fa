package tree

import (
	"bytes"
	"strings"
	"testing"

	"course-portal-go/pkg/types"
)

func TestBuild_Placement(t *testing.T) {
	course := types.CourseMeta{ID: "_1_1", LongTitle: "04831410: Algorithms(24-25学年第2学期)"}
	entries := []string{"课程通知", "教学内容", "课堂实录"}
	records := []*types.ContentRecord{
		{ID: "w1", Title: "Week 1", Kind: types.KindFolder, IsFolder: true, SectionName: "教学内容"},
		{ID: "hw1", Title: "Homework 1", Kind: types.KindAssignment, ParentID: "w1", ParentTitle: "Week 1", SectionName: "教学内容"},
		{ID: "v1", Title: "Lecture 1", Kind: types.KindVideo, SectionName: "课堂实录"},
		{ID: "o1", Title: "Orphan", Kind: types.KindDocument, ParentTitle: "Old Materials"},
		{ID: "o2", Title: "Orphan 2", Kind: types.KindDocument, ParentTitle: "Old Materials"},
		{ID: "n1", Title: "Notice", Kind: types.KindAnnouncement, ParentTitle: "课程通知"},
		{ID: "x1", Title: "Stray", Kind: types.KindUnknown},
	}

	root := Build(course, entries, records)

	if root.Kind != KindCourse || root.Title != "Algorithms(24-25学年第2学期)" {
		t.Errorf("root = %+v", root)
	}
	tests := []struct {
		id     string
		parent string
	}{
		{"w1", "entry:教学内容"},
		{"hw1", "w1"},
		{"v1", "entry:课堂实录"},
		{"o1", "folder:Old Materials"},
		{"o2", "folder:Old Materials"},
		{"n1", "entry:课程通知"},
		{"x1", "_1_1"},
	}
	for _, tt := range tests {
		parent := root.Find(tt.parent)
		if parent == nil {
			t.Errorf("node %q not found", tt.parent)
			continue
		}
		found := false
		for _, c := range parent.Children {
			if c.ID == tt.id {
				found = true
			}
		}
		if !found {
			t.Errorf("%s not under %s", tt.id, tt.parent)
		}
	}

	// root + 3 entries + 1 synthesized folder + 7 records
	if got := root.Count(); got != 12 {
		t.Errorf("Count() = %d, want 12", got)
	}
	var order []string
	for _, c := range root.Children {
		order = append(order, c.ID)
	}
	want := []string{"entry:课程通知", "entry:教学内容", "entry:课堂实录", "folder:Old Materials", "x1"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("root children = %v, want %v", order, want)
	}
}

func TestBuild_Empty(t *testing.T) {
	root := Build(types.CourseMeta{ID: "c"}, nil, nil)
	if root.Count() != 1 || root.Find("c") != root || root.Find("missing") != nil {
		t.Errorf("root = %+v", root)
	}
}

func TestWalkAndPrint(t *testing.T) {
	root := Build(types.CourseMeta{ID: "c", LongTitle: "X: Course"}, []string{"Docs"}, []*types.ContentRecord{
		{ID: "d1", Title: "Syllabus", Kind: types.KindDocument, SectionName: "Docs"},
	})

	var depths []int
	root.Walk(func(_ *Node, depth int) { depths = append(depths, depth) })
	if len(depths) != 3 || depths[0] != 0 || depths[1] != 1 || depths[2] != 2 {
		t.Errorf("depths = %v", depths)
	}

	var buf bytes.Buffer
	if err := root.Print(&buf); err != nil {
		t.Fatal(err)
	}
	want := "Course [course]\n  Docs [entry]\n    Syllabus [document]\n"
	if buf.String() != want {
		t.Errorf("Print() = %q, want %q", buf.String(), want)
	}
}

func searchTree() *Node {
	return Build(types.CourseMeta{ID: "_1_1", LongTitle: "X: Algorithms"}, []string{"教学内容"}, []*types.ContentRecord{
		{ID: "w1", Title: "Week 1", Kind: types.KindFolder, IsFolder: true, SectionName: "教学内容"},
		{ID: "hw1", Title: "Homework 1", Kind: types.KindAssignment, ParentID: "w1"},
		{ID: "hw2", Title: "homework 2", Kind: types.KindAssignment, ParentID: "w1"},
		{ID: "s1", Title: "Slides", Kind: types.KindDocument, SectionName: "教学内容"},
	})
}

func nodeIDs(nodes []*Node) string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return strings.Join(ids, ",")
}

func TestFindByKind(t *testing.T) {
	root := searchTree()
	tests := []struct {
		kind types.ContentKind
		want string
	}{
		{types.KindAssignment, "hw1,hw2"},
		{types.KindDocument, "s1"},
		{types.KindFolder, "w1"},
		{types.KindVideo, ""},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := nodeIDs(root.FindByKind(tt.kind)); got != tt.want {
				t.Errorf("FindByKind(%v) = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestFindByTitle(t *testing.T) {
	root := searchTree()
	tests := []struct {
		query string
		want  string
	}{
		{"homework", "hw1,hw2"},
		{"WEEK", "w1"},
		{"教学", "entry:教学内容"},
		{"algo", "_1_1"},
		{"nothing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := nodeIDs(root.FindByTitle(tt.query)); got != tt.want {
				t.Errorf("FindByTitle(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestPath(t *testing.T) {
	root := searchTree()
	if got := nodeIDs(root.Path("hw2")); got != "_1_1,entry:教学内容,w1,hw2" {
		t.Errorf("Path(hw2) = %q", got)
	}
	if got := root.Path("missing"); got != nil {
		t.Errorf("Path(missing) = %v, want nil", got)
	}
}
