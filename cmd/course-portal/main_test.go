package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"course-portal-go/internal/portaltest"
)

func writeConfig(t *testing.T, fake *portaltest.Portal) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
username: %s
password: %s
portal_base_url: %s
iaaa_base_url: %s
video_api_base_url: %s
cache_dir: ""
download_dir: %s
http_retries: 0
requests_per_second: 0
crawl_retry_base_delay: 1ms
crawl_retry_max_delay: 5ms
ffmpeg_path: ffmpeg-not-installed
log_level: error
`, portaltest.Username, portaltest.Password, fake.URL(), fake.URL(), fake.URL(), filepath.Join(dir, "downloads"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Commands(t *testing.T) {
	fake := portaltest.New(t)
	cfgPath := writeConfig(t, fake)

	upload := filepath.Join(t.TempDir(), "answer.pdf")
	if err := os.WriteFile(upload, []byte("%PDF answer"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "lecture.ts")
	attDir := t.TempDir()

	tests := []struct {
		name   string
		args   []string
		want   []string
		absent []string
	}{
		{"courses", []string{"courses"}, []string{"_1_1", "Algorithms"}, nil},
		{"all courses", []string{"courses", "-all"}, []string{"_1_1", "_0_1"}, nil},
		{"tree", []string{"tree", "-course", "_1_1"}, []string{"Week 1", "Slides 1", "Lecture 1"}, nil},
		{"tree by kind", []string{"tree", "-course", "_1_1", "-kind", "assignment"}, []string{"_hw1_1", "Homework 1"}, []string{"Week 1"}},
		{"tree by title", []string{"tree", "-course", "_1_1", "-title", "week"}, []string{"_w1_1", "folder"}, []string{"Homework 1"}},
		{"assignments", []string{"assignments", "-course", "_1_1"}, []string{"_hw1_1", "2025-03-15 23:59", "true"}, nil},
		{"pending assignments", []string{"assignments", "-course", "_1_1", "-pending"}, []string{"DEADLINE"}, []string{"_hw1_1"}},
		{"announcements", []string{"announcements", "-course", "_1_1"}, []string{"_55_1", "Midterm moved"}, nil},
		{"show announcement", []string{"announcements", "-course", "_1_1", "-show", "midterm"}, []string{"The midterm is now on Friday."}, nil},
		{"document attachments", []string{"attachments", "-course", "_1_1", "-doc", "syllabus", "-out", attDir}, []string{"saved " + filepath.Join(attDir, "syllabus.txt")}, nil},
		{"assignment attachments", []string{"attachments", "-course", "_1_1", "-assignment", "homework"}, []string{filepath.Join("Algorithms", "Homework_1", "hw1.pdf")}, nil},
		{"attachments none", []string{"attachments", "-course", "_1_1", "-doc", "slides", "-out", attDir}, []string{"has no attachments"}, nil},
		{"videos", []string{"videos", "-course", "_1_1"}, []string{"Lecture 1", "Prof. Li"}, nil},
		{"download", []string{"download", "-course", "_1_1", "-video", "0", "-out", out}, []string{"saved " + out}, nil},
		{"submit", []string{"submit", "-course", "_1_1", "-assignment", "homework", "-file", upload}, []string{"submitted"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			args := append([]string{"-config", cfgPath}, tt.args...)
			if err := run(context.Background(), args, &buf); err != nil {
				t.Fatalf("run(%v) error = %v", tt.args, err)
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output missing %q:\n%s", w, buf.String())
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(buf.String(), a) {
					t.Errorf("output contains %q:\n%s", a, buf.String())
				}
			}
		})
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, portaltest.Plaintext()) {
		t.Error("downloaded lecture differs from the plaintext")
	}
	if subs := fake.Submissions(); len(subs) != 1 || subs[0].FileName != "answer.pdf" {
		t.Errorf("submissions = %+v", subs)
	}
	if data, err := os.ReadFile(filepath.Join(attDir, "syllabus.txt")); err != nil || !bytes.Equal(data, portaltest.SyllabusAttachment) {
		t.Errorf("syllabus attachment = %q, %v", data, err)
	}
}

func TestRun_Errors(t *testing.T) {
	fake := portaltest.New(t)
	cfgPath := writeConfig(t, fake)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"tree without course", []string{"tree"}},
		{"download without video", []string{"download", "-course", "_1_1"}},
		{"submit unknown assignment", []string{"submit", "-course", "_1_1", "-assignment", "essay", "-file", "x"}},
		{"tree unknown kind", []string{"tree", "-course", "_1_1", "-kind", "lecture"}},
		{"attachments without target", []string{"attachments", "-course", "_1_1"}},
		{"attachments with both targets", []string{"attachments", "-course", "_1_1", "-doc", "a", "-assignment", "b"}},
		{"ambiguous document", []string{"attachments", "-course", "_1_1", "-doc", "l"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			args := append([]string{"-config", cfgPath}, tt.args...)
			if err := run(context.Background(), args, &buf); err == nil {
				t.Errorf("run(%v) succeeded", tt.args)
			}
		})
	}

	if err := run(context.Background(), nil, &bytes.Buffer{}); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("run() without a command error = %v, want flag.ErrHelp", err)
	}
}
