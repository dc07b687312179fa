package urlutil

import (
	"net/url"
	"testing"
)

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name    string
		urlStr  string
		baseURL string
		want    string
	}{
		{
			name:    "absolute URL unchanged",
			urlStr:  "https://example.com/video.ts",
			baseURL: "https://other.com/playlist.m3u8",
			want:    "https://example.com/video.ts",
		},
		{
			name:    "relative segment",
			urlStr:  "seg-0001.ts",
			baseURL: "https://cdn.example.com/vod/lecture/index.m3u8",
			want:    "https://cdn.example.com/vod/lecture/seg-0001.ts",
		},
		{
			name:    "dot relative",
			urlStr:  "./key.bin",
			baseURL: "https://cdn.example.com/vod/index.m3u8",
			want:    "https://cdn.example.com/vod/key.bin",
		},
		{
			name:    "absolute path",
			urlStr:  "/webapps/blackboard/content/listContent.jsp?content_id=_1_1",
			baseURL: "https://course.example.edu/webapps/portal/execute/tabs/tabAction",
			want:    "https://course.example.edu/webapps/blackboard/content/listContent.jsp?content_id=_1_1",
		},
		{
			name:    "protocol relative",
			urlStr:  "//keys.example.com/k1",
			baseURL: "https://cdn.example.com/vod/index.m3u8",
			want:    "https://keys.example.com/k1",
		},
		{
			name:    "parent directory reference",
			urlStr:  "../keys/k1.key",
			baseURL: "https://cdn.example.com/vod/video/index.m3u8",
			want:    "https://cdn.example.com/vod/keys/k1.key",
		},
		{
			name:    "parent references stop at host",
			urlStr:  "../../../k.key",
			baseURL: "https://cdn.example.com/a/index.m3u8",
			want:    "https://cdn.example.com/k.key",
		},
		{
			name:    "preserves encoding",
			urlStr:  "seg%20(1).ts",
			baseURL: "https://cdn.example.com/stream(1)/index.m3u8",
			want:    "https://cdn.example.com/stream(1)/seg%20(1).ts",
		},
		{
			name:    "base with query string",
			urlStr:  "seg.ts",
			baseURL: "https://cdn.example.com/vod/index.m3u8?token=a/b",
			want:    "https://cdn.example.com/vod/seg.ts",
		},
		{
			name:    "base without path",
			urlStr:  "seg.ts",
			baseURL: "https://cdn.example.com",
			want:    "https://cdn.example.com/seg.ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveURL(tt.urlStr, tt.baseURL)
			if got != tt.want {
				t.Errorf("ResolveURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchemeHost(t *testing.T) {
	tests := []struct {
		name   string
		urlStr string
		want   string
	}{
		{"https URL", "https://cdn.example.com/stream/index.m3u8", "https://cdn.example.com"},
		{"with port", "http://127.0.0.1:8080/a", "http://127.0.0.1:8080"},
		{"relative", "/only/path", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SchemeHost(tt.urlStr); got != tt.want {
				t.Errorf("SchemeHost() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryParams(t *testing.T) {
	tests := []struct {
		name     string
		location string
		key      string
		want     string
	}{
		{"plain", "https://v.example.com/play?course_id=c1&sub_id=s1", "sub_id", "s1"},
		{"fragment path", "https://v.example.com/#/play?course_id=c1&app_id=4", "app_id", "4"},
		{"fragment after query", "/play?auth_data=x%3Dy#top", "auth_data", "x=y"},
		{"no query", "/play", "course_id", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QueryParams(tt.location).Get(tt.key); got != tt.want {
				t.Errorf("QueryParams().Get(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestWithQuery(t *testing.T) {
	params := url.Values{"content_id": {"_7_1"}}
	if got := WithQuery("/list.jsp", params); got != "/list.jsp?content_id=_7_1" {
		t.Errorf("WithQuery() = %q", got)
	}
	if got := WithQuery("/list.jsp?a=1", params); got != "/list.jsp?a=1&content_id=_7_1" {
		t.Errorf("WithQuery() = %q", got)
	}
	if got := WithQuery("/list.jsp", nil); got != "/list.jsp" {
		t.Errorf("WithQuery() = %q", got)
	}
}
