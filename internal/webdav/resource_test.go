package webdav_test

import (
	"strings"
	"testing"

	"github.com/filen-community/filen-webdav/internal/fs"
	"github.com/filen-community/filen-webdav/internal/webdav"
)

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"/", "/"},
		{"", "/"},
		{"/a/b/", "/a/b"},
		{"/a//b", "/a/b"},
		{"/a/./b", "/a/b"},
		{"/a/../b", "/b"},
		{"/a%20b/c.txt", "/a b/c.txt"},
		{"/%C3%A9", "/é"},
		{"no-leading-slash", "/no-leading-slash"},
	}
	for _, tt := range tests {
		if got := webdav.CanonicalPath(tt.raw); got != tt.want {
			t.Errorf("CanonicalPath(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestResourceURL(t *testing.T) {
	dir := &webdav.Resource{Path: "/docs", Stats: fs.Stats{Type: fs.KindDirectory}}
	if got := dir.URL(); got != "/docs/" {
		t.Errorf("dir URL = %q, want /docs/", got)
	}
	file := &webdav.Resource{Path: "/docs/a.txt", Stats: fs.Stats{Type: fs.KindFile}}
	if got := file.URL(); got != "/docs/a.txt" {
		t.Errorf("file URL = %q", got)
	}
	root := &webdav.Resource{Path: "/", Stats: fs.Stats{Type: fs.KindDirectory}}
	if got := root.URL(); got != "/" {
		t.Errorf("root URL = %q", got)
	}
}

func TestResourceHrefEscaping(t *testing.T) {
	r := &webdav.Resource{Path: "/a b/ü.txt", Stats: fs.Stats{Type: fs.KindFile}}
	href := r.Href()
	if strings.Contains(href, " ") {
		t.Errorf("href contains raw space: %q", href)
	}
	if !strings.Contains(href, "%20") {
		t.Errorf("href not percent-encoded: %q", href)
	}
}

func TestContentType(t *testing.T) {
	dir := &webdav.Resource{Stats: fs.Stats{Type: fs.KindDirectory, Name: "docs"}}
	if got := dir.ContentType(); got != "httpd/unix-directory" {
		t.Errorf("dir content type = %q", got)
	}
	if got := webdav.MimeByName("archive.unknownext"); got != "application/octet-stream" {
		t.Errorf("fallback mime = %q", got)
	}
	if got := webdav.MimeByName("page.html"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("html mime = %q", got)
	}
}
