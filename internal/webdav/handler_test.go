package webdav_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/filen-community/filen-webdav/internal/fs"
	"github.com/filen-community/filen-webdav/internal/fs/memfs"
	"github.com/filen-community/filen-webdav/internal/webdav"
)

const (
	testUser = "alice"
	testPass = "secret"
)

type gateway struct {
	ts      *httptest.Server
	backend *memfs.FS
	scratch string
}

// newGateway builds the full middleware chain (headers, basic auth,
// handlers) over an in-memory backend and a scratch dir.
func newGateway(t *testing.T, patterns ...string) *gateway {
	t.Helper()

	backend := memfs.New(1 << 30)
	registry := webdav.NewRegistry(nil, nil, nil)
	registry.AddStatic(testUser, backend)

	scratchDir := t.TempDir()
	scratch := webdav.NewScratch(scratchDir, patterns, nil)
	scratch.SetRetryWindow(100*time.Millisecond, 10*time.Millisecond)
	if err := scratch.Reset(); err != nil {
		t.Fatalf("scratch reset: %v", err)
	}

	auth, err := webdav.NewAuthenticator(webdav.AuthBasic,
		&webdav.StaticUser{Username: testUser, Password: testPass}, registry, nil)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}

	var handler http.Handler = webdav.NewHandler(registry, scratch, nil).Routes()
	handler = auth.Middleware(handler)
	handler = webdav.CommonHeaders(handler)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return &gateway{ts: ts, backend: backend, scratch: scratchDir}
}

func (g *gateway) request(t *testing.T, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, g.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.SetBasicAuth(testUser, testPass)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := g.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
}

func TestOptionsAdvertisesDAV(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, "OPTIONS", "/", "", nil)
	defer resp.Body.Close()
	wantStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("DAV"); got != "1, 2" {
		t.Errorf("DAV header = %q, want %q", got, "1, 2")
	}
	if allow := resp.Header.Get("Allow"); !strings.Contains(allow, "PROPFIND") {
		t.Errorf("Allow header missing PROPFIND: %q", allow)
	}
	if srv := resp.Header.Get("Server"); srv != "Filen WebDAV" {
		t.Errorf("Server header = %q", srv)
	}
}

func TestUnauthenticatedGets401(t *testing.T) {
	g := newGateway(t)
	req, _ := http.NewRequest(http.MethodGet, g.ts.URL+"/a.txt", nil)
	resp, err := g.ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	wantStatus(t, resp, http.StatusUnauthorized)
	if ch := resp.Header.Get("WWW-Authenticate"); !strings.HasPrefix(ch, "Basic ") {
		t.Errorf("challenge = %q", ch)
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/docs/hello.txt", "hello world", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	resp = g.request(t, http.MethodGet, "/docs/hello.txt", "", nil)
	wantStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if got := readBody(t, resp); got != "hello world" {
		t.Errorf("body = %q", got)
	}
}

func TestEmptyPutCreatesPlaceholder(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/empty.txt", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	// The placeholder never reaches the backend.
	if _, err := g.backend.Stat(context.Background(), "/empty.txt"); !errors.Is(err, fs.ErrNotFound) {
		t.Fatalf("backend stat err = %v, want ErrNotFound", err)
	}

	resp = g.request(t, "PROPFIND", "/empty.txt", "", map[string]string{"Depth": "0"})
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusMultiStatus {
		t.Fatalf("propfind status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "<D:getcontentlength>0</D:getcontentlength>") {
		t.Errorf("propfind body missing zero length: %s", body)
	}

	resp = g.request(t, http.MethodGet, "/empty.txt", "", nil)
	wantStatus(t, resp, http.StatusOK)
	if got := readBody(t, resp); got != "" {
		t.Errorf("placeholder body = %q, want empty", got)
	}
}

func TestPutUnderFileParent(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/a.txt", "data", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	resp = g.request(t, http.MethodPut, "/a.txt/b.txt", "data", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusPreconditionFailed)
}

func TestPutOverDirectory(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, "MKCOL", "/dir", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	resp = g.request(t, http.MethodPut, "/dir", "data", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)
}

func TestGetDirectoryForbidden(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, "MKCOL", "/dir", "", nil)
	resp.Body.Close()

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		resp = g.request(t, method, "/dir", "", nil)
		resp.Body.Close()
		wantStatus(t, resp, http.StatusForbidden)
	}
}

func TestGetMissing(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodGet, "/nope.txt", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNotFound)
}

func TestRangeRequests(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/r.txt", "hello world", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	tests := []struct {
		name       string
		rangeHdr   string
		wantStatus int
		wantBody   string
		wantCR     string
	}{
		{"prefix", "bytes=0-4", http.StatusPartialContent, "hello", "bytes 0-4/11"},
		{"suffix open end", "bytes=6-", http.StatusPartialContent, "world", "bytes 6-10/11"},
		{"inverted", "bytes=5-2", http.StatusBadRequest, "", ""},
		{"end past size", "bytes=0-11", http.StatusBadRequest, "", ""},
		{"garbage", "bytes=abc", http.StatusBadRequest, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := g.request(t, http.MethodGet, "/r.txt", "", map[string]string{"Range": tt.rangeHdr})
			body := readBody(t, resp)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != "" && body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
			if tt.wantCR != "" {
				if cr := resp.Header.Get("Content-Range"); cr != tt.wantCR {
					t.Errorf("Content-Range = %q, want %q", cr, tt.wantCR)
				}
			}
		})
	}
}

func TestHeadWithRange(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/h.txt", "hello world", nil)
	resp.Body.Close()

	resp = g.request(t, http.MethodHead, "/h.txt", "", map[string]string{"Range": "bytes=0-4"})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusPartialContent)
	if cl := resp.Header.Get("Content-Length"); cl != "5" {
		t.Errorf("Content-Length = %q, want 5", cl)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "bytes 0-4/11" {
		t.Errorf("Content-Range = %q", cr)
	}
}

func TestLegacyContentRangeHeader(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/l.txt", "hello world", nil)
	resp.Body.Close()

	resp = g.request(t, http.MethodGet, "/l.txt", "", map[string]string{"Content-Range": "bytes 0-4/11"})
	wantStatus(t, resp, http.StatusPartialContent)
	if got := readBody(t, resp); got != "hello" {
		t.Errorf("body = %q", got)
	}
}

func TestPropfindDepth1(t *testing.T) {
	g := newGateway(t)
	for _, p := range []string{"/dir/a.txt", "/dir/b.txt"} {
		resp := g.request(t, http.MethodPut, p, "x", nil)
		resp.Body.Close()
	}

	resp := g.request(t, "PROPFIND", "/dir", "", map[string]string{"Depth": "1"})
	body := readBody(t, resp)
	wantStatus(t, resp, http.StatusMultiStatus)
	for _, want := range []string{"<D:href>/dir/</D:href>", "<D:href>/dir/a.txt</D:href>", "<D:href>/dir/b.txt</D:href>"} {
		if !strings.Contains(body, want) {
			t.Errorf("multistatus missing %q in:\n%s", want, body)
		}
	}
	if !strings.Contains(body, "<D:collection/>") {
		t.Errorf("multistatus missing collection resourcetype")
	}
}

func TestPropfindDepth0OmitsChildren(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/dir/a.txt", "x", nil)
	resp.Body.Close()

	resp = g.request(t, "PROPFIND", "/dir", "", map[string]string{"Depth": "0"})
	body := readBody(t, resp)
	wantStatus(t, resp, http.StatusMultiStatus)
	if strings.Contains(body, "a.txt") {
		t.Errorf("depth 0 leaked children:\n%s", body)
	}
}

func TestPropfindMissing(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, "PROPFIND", "/nope", "", nil)
	body := readBody(t, resp)
	wantStatus(t, resp, http.StatusNotFound)
	if !strings.Contains(body, "404 NOT FOUND") {
		t.Errorf("missing 404 propstat status:\n%s", body)
	}
}

func TestMkcol(t *testing.T) {
	g := newGateway(t)

	resp := g.request(t, "MKCOL", "/x/y", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusPreconditionFailed)

	resp = g.request(t, "MKCOL", "/x", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	// Recreating an existing collection stays lenient.
	resp = g.request(t, "MKCOL", "/x", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	resp = g.request(t, "MKCOL", "/x/y", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)
}

func TestDeleteEverywhere(t *testing.T) {
	g := newGateway(t, "*.tmp")

	// Backend tier.
	resp := g.request(t, http.MethodPut, "/b.txt", "x", nil)
	resp.Body.Close()
	resp = g.request(t, http.MethodDelete, "/b.txt", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusOK)

	// Virtual tier.
	resp = g.request(t, http.MethodPut, "/v.txt", "", nil)
	resp.Body.Close()
	resp = g.request(t, http.MethodDelete, "/v.txt", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusOK)

	// Disk tier.
	resp = g.request(t, http.MethodPut, "/d.tmp", "x", nil)
	resp.Body.Close()
	resp = g.request(t, http.MethodDelete, "/d.tmp", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusOK)

	for _, p := range []string{"/b.txt", "/v.txt", "/d.tmp"} {
		resp = g.request(t, http.MethodGet, p, "", nil)
		resp.Body.Close()
		wantStatus(t, resp, http.StatusNotFound)
	}

	resp = g.request(t, http.MethodDelete, "/nope", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNotFound)
}

func (g *gateway) destination(path string) string {
	return g.ts.URL + path
}

func TestMoveFile(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/a.txt", "payload", nil)
	resp.Body.Close()

	resp = g.request(t, "MOVE", "/a.txt", "", map[string]string{"Destination": g.destination("/b.txt")})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	resp = g.request(t, http.MethodGet, "/b.txt", "", nil)
	if got := readBody(t, resp); got != "payload" {
		t.Errorf("moved body = %q", got)
	}
	resp = g.request(t, http.MethodGet, "/a.txt", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNotFound)
}

func TestMoveOverwriteSemantics(t *testing.T) {
	g := newGateway(t)
	for _, p := range []string{"/src.txt", "/dst.txt"} {
		resp := g.request(t, http.MethodPut, p, "data-"+p, nil)
		resp.Body.Close()
	}

	resp := g.request(t, "MOVE", "/src.txt", "", map[string]string{"Destination": g.destination("/dst.txt")})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)

	resp = g.request(t, "MOVE", "/src.txt", "", map[string]string{
		"Destination": g.destination("/dst.txt"),
		"Overwrite":   "T",
	})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNoContent)

	resp = g.request(t, http.MethodGet, "/dst.txt", "", nil)
	if got := readBody(t, resp); got != "data-/src.txt" {
		t.Errorf("overwritten body = %q", got)
	}
}

func TestCopyPreservesBytes(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/orig.txt", "payload", nil)
	resp.Body.Close()

	resp = g.request(t, "COPY", "/orig.txt", "", map[string]string{"Destination": g.destination("/copy.txt")})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	for _, p := range []string{"/orig.txt", "/copy.txt"} {
		resp = g.request(t, http.MethodGet, p, "", nil)
		if got := readBody(t, resp); got != "payload" {
			t.Errorf("%s body = %q", p, got)
		}
	}
}

func TestMoveDestinationValidation(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/a.txt", "x", nil)
	resp.Body.Close()

	tests := []struct {
		name string
		dest string
		want int
	}{
		{"absent", "", http.StatusBadRequest},
		{"no scheme", "/b.txt", http.StatusBadRequest},
		{"foreign host", "http://other.example/b.txt", http.StatusBadRequest},
		{"traversal", g.ts.URL + "/../etc/passwd", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.dest != "" {
				headers["Destination"] = tt.dest
			}
			resp := g.request(t, "MOVE", "/a.txt", "", headers)
			resp.Body.Close()
			wantStatus(t, resp, tt.want)
		})
	}
}

func TestMoveSamePathIsNoop(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/a.txt", "keep", nil)
	resp.Body.Close()

	resp = g.request(t, "MOVE", "/a.txt", "", map[string]string{"Destination": g.destination("/a.txt")})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	resp = g.request(t, http.MethodGet, "/a.txt", "", nil)
	if got := readBody(t, resp); got != "keep" {
		t.Errorf("body = %q", got)
	}
}

func TestMoveIntoOwnSubtree(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, "MKCOL", "/dir", "", nil)
	resp.Body.Close()

	resp = g.request(t, "MOVE", "/dir", "", map[string]string{"Destination": g.destination("/dir/sub")})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusForbidden)
}

func TestLockNotImplemented(t *testing.T) {
	g := newGateway(t)
	for _, method := range []string{"LOCK", "UNLOCK"} {
		resp := g.request(t, method, "/a.txt", "", nil)
		resp.Body.Close()
		wantStatus(t, resp, http.StatusNotImplemented)
	}
}

func TestScratchSidecarNeverUploads(t *testing.T) {
	g := newGateway(t, ".DS_Store", "*.tmp")

	resp := g.request(t, http.MethodPut, "/dir/.DS_Store", "finder junk", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	if _, err := g.backend.Stat(context.Background(), "/dir/.DS_Store"); !errors.Is(err, fs.ErrNotFound) {
		t.Fatalf("sidecar reached the backend: err = %v", err)
	}
	entries, err := os.ReadDir(g.scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("scratch entries = %d, want 1", len(entries))
	}

	resp = g.request(t, http.MethodGet, "/dir/.DS_Store", "", nil)
	if got := readBody(t, resp); got != "finder junk" {
		t.Errorf("sidecar body = %q", got)
	}

	resp = g.request(t, http.MethodDelete, "/dir/.DS_Store", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusOK)

	entries, _ = os.ReadDir(g.scratch)
	if len(entries) != 0 {
		t.Errorf("scratch entries after delete = %d, want 0", len(entries))
	}
}

func TestScratchMoveAndCopy(t *testing.T) {
	g := newGateway(t, "*.tmp")
	resp := g.request(t, http.MethodPut, "/a.tmp", "scratch", nil)
	resp.Body.Close()

	resp = g.request(t, "MOVE", "/a.tmp", "", map[string]string{"Destination": g.destination("/b.tmp")})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	resp = g.request(t, http.MethodGet, "/a.tmp", "", nil)
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNotFound)

	resp = g.request(t, "COPY", "/b.tmp", "", map[string]string{"Destination": g.destination("/c.tmp")})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusCreated)

	for _, p := range []string{"/b.tmp", "/c.tmp"} {
		resp = g.request(t, http.MethodGet, p, "", nil)
		if got := readBody(t, resp); got != "scratch" {
			t.Errorf("%s body = %q", p, got)
		}
	}
}

func TestMoveBackendOntoVirtual(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/v.txt", "", nil)
	resp.Body.Close()
	resp = g.request(t, http.MethodPut, "/real.txt", "content", nil)
	resp.Body.Close()

	resp = g.request(t, "MOVE", "/real.txt", "", map[string]string{
		"Destination": g.destination("/v.txt"),
		"Overwrite":   "T",
	})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusNoContent)

	resp = g.request(t, http.MethodGet, "/v.txt", "", nil)
	if got := readBody(t, resp); got != "content" {
		t.Errorf("body = %q, want backend content", got)
	}
}

func TestProppatchSetsTimestamps(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/p.txt", "x", nil)
	resp.Body.Close()

	const stamp = "Wed, 21 Oct 2015 07:28:00 GMT"
	body := `<?xml version="1.0" encoding="utf-8"?>
<D:propertyupdate xmlns:D="DAV:">
  <D:set><D:prop><D:getlastmodified>` + stamp + `</D:getlastmodified></D:prop></D:set>
</D:propertyupdate>`

	resp = g.request(t, "PROPPATCH", "/p.txt", body, map[string]string{"Content-Type": "application/xml"})
	out := readBody(t, resp)
	wantStatus(t, resp, http.StatusMultiStatus)
	if !strings.Contains(out, "207 Multi-Status") {
		t.Errorf("proppatch body = %s", out)
	}

	resp = g.request(t, "PROPFIND", "/p.txt", "", map[string]string{"Depth": "0"})
	out = readBody(t, resp)
	if !strings.Contains(out, stamp) {
		t.Errorf("propfind missing patched timestamp:\n%s", out)
	}
}

func TestProppatchDirectoryIsAccepted(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, "MKCOL", "/dir", "", nil)
	resp.Body.Close()

	body := `<D:propertyupdate xmlns:D="DAV:"><D:set><D:prop>
<D:getlastmodified>Wed, 21 Oct 2015 07:28:00 GMT</D:getlastmodified>
</D:prop></D:set></D:propertyupdate>`
	resp = g.request(t, "PROPPATCH", "/dir", body, map[string]string{"Content-Type": "text/xml"})
	resp.Body.Close()
	wantStatus(t, resp, http.StatusMultiStatus)
}

func TestQuotaProperties(t *testing.T) {
	g := newGateway(t)
	resp := g.request(t, http.MethodPut, "/q.txt", "0123456789", nil)
	resp.Body.Close()

	resp = g.request(t, "PROPFIND", "/q.txt", "", map[string]string{"Depth": "0"})
	body := readBody(t, resp)
	if !strings.Contains(body, "<D:quota-used-bytes>10</D:quota-used-bytes>") {
		t.Errorf("quota-used-bytes missing:\n%s", body)
	}
	if !strings.Contains(body, "quota-available-bytes") {
		t.Errorf("quota-available-bytes missing:\n%s", body)
	}
}
