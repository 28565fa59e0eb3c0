// Package webdav implements the RFC 4918 method dispatcher over the
// three-tier resource overlay: the remote encrypted backend, in-memory
// virtual placeholders, and local disk scratch files.
package webdav

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/filen-community/filen-webdav/internal/fs"
)

// Tier tells where a resource's bytes and metadata actually live.
type Tier int

const (
	// TierBackend is the canonical remote resource.
	TierBackend Tier = iota

	// TierVirtual is a zero-byte in-memory placeholder created by an
	// empty PUT, so the immediately following PROPFIND/HEAD/GET sees
	// the file. Never uploaded.
	TierVirtual

	// TierDisk is a plaintext scratch file on local disk for sidecar
	// paths matching the configured globs. Never uploaded.
	TierDisk
)

func (t Tier) String() string {
	switch t {
	case TierVirtual:
		return "virtual"
	case TierDisk:
		return "disk"
	default:
		return "backend"
	}
}

// Resource is one filesystem entity at one path, tagged by tier.
// TempDiskID is meaningful only for TierDisk.
type Resource struct {
	Tier       Tier
	Path       string
	Stats      fs.Stats
	TempDiskID string
}

// IsDir reports whether the resource is a directory.
func (r *Resource) IsDir() bool { return r.Stats.Type == fs.KindDirectory }

// URL returns the DAV href path: equal to Path for files, Path plus a
// trailing slash for directories, "/" for the root.
func (r *Resource) URL() string {
	if r.Path == "/" {
		return "/"
	}
	if r.IsDir() {
		return r.Path + "/"
	}
	return r.Path
}

// Href returns the percent-encoded URL for multistatus bodies.
func (r *Resource) Href() string {
	return (&url.URL{Path: r.URL()}).EscapedPath()
}

// ContentType returns the mime type by name, httpd/unix-directory for
// directories, application/octet-stream as the fallback.
func (r *Resource) ContentType() string {
	if r.IsDir() {
		return "httpd/unix-directory"
	}
	return MimeByName(r.Stats.Name)
}

// MimeByName looks up a mime type from a file name's extension.
func MimeByName(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// CanonicalPath percent-decodes a raw URL path once and normalizes it:
// absolute, cleaned, no trailing slash except for root.
func CanonicalPath(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	p := path.Clean(decoded)
	if p == "." {
		return "/"
	}
	return p
}

// parentPath returns the directory containing p ("/" for root).
func parentPath(p string) string {
	if p == "/" {
		return "/"
	}
	return path.Dir(p)
}

// baseName returns the final element of p.
func baseName(p string) string {
	if p == "/" {
		return ""
	}
	return path.Base(p)
}
