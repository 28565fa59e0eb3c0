package webdav

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// byteRange is an inclusive client byte range, validated against the
// resource size.
type byteRange struct {
	start int64
	end   int64
}

func (br byteRange) length() int64 { return br.end - br.start + 1 }

var errMalformedRange = errors.New("malformed range")

// parseRange reads the Range header, falling back to the legacy
// Content-Range form some clients send on GET ("bytes a-b/total").
// Returns nil when no range was requested.
func parseRange(r *http.Request) (*byteRange, error) {
	raw := r.Header.Get("Range")
	if raw == "" {
		raw = r.Header.Get("Content-Range")
	}
	if raw == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(raw, "bytes=")
	if !ok {
		spec, ok = strings.CutPrefix(raw, "bytes ")
		if !ok {
			return nil, errMalformedRange
		}
	}
	// Legacy form carries a "/total" suffix.
	spec, _, _ = strings.Cut(spec, "/")
	spec = strings.TrimSpace(spec)

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok || startStr == "" {
		return nil, errMalformedRange
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, errMalformedRange
	}
	br := &byteRange{start: start, end: -1}
	if endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return nil, errMalformedRange
		}
		br.end = end
	}
	return br, nil
}

// clampRange resolves an open end against size and validates bounds.
func clampRange(br *byteRange, size int64) error {
	if br.end == -1 {
		br.end = size - 1
	}
	if br.start > br.end || br.end >= size {
		return errMalformedRange
	}
	return nil
}

// resolveContent runs the shared HEAD/GET preamble: resolve the path,
// reject missing (404) and directories (403), and validate any range.
// A nil resource with a nil error means the response was already sent.
func (h *Handler) resolveContent(w *responseWriter, r *http.Request, u *User) (*Resource, *byteRange, error) {
	path := CanonicalPath(r.URL.Path)
	res, err := Resolve(r.Context(), u, path)
	if err != nil {
		return nil, nil, err
	}
	if res == nil {
		writeEmpty(w, http.StatusNotFound)
		return nil, nil, nil
	}
	if res.IsDir() {
		writeEmpty(w, http.StatusForbidden)
		return nil, nil, nil
	}
	br, err := parseRange(r)
	if err != nil {
		writeEmpty(w, http.StatusBadRequest)
		return nil, nil, nil
	}
	if br != nil {
		if err := clampRange(br, res.Stats.Size); err != nil {
			writeEmpty(w, http.StatusBadRequest)
			return nil, nil, nil
		}
	}
	return res, br, nil
}

// contentHeaders sets the entity headers shared by HEAD and GET and
// returns the response status.
func contentHeaders(w *responseWriter, res *Resource, br *byteRange) int {
	hdr := w.Header()
	hdr.Set("Content-Type", res.ContentType())
	hdr.Set("Accept-Ranges", "bytes")
	hdr.Set("Last-Modified", davTime(res.Stats.MTimeMS))
	hdr.Set("ETag", strconv.Quote(res.Stats.UUID))
	if br != nil {
		hdr.Set("Content-Length", strconv.FormatInt(br.length(), 10))
		hdr.Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", br.start, br.end, res.Stats.Size))
		return http.StatusPartialContent
	}
	hdr.Set("Content-Length", strconv.FormatInt(res.Stats.Size, 10))
	return http.StatusOK
}

func (h *Handler) handleHead(w *responseWriter, r *http.Request, u *User) error {
	res, br, err := h.resolveContent(w, r, u)
	if err != nil || res == nil {
		return err
	}
	w.WriteHeader(contentHeaders(w, res, br))
	return nil
}

func (h *Handler) handleGet(w *responseWriter, r *http.Request, u *User) error {
	res, br, err := h.resolveContent(w, r, u)
	if err != nil || res == nil {
		return err
	}

	if res.Tier == TierVirtual {
		// Placeholders are zero bytes; a range on an empty file already
		// failed validation above.
		w.WriteHeader(contentHeaders(w, res, br))
		return nil
	}

	var (
		body   io.ReadCloser
		length = res.Stats.Size
	)
	switch res.Tier {
	case TierDisk:
		start := int64(0)
		if br != nil {
			start = br.start
			length = br.length()
		}
		body, err = h.scratch.Open(res.TempDiskID, start)
		if err != nil {
			// The tier map said disk but the file is gone: drop the stale
			// entry and report absence.
			u.RemoveDisk(res.Path)
			writeEmpty(w, http.StatusNotFound)
			return nil
		}
	default:
		start, end := int64(0), int64(-1)
		if br != nil {
			start, end = br.start, br.end+1
			length = br.length()
		}
		body, err = u.Backend.Cloud().DownloadRange(r.Context(), res.Stats, start, end)
		if err != nil {
			return fmt.Errorf("open download stream: %w", err)
		}
	}
	defer body.Close()

	w.WriteHeader(contentHeaders(w, res, br))
	if _, err := io.Copy(w, io.LimitReader(body, length)); err != nil {
		if r.Context().Err() != nil {
			// Client went away mid-stream; nothing to salvage.
			return nil
		}
		return fmt.Errorf("stream body: %w", err)
	}
	return nil
}
