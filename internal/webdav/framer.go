package webdav

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"
)

// xmlBodyLimit caps the bounded read of XML request bodies (PROPFIND,
// PROPPATCH and friends).
const xmlBodyLimit = 1 << 20

// defaultFirstByteTimeout bounds the synchronous wait for the first PUT
// body byte. Clients probing for writability (Finder, Explorer) open the
// request and send nothing.
const defaultFirstByteTimeout = 15 * time.Second

// Body is a framed PUT/POST request body. Empty reports whether no byte
// ever arrived; Reader replays the peeked byte followed by the rest of the
// stream, without buffering the body.
type Body struct {
	Empty  bool
	Reader io.Reader
}

// FrameBody peeks exactly one byte of the request body. A declared
// Content-Length of 0, an immediate EOF, or a read timeout all frame as
// empty. The ResponseController read deadline bounds the blocking read and
// is lifted again before returning.
func FrameBody(w http.ResponseWriter, r *http.Request, timeout time.Duration) *Body {
	if r.ContentLength == 0 {
		return &Body{Empty: true, Reader: bytes.NewReader(nil)}
	}
	if timeout <= 0 {
		timeout = defaultFirstByteTimeout
	}

	rc := http.NewResponseController(w)
	deadlineSet := rc.SetReadDeadline(time.Now().Add(timeout)) == nil

	var first [1]byte
	n, _ := io.ReadFull(r.Body, first[:])

	if deadlineSet {
		// Streaming the remainder must not inherit the peek deadline.
		_ = rc.SetReadDeadline(time.Time{})
	}

	if n == 0 {
		// EOF is an intentionally empty body; a timeout or client hangup
		// before the first byte gets the same contract.
		return &Body{Empty: true, Reader: bytes.NewReader(nil)}
	}

	return &Body{
		Reader: io.MultiReader(bytes.NewReader(first[:]), r.Body),
	}
}

// ReadXMLBody reads a bounded XML request body as a string. Non-XML
// content types and empty bodies return "".
func ReadXMLBody(r *http.Request) (string, error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "application/xml") && !strings.Contains(ct, "text/xml") {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, xmlBodyLimit))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
