package webdav

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/filen-community/filen-webdav/internal/fs"
)

// responseWriter guards against double header writes: every builder method
// short-circuits once the response has started.
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
	status      int
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w}
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

// Unwrap exposes the underlying writer to http.ResponseController, which
// needs it to reach the connection's deadline support.
func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Started reports whether headers have been sent.
func (w *responseWriter) Started() bool { return w.wroteHeader }

// writeEmpty sends a bodyless status with an explicit zero length.
func writeEmpty(w *responseWriter, status int) {
	if w.Started() {
		return
	}
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(status)
}

// davTime renders epoch milliseconds as RFC 1123 GMT.
func davTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(http.TimeFormat)
}

// Multistatus XML shapes, one <D:response> per resource with a single
// <D:propstat> group.
type multistatusXML struct {
	XMLName   xml.Name      `xml:"D:multistatus"`
	XMLNSD    string        `xml:"xmlns:D,attr"`
	Responses []responseXML `xml:"D:response"`
}

type responseXML struct {
	Href     string        `xml:"D:href"`
	Propstat []propstatXML `xml:"D:propstat"`
}

type propstatXML struct {
	Prop   propContainerXML `xml:"D:prop"`
	Status string           `xml:"D:status"`
}

type propContainerXML struct {
	Props []propertyXML
}

// propertyXML carries a pre-escaped payload verbatim, following the
// innerxml approach for mixed simple values and markup (resourcetype).
type propertyXML struct {
	XMLName  xml.Name
	InnerXML []byte `xml:",innerxml"`
}

func prop(name, value string) propertyXML {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(value))
	return propertyXML{
		XMLName:  xml.Name{Local: "D:" + name},
		InnerXML: buf.Bytes(),
	}
}

func propRaw(name, inner string) propertyXML {
	return propertyXML{
		XMLName:  xml.Name{Local: "D:" + name},
		InnerXML: []byte(inner),
	}
}

// resourceProps is the full property set served for every resource.
func resourceProps(r *Resource, quota fs.Space) []propertyXML {
	size := r.Stats.Size
	if r.IsDir() {
		size = 0
	}
	resourcetype := "<D:file/>"
	if r.IsDir() {
		resourcetype = "<D:collection/>"
	}
	available := quota.Max - quota.Used
	if available < 0 {
		available = 0
	}
	return []propertyXML{
		prop("getlastmodified", davTime(r.Stats.MTimeMS)),
		prop("displayname", url.PathEscape(r.Stats.Name)),
		prop("getcontentlength", strconv.FormatInt(size, 10)),
		prop("getetag", r.Stats.UUID),
		prop("creationdate", davTime(r.Stats.BirthtimeMS)),
		prop("quota-available-bytes", strconv.FormatInt(available, 10)),
		prop("quota-used-bytes", strconv.FormatInt(quota.Used, 10)),
		prop("getcontenttype", r.ContentType()),
		propRaw("resourcetype", resourcetype),
	}
}

const statusOK = "HTTP/1.1 200 OK"

// writeMultistatus emits the 207 body listing the given resources.
func writeMultistatus(w *responseWriter, resources []*Resource, quota fs.Space) error {
	ms := multistatusXML{XMLNSD: "DAV:"}
	for _, r := range resources {
		ms.Responses = append(ms.Responses, responseXML{
			Href: r.Href(),
			Propstat: []propstatXML{{
				Prop:   propContainerXML{Props: resourceProps(r, quota)},
				Status: statusOK,
			}},
		})
	}
	return writeXML(w, http.StatusMultiStatus, ms)
}

// writeNotFoundMultistatus emits the DAV 404 body for a missing resource.
func writeNotFoundMultistatus(w *responseWriter, rawPath string) error {
	href := (&url.URL{Path: rawPath}).EscapedPath()
	ms := multistatusXML{
		XMLNSD: "DAV:",
		Responses: []responseXML{{
			Href: href,
			Propstat: []propstatXML{{
				Prop:   propContainerXML{},
				Status: "HTTP/1.1 404 NOT FOUND",
			}},
		}},
	}
	return writeXML(w, http.StatusNotFound, ms)
}

// writeProppatchMultistatus emits the empty-prop 207 reply.
func writeProppatchMultistatus(w *responseWriter, rawPath string) error {
	href := (&url.URL{Path: rawPath}).EscapedPath()
	ms := multistatusXML{
		XMLNSD: "DAV:",
		Responses: []responseXML{{
			Href: href,
			Propstat: []propstatXML{{
				Prop:   propContainerXML{},
				Status: "HTTP/1.1 207 Multi-Status",
			}},
		}},
	}
	return writeXML(w, http.StatusMultiStatus, ms)
}

func writeXML(w *responseWriter, status int, doc any) error {
	if w.Started() {
		return nil
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal multistatus: %w", err)
	}
	full := append([]byte(xml.Header), body...)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(full)))
	w.WriteHeader(status)
	_, err = w.Write(full)
	return err
}
