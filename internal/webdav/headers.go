package webdav

import "net/http"

// allowedMethods is the advertised verb list.
const allowedMethods = "OPTIONS, GET, HEAD, PUT, DELETE, PROPFIND, PROPPATCH, MKCOL, COPY, MOVE"

// CommonHeaders sets the DAV headers carried on every response.
func CommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Allow", allowedMethods)
		h.Set("DAV", "1, 2")
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", "DAV, content-length, Allow")
		h.Set("MS-Author-Via", "DAV")
		h.Set("Server", "Filen WebDAV")
		h.Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}
