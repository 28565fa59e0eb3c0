package webdav

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/filen-community/filen-webdav/internal/appctx"
	"github.com/filen-community/filen-webdav/internal/logutil"
)

func init() {
	// chi only routes methods it knows about.
	for _, m := range []string{"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK"} {
		chi.RegisterMethod(m)
	}
}

// Handler dispatches WebDAV verbs against the per-user three-tier overlay.
// It expects the auth middleware to have bound a *User to the context.
type Handler struct {
	log              *slog.Logger
	registry         *Registry
	scratch          *Scratch
	firstByteTimeout time.Duration
}

// NewHandler wires the dispatcher.
func NewHandler(registry *Registry, scratch *Scratch, log *slog.Logger) *Handler {
	return &Handler{
		log:              logutil.NoopIfNil(log),
		registry:         registry,
		scratch:          scratch,
		firstByteTimeout: defaultFirstByteTimeout,
	}
}

// Routes mounts every verb on a catch-all pattern.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	for _, m := range []string{
		http.MethodOptions, http.MethodHead, http.MethodGet, http.MethodPut, http.MethodPost,
		http.MethodDelete, "PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK",
	} {
		r.Method(m, "/*", h)
	}
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rw := wrapResponseWriter(w)
	log := appctx.GetLogger(r.Context())

	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error("handler panic", "method", r.Method, "panic", rec)
			if !rw.Started() {
				writeEmpty(rw, http.StatusInternalServerError)
				return
			}
			panic(http.ErrAbortHandler)
		}
	}()

	user, ok := UserFromContext(r.Context())
	if !ok {
		writeEmpty(rw, http.StatusUnauthorized)
		return
	}

	var err error
	switch r.Method {
	case http.MethodOptions:
		h.handleOptions(rw)
	case http.MethodHead:
		err = h.handleHead(rw, r, user)
	case http.MethodGet:
		err = h.handleGet(rw, r, user)
	case http.MethodPut, http.MethodPost:
		err = h.handlePut(rw, r, user)
	case "PROPFIND":
		err = h.handlePropfind(rw, r, user)
	case "PROPPATCH":
		err = h.handleProppatch(rw, r, user)
	case "MKCOL":
		err = h.handleMkcol(rw, r, user)
	case http.MethodDelete:
		err = h.handleDelete(rw, r, user)
	case "COPY":
		err = h.handleCopyMove(rw, r, user, false)
	case "MOVE":
		err = h.handleCopyMove(rw, r, user, true)
	case "LOCK", "UNLOCK":
		// Locking is intentionally not maintained; clients fall back to
		// optimistic concurrency.
		writeEmpty(rw, http.StatusNotImplemented)
	default:
		writeEmpty(rw, http.StatusBadRequest)
	}

	if err != nil {
		log.Error("handler error", "handler", r.Method, "error", err)
		if !rw.Started() {
			writeEmpty(rw, http.StatusInternalServerError)
			return
		}
		// Headers already out: the only honest signal left is killing
		// the connection.
		panic(http.ErrAbortHandler)
	}
}

func (h *Handler) handleOptions(w *responseWriter) {
	writeEmpty(w, http.StatusOK)
}
