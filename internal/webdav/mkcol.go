package webdav

import (
	"net/http"

	"github.com/filen-community/filen-webdav/internal/fs"
)

func (h *Handler) handleMkcol(w *responseWriter, r *http.Request, u *User) error {
	ctx := r.Context()
	path := CanonicalPath(r.URL.Path)

	parent, err := Resolve(ctx, u, parentPath(path))
	if err != nil {
		return err
	}
	if parent == nil || !parent.IsDir() {
		writeEmpty(w, http.StatusPreconditionFailed)
		return nil
	}

	// The backend deduplicates on name+parent, so re-creating an existing
	// collection is deliberately lenient.
	if err := u.Backend.Mkdir(ctx, path); err != nil {
		return err
	}
	created, err := u.Backend.Stat(ctx, path)
	if err != nil || created.Type != fs.KindDirectory {
		writeEmpty(w, http.StatusNotFound)
		return nil
	}
	writeEmpty(w, http.StatusCreated)
	return nil
}
