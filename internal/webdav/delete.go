package webdav

import (
	"fmt"
	"net/http"
)

func (h *Handler) handleDelete(w *responseWriter, r *http.Request, u *User) error {
	ctx := r.Context()
	path := CanonicalPath(r.URL.Path)

	res, err := Resolve(ctx, u, path)
	if err != nil {
		return err
	}
	if res == nil {
		writeEmpty(w, http.StatusNotFound)
		return nil
	}

	switch res.Tier {
	case TierVirtual:
		u.RemoveVirtual(path)
	case TierDisk:
		if err := h.scratch.Remove(res.TempDiskID); err != nil {
			return fmt.Errorf("remove scratch: %w", err)
		}
		u.RemoveDisk(path)
	default:
		// Backend deletes go to trash, recoverable from the account UI.
		if err := u.Backend.Unlink(ctx, path, false); err != nil {
			return err
		}
	}
	writeEmpty(w, http.StatusOK)
	return nil
}
