package webdav

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/filen-community/filen-webdav/internal/fs"
)

// parseDestination validates the Destination header and returns the
// canonical destination path. The boolean distinguishes a malformed header
// (400) from a traversal attempt (403).
func parseDestination(r *http.Request) (string, int) {
	raw := r.Header.Get("Destination")
	if raw == "" {
		return "", http.StatusBadRequest
	}
	dest, err := url.Parse(raw)
	if err != nil || dest.Scheme == "" || dest.Host == "" {
		return "", http.StatusBadRequest
	}
	if !strings.EqualFold(dest.Host, r.Host) {
		return "", http.StatusBadRequest
	}
	decoded, err := url.PathUnescape(dest.EscapedPath())
	if err != nil {
		return "", http.StatusBadRequest
	}
	// Traversal is rejected on the raw path, before cleaning folds it away.
	trimmed := strings.TrimPrefix(decoded, "/")
	if strings.HasPrefix(trimmed, "../") || strings.HasPrefix(trimmed, "./") {
		return "", http.StatusForbidden
	}
	return CanonicalPath(decoded), 0
}

func (h *Handler) handleCopyMove(w *responseWriter, r *http.Request, u *User, move bool) error {
	ctx := r.Context()
	srcPath := CanonicalPath(r.URL.Path)

	dstPath, errStatus := parseDestination(r)
	if errStatus != 0 {
		writeEmpty(w, errStatus)
		return nil
	}
	if dstPath == srcPath {
		writeEmpty(w, http.StatusCreated)
		return nil
	}
	if strings.HasPrefix(dstPath, srcPath+"/") {
		writeEmpty(w, http.StatusForbidden)
		return nil
	}

	src, err := Resolve(ctx, u, srcPath)
	if err != nil {
		return err
	}
	if src == nil {
		writeEmpty(w, http.StatusNotFound)
		return nil
	}
	dst, err := Resolve(ctx, u, dstPath)
	if err != nil {
		return err
	}
	if dst != nil && r.Header.Get("Overwrite") != "T" {
		writeEmpty(w, http.StatusForbidden)
		return nil
	}

	switch src.Tier {
	case TierVirtual:
		err = h.transferVirtual(r, u, src, dst, dstPath, move)
	case TierDisk:
		err = h.transferDisk(r, u, src, dst, dstPath, move)
	default:
		err = h.transferBackend(r, u, src, dst, dstPath, move)
	}
	if err != nil {
		return err
	}

	if dst != nil {
		writeEmpty(w, http.StatusNoContent)
	} else {
		writeEmpty(w, http.StatusCreated)
	}
	return nil
}

// purgeDestination clears whatever occupies the destination before an
// overwriting transfer lands there. Overlay-sourced overwrites delete the
// backend victim permanently; trash would resurrect it as a name conflict.
func (h *Handler) purgeDestination(r *http.Request, u *User, dst *Resource, permanent bool) error {
	if dst == nil {
		return nil
	}
	switch dst.Tier {
	case TierVirtual:
		u.RemoveVirtual(dst.Path)
	case TierDisk:
		if err := h.scratch.Remove(dst.TempDiskID); err != nil {
			return fmt.Errorf("purge scratch destination: %w", err)
		}
		u.RemoveDisk(dst.Path)
	default:
		if err := u.Backend.Unlink(r.Context(), dst.Path, permanent); err != nil {
			return fmt.Errorf("unlink destination: %w", err)
		}
	}
	return nil
}

// relocated clones a tier resource onto a new path with a fresh identity.
func relocated(src *Resource, dstPath string) *Resource {
	out := *src
	out.Path = dstPath
	out.Stats.UUID = uuid.NewString()
	out.Stats.Name = baseName(dstPath)
	out.Stats.Mime = MimeByName(out.Stats.Name)
	now := time.Now().UnixMilli()
	out.Stats.MTimeMS = now
	out.Stats.LastModified = now
	return &out
}

func (h *Handler) transferVirtual(r *http.Request, u *User, src, dst *Resource, dstPath string, move bool) error {
	if err := h.purgeDestination(r, u, dst, true); err != nil {
		return err
	}
	u.SetVirtual(relocated(src, dstPath))
	if move {
		u.RemoveVirtual(src.Path)
	}
	return nil
}

func (h *Handler) transferDisk(r *http.Request, u *User, src, dst *Resource, dstPath string, move bool) error {
	if err := h.purgeDestination(r, u, dst, true); err != nil {
		return err
	}
	newID := TempDiskID(u.Username, dstPath)
	if move {
		if err := h.scratch.Rename(src.TempDiskID, newID); err != nil {
			return fmt.Errorf("rename scratch: %w", err)
		}
	} else {
		if err := h.scratch.CopyFile(src.TempDiskID, newID); err != nil {
			return fmt.Errorf("copy scratch: %w", err)
		}
	}
	out := relocated(src, dstPath)
	out.TempDiskID = newID
	u.SetDisk(out)
	if move {
		u.RemoveDisk(src.Path)
	}
	return nil
}

func (h *Handler) transferBackend(r *http.Request, u *User, src, dst *Resource, dstPath string, move bool) error {
	ctx := r.Context()
	if err := h.purgeDestination(r, u, dst, false); err != nil {
		return err
	}
	if move {
		if err := u.Backend.Rename(ctx, src.Path, dstPath); err != nil {
			return fmt.Errorf("rename: %w", err)
		}
	} else {
		if err := u.Backend.Copy(ctx, src.Path, dstPath); err != nil {
			return fmt.Errorf("copy: %w", err)
		}
	}
	// A transfer landing on a former overlay path must not stay shadowed.
	if src.Stats.Type != fs.KindDirectory {
		u.Purge(dstPath)
	}
	return nil
}
