package webdav

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/filen-community/filen-webdav/internal/fs"
)

func (h *Handler) handlePut(w *responseWriter, r *http.Request, u *User) error {
	ctx := r.Context()
	path := CanonicalPath(r.URL.Path)

	existing, err := Resolve(ctx, u, path)
	if err != nil {
		return err
	}
	if existing != nil && existing.IsDir() {
		writeEmpty(w, http.StatusForbidden)
		return nil
	}

	// The backend deduplicates Mkdir, so ensuring the parent is a single
	// idempotent call followed by a stat to catch parent-is-a-file.
	parent := parentPath(path)
	if err := u.Backend.Mkdir(ctx, parent); err != nil {
		writeEmpty(w, http.StatusPreconditionFailed)
		return nil
	}
	parentStats, err := u.Backend.Stat(ctx, parent)
	if err != nil || parentStats.Type != fs.KindDirectory {
		writeEmpty(w, http.StatusPreconditionFailed)
		return nil
	}

	name := baseName(path)
	body := FrameBody(w, r, h.firstByteTimeout)

	if body.Empty {
		now := time.Now().UnixMilli()
		u.SetVirtual(&Resource{
			Tier: TierVirtual,
			Path: path,
			Stats: fs.Stats{
				UUID:         uuid.NewString(),
				Type:         fs.KindFile,
				Name:         name,
				Size:         0,
				MTimeMS:      now,
				BirthtimeMS:  now,
				LastModified: now,
				Creation:     now,
				Mime:         MimeByName(name),
				Chunks:       1,
				Version:      2,
			},
		})
		writeEmpty(w, http.StatusCreated)
		return nil
	}

	if h.scratch.Matches(path) {
		return h.putScratch(w, u, path, name, body)
	}

	stats, err := u.Backend.Cloud().UploadStream(ctx, body.Reader, parentStats.UUID, name)
	if err != nil {
		// A half-done upload must not leave a stale placeholder visible.
		u.Purge(path)
		return fmt.Errorf("upload %s: %w", name, err)
	}
	u.Backend.RemoveItem(path)
	u.Backend.AddItem(path, stats)
	u.Purge(path)
	writeEmpty(w, http.StatusCreated)
	return nil
}

// putScratch stores a sidecar file on the disk tier. The per-path mutex
// serializes concurrent writers racing on the same scratch file.
func (h *Handler) putScratch(w *responseWriter, u *User, path, name string, body *Body) error {
	mu := u.PathMutex(path)
	mu.Lock()
	defer mu.Unlock()

	id := TempDiskID(u.Username, path)
	n, err := h.scratch.Write(id, body.Reader)
	if err != nil {
		u.Purge(path)
		return fmt.Errorf("write scratch %s: %w", name, err)
	}

	chunks := (n + fs.UploadChunkSize - 1) / fs.UploadChunkSize
	if chunks == 0 {
		chunks = 1
	}
	now := time.Now().UnixMilli()
	u.SetDisk(&Resource{
		Tier:       TierDisk,
		Path:       path,
		TempDiskID: id,
		Stats: fs.Stats{
			UUID:         uuid.NewString(),
			Type:         fs.KindFile,
			Name:         name,
			Size:         n,
			MTimeMS:      now,
			BirthtimeMS:  now,
			LastModified: now,
			Creation:     now,
			Mime:         MimeByName(name),
			Chunks:       chunks,
			Version:      2,
		},
	})
	writeEmpty(w, http.StatusCreated)
	return nil
}
