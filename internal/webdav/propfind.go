package webdav

import (
	"net/http"
	"path"
	"sort"
	"sync"

	"github.com/filen-community/filen-webdav/internal/appctx"
	"github.com/filen-community/filen-webdav/internal/fs"
)

// statConcurrency bounds the parallel child stats of a directory listing.
const statConcurrency = 16

func (h *Handler) handlePropfind(w *responseWriter, r *http.Request, u *User) error {
	ctx := r.Context()
	reqPath := CanonicalPath(r.URL.Path)

	// The request body selects properties; the full set is always served,
	// so the body only needs draining.
	if _, err := ReadXMLBody(r); err != nil {
		writeEmpty(w, http.StatusBadRequest)
		return nil
	}

	res, err := Resolve(ctx, u, reqPath)
	if err != nil {
		return err
	}
	if res == nil {
		return writeNotFoundMultistatus(w, reqPath)
	}

	quota, err := h.registry.StatFS(ctx, u)
	if err != nil {
		appctx.GetLogger(ctx).Warn("statfs failed, serving zero quota", "error", err)
		quota = fs.Space{}
	}

	resources := []*Resource{res}
	depth := r.Header.Get("Depth")
	if res.IsDir() && depth != "0" {
		children, err := h.listChildren(r, u, res.Path)
		if err != nil {
			return err
		}
		resources = append(resources, children...)
	}
	return writeMultistatus(w, resources, quota)
}

// listChildren stats the backend children of dir in parallel and merges in
// the virtual and disk tier entries, which shadow backend names.
func (h *Handler) listChildren(r *http.Request, u *User, dir string) ([]*Resource, error) {
	ctx := r.Context()
	names, err := u.Backend.ReadDir(ctx, dir)
	if err != nil {
		return nil, err
	}

	overlay := make(map[string]*Resource)
	for _, res := range u.ChildrenIn(dir) {
		overlay[res.Path] = res
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		backends []*Resource
	)
	sem := make(chan struct{}, statConcurrency)
	for _, name := range names {
		childPath := path.Join(dir, name)
		if _, shadowed := overlay[childPath]; shadowed {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			st, err := u.Backend.Stat(ctx, childPath)
			if err != nil {
				// Listed but no longer statable: leave it out.
				return
			}
			mu.Lock()
			backends = append(backends, &Resource{Tier: TierBackend, Path: childPath, Stats: st})
			mu.Unlock()
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := backends
	for _, res := range overlay {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
