package webdav

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/filen-community/filen-webdav/internal/fs"
)

// timePatch carries the timestamps a PROPPATCH body asked to set.
type timePatch struct {
	modified *int64
	created  *int64
}

// timeLayouts are the formats clients actually send for DAV date props.
var timeLayouts = []string{
	http.TimeFormat,
	time.RFC1123Z,
	time.RFC3339,
	time.ANSIC,
}

func parsePatchTime(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

// parseProppatch extracts the recognized timestamp properties from a
// propertyupdate body. Unknown properties are accepted and ignored.
func parseProppatch(body string) (timePatch, error) {
	var patch timePatch
	if strings.TrimSpace(body) == "" {
		return patch, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(body); err != nil {
		return patch, fmt.Errorf("parse propertyupdate: %w", err)
	}
	root := doc.Root()
	if root == nil || !strings.EqualFold(root.Tag, "propertyupdate") {
		return patch, nil
	}
	for _, set := range root.ChildElements() {
		if !strings.EqualFold(set.Tag, "set") {
			continue
		}
		for _, prop := range set.ChildElements() {
			if !strings.EqualFold(prop.Tag, "prop") {
				continue
			}
			for _, el := range prop.ChildElements() {
				switch strings.ToLower(el.Tag) {
				case "getlastmodified", "lastmodified":
					if ms, ok := parsePatchTime(el.Text()); ok {
						patch.modified = &ms
					}
				case "creationdate", "getcreationdate":
					if ms, ok := parsePatchTime(el.Text()); ok {
						patch.created = &ms
					}
				}
			}
		}
	}
	return patch, nil
}

func (h *Handler) handleProppatch(w *responseWriter, r *http.Request, u *User) error {
	ctx := r.Context()
	path := CanonicalPath(r.URL.Path)

	body, err := ReadXMLBody(r)
	if err != nil {
		writeEmpty(w, http.StatusBadRequest)
		return nil
	}
	patch, err := parseProppatch(body)
	if err != nil {
		writeEmpty(w, http.StatusBadRequest)
		return nil
	}

	res, err := Resolve(ctx, u, path)
	if err != nil {
		return err
	}
	if res == nil {
		return writeNotFoundMultistatus(w, path)
	}

	// Directories have no patchable timestamps on the backend; the reply
	// is still a success so clients do not stall.
	if !res.IsDir() && (patch.modified != nil || patch.created != nil) {
		if err := h.applyTimePatch(r, u, res, patch); err != nil {
			return err
		}
	}
	return writeProppatchMultistatus(w, res.URL())
}

func (h *Handler) applyTimePatch(r *http.Request, u *User, res *Resource, patch timePatch) error {
	if patch.modified != nil {
		res.Stats.MTimeMS = *patch.modified
		res.Stats.LastModified = *patch.modified
	}
	if patch.created != nil {
		res.Stats.BirthtimeMS = *patch.created
		res.Stats.Creation = *patch.created
	}
	if res.Tier != TierBackend {
		// Tier-map entries are patched in place; nothing to push remotely.
		return nil
	}

	meta := fs.FileMetadata{
		Name:         res.Stats.Name,
		Key:          res.Stats.Key,
		LastModified: res.Stats.LastModified,
		Creation:     res.Stats.Creation,
		Hash:         res.Stats.Hash,
		Size:         res.Stats.Size,
		Mime:         res.Stats.Mime,
	}
	if err := u.Backend.Cloud().EditFileMetadata(r.Context(), res.Stats.UUID, meta); err != nil {
		return fmt.Errorf("edit metadata %s: %w", res.Stats.Name, err)
	}
	u.Backend.RemoveItem(res.Path)
	u.Backend.AddItem(res.Path, res.Stats)
	return nil
}
