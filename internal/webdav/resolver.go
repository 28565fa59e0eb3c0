package webdav

import (
	"context"
	"errors"

	"github.com/filen-community/filen-webdav/internal/fs"
)

// Resolve maps a canonical path to a Resource, trying the virtual tier,
// then the disk tier, then the backend. A backend not-found surfaces as
// (nil, nil). The resolver never mutates tier maps.
func Resolve(ctx context.Context, u *User, path string) (*Resource, error) {
	if r, ok := u.Virtual(path); ok {
		return r, nil
	}
	if r, ok := u.Disk(path); ok {
		return r, nil
	}
	st, err := u.Backend.Stat(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Resource{Tier: TierBackend, Path: path, Stats: st}, nil
}
