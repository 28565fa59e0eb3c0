package webdav

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gobwas/glob"

	"github.com/filen-community/filen-webdav/internal/logutil"
)

// Scratch is the disk tier: plaintext sidecar files (.DS_Store, Thumbs.db,
// AppleDouble turds) stored locally so they never enter the encrypted
// backend. The filesystem is the source of truth; the in-memory tier map
// is a cache repaired by deletion on inconsistency.
type Scratch struct {
	log      *slog.Logger
	dir      string
	patterns []glob.Glob

	// retryWindow bounds how long removal of a busy scratch file is
	// retried (Windows clients hold sidecars open aggressively).
	retryWindow   time.Duration
	retryInterval time.Duration
}

const (
	defaultScratchRetryWindow   = 10 * time.Minute
	defaultScratchRetryInterval = 500 * time.Millisecond
)

// NewScratch compiles the sidecar globs and prepares (but does not create)
// the store rooted at dir. Invalid patterns are skipped with a warning.
func NewScratch(dir string, patterns []string, log *slog.Logger) *Scratch {
	s := &Scratch{
		log:           logutil.NoopIfNil(log),
		dir:           dir,
		retryWindow:   defaultScratchRetryWindow,
		retryInterval: defaultScratchRetryInterval,
	}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			s.log.Warn("skipping invalid scratch glob", "pattern", p, "error", err)
			continue
		}
		s.patterns = append(s.patterns, g)
	}
	return s
}

// SetRetryWindow overrides the removal retry budget (tests shrink it).
func (s *Scratch) SetRetryWindow(window, interval time.Duration) {
	s.retryWindow = window
	s.retryInterval = interval
}

// Dir returns the scratch root.
func (s *Scratch) Dir() string { return s.dir }

// Matches reports whether path belongs on the disk tier. Patterns match
// against the base name first, then the full path.
func (s *Scratch) Matches(path string) bool {
	name := baseName(path)
	for _, g := range s.patterns {
		if g.Match(name) || g.Match(path) {
			return true
		}
	}
	return false
}

// Reset empties and recreates the scratch directory. Called at startup:
// scratch content never outlives the process on purpose.
func (s *Scratch) Reset() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("empty scratch dir: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	return nil
}

// TempDiskID derives the stable on-disk name for a user's path.
func TempDiskID(username, path string) string {
	sum := xxhash.Sum64String(username + "_" + path)
	return sanitizeFileName(fmt.Sprintf("%016x", sum))
}

// reservedDeviceNames are Windows device names that cannot be file names.
var reservedDeviceNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// sanitizeFileName strips control characters, rejects reserved Windows
// device names, and truncates to 255 bytes.
func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if _, reserved := reservedDeviceNames[strings.ToUpper(out)]; reserved {
		out = "_" + out
	}
	if len(out) > 255 {
		out = out[:255]
	}
	return out
}

func (s *Scratch) filePath(id string) string {
	return filepath.Join(s.dir, id)
}

// Write streams r into the scratch file for id, replacing any previous
// content, and returns the byte count.
func (s *Scratch) Write(id string, r io.Reader) (int64, error) {
	if err := s.removeWithRetry(s.filePath(id)); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return 0, fmt.Errorf("create scratch dir: %w", err)
	}
	f, err := os.Create(s.filePath(id))
	if err != nil {
		return 0, fmt.Errorf("create scratch file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(s.filePath(id))
		return 0, fmt.Errorf("write scratch file: %w", err)
	}
	return n, nil
}

// Open returns a reader over the scratch file, positioned at start.
func (s *Scratch) Open(id string, start int64) (io.ReadCloser, error) {
	f, err := os.Open(s.filePath(id))
	if err != nil {
		return nil, err
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// Remove deletes the scratch file for id, retrying while it is busy.
func (s *Scratch) Remove(id string) error {
	return s.removeWithRetry(s.filePath(id))
}

// Rename moves the scratch file between ids (MOVE within the disk tier).
func (s *Scratch) Rename(oldID, newID string) error {
	if err := s.removeWithRetry(s.filePath(newID)); err != nil {
		return err
	}
	return os.Rename(s.filePath(oldID), s.filePath(newID))
}

// CopyFile duplicates the scratch file between ids (COPY within the disk
// tier).
func (s *Scratch) CopyFile(oldID, newID string) error {
	src, err := os.Open(s.filePath(oldID))
	if err != nil {
		return err
	}
	defer src.Close()
	if err := s.removeWithRetry(s.filePath(newID)); err != nil {
		return err
	}
	dst, err := os.Create(s.filePath(newID))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// removeWithRetry deletes path, retrying transient failures for up to the
// retry window. A missing file is success.
func (s *Scratch) removeWithRetry(path string) error {
	deadline := time.Now().Add(s.retryWindow)
	for {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("remove scratch file %s: %w", filepath.Base(path), err)
		}
		time.Sleep(s.retryInterval)
	}
}
