// Package memfs is an in-memory implementation of the fs backend contract.
// It backs the dev mode of the gateway and every handler test; semantics
// mirror the real SDK, including the detached metadata index that uploads
// join only via AddItem.
package memfs

import (
	"bytes"
	"context"
	"io"
	"mime"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filen-community/filen-webdav/internal/fs"
)

type node struct {
	stats    fs.Stats
	data     []byte
	children map[string]*node
}

func (n *node) isDir() bool { return n.stats.Type == fs.KindDirectory }

// FS is an in-memory backend session.
type FS struct {
	mu      sync.Mutex
	root    *node
	space   fs.Space
	pending map[string]*node // detached items keyed by uuid, joined by AddItem
	subs    map[int]func()
	nextSub int
}

// New returns an empty filesystem with the given capacity.
func New(maxBytes int64) *FS {
	now := time.Now().UnixMilli()
	return &FS{
		root: &node{
			stats: fs.Stats{
				UUID:         uuid.NewString(),
				Type:         fs.KindDirectory,
				Name:         "",
				MTimeMS:      now,
				BirthtimeMS:  now,
				LastModified: now,
				Creation:     now,
			},
			children: make(map[string]*node),
		},
		space:   fs.Space{Max: maxBytes},
		pending: make(map[string]*node),
		subs:    make(map[int]func()),
	}
}

func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// lookup walks to the node for p. Caller holds mu.
func (m *FS) lookup(p string) (*node, bool) {
	cur := m.root
	for _, seg := range splitPath(p) {
		if !cur.isDir() {
			return nil, false
		}
		next, ok := cur.children[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// lookupParent returns the parent node and leaf name for p. Caller holds mu.
func (m *FS) lookupParent(p string) (*node, string, bool) {
	segs := splitPath(p)
	if len(segs) == 0 {
		return nil, "", false
	}
	parent, ok := m.lookup(path.Dir(path.Clean("/" + p)))
	if !ok || !parent.isDir() {
		return nil, "", false
	}
	return parent, segs[len(segs)-1], true
}

func (m *FS) Stat(ctx context.Context, p string) (fs.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.lookup(p)
	if !ok {
		return fs.Stats{}, fs.ErrNotFound
	}
	return n.stats, nil
}

func (m *FS) ReadDir(ctx context.Context, p string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.lookup(p)
	if !ok || !n.isDir() {
		return nil, fs.ErrNotFound
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Mkdir creates p and any missing intermediate directories. Existing
// directories are left alone, matching the SDK's name+parent de-duplication.
func (m *FS) Mkdir(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.root
	for _, seg := range splitPath(p) {
		if !cur.isDir() {
			return fs.ErrNotFound
		}
		next, ok := cur.children[seg]
		if !ok {
			now := time.Now().UnixMilli()
			next = &node{
				stats: fs.Stats{
					UUID:         uuid.NewString(),
					Type:         fs.KindDirectory,
					Name:         seg,
					MTimeMS:      now,
					BirthtimeMS:  now,
					LastModified: now,
					Creation:     now,
				},
				children: make(map[string]*node),
			}
			cur.children[seg] = next
		}
		cur = next
	}
	return nil
}

func (m *FS) Rename(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(from, to, false)
}

func (m *FS) Copy(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(from, to, true)
}

// move relocates or duplicates the subtree at from. Caller holds mu.
func (m *FS) move(from, to string, copied bool) error {
	src, ok := m.lookup(from)
	if !ok {
		return fs.ErrNotFound
	}
	dstParent, leaf, ok := m.lookupParent(to)
	if !ok {
		return fs.ErrNotFound
	}
	n := src
	if copied {
		n = cloneNode(src)
	} else {
		srcParent, srcLeaf, ok := m.lookupParent(from)
		if !ok {
			return fs.ErrNotFound
		}
		delete(srcParent.children, srcLeaf)
	}
	n.stats.Name = leaf
	dstParent.children[leaf] = n
	return nil
}

func cloneNode(n *node) *node {
	c := &node{stats: n.stats}
	c.stats.UUID = uuid.NewString()
	if n.children != nil {
		c.children = make(map[string]*node, len(n.children))
		for name, child := range n.children {
			c.children[name] = cloneNode(child)
		}
	}
	if n.data != nil {
		c.data = append([]byte(nil), n.data...)
	}
	return c
}

func (m *FS) Unlink(ctx context.Context, p string, permanent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, leaf, ok := m.lookupParent(p)
	if !ok {
		return fs.ErrNotFound
	}
	n, ok := parent.children[leaf]
	if !ok {
		return fs.ErrNotFound
	}
	m.space.Used -= subtreeSize(n)
	delete(parent.children, leaf)
	return nil
}

func subtreeSize(n *node) int64 {
	total := n.stats.Size
	for _, c := range n.children {
		total += subtreeSize(c)
	}
	return total
}

func (m *FS) StatFS(ctx context.Context) (fs.Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.space, nil
}

func (m *FS) Cloud() fs.Cloud { return (*cloud)(m) }

// RemoveItem detaches p from the tree, parking the node so a later AddItem
// with the same uuid restores its content.
func (m *FS) RemoveItem(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, leaf, ok := m.lookupParent(p)
	if !ok {
		return
	}
	if n, ok := parent.children[leaf]; ok {
		m.pending[n.stats.UUID] = n
		delete(parent.children, leaf)
	}
}

// AddItem joins a pending item (by uuid) into the tree at p, or creates a
// fresh entry from item when nothing is pending.
func (m *FS) AddItem(p string, item fs.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, leaf, ok := m.lookupParent(p)
	if !ok {
		return
	}
	n, ok := m.pending[item.UUID]
	if ok {
		delete(m.pending, item.UUID)
	} else {
		n = &node{}
		if item.Type == fs.KindDirectory {
			n.children = make(map[string]*node)
		}
	}
	n.stats = item
	n.stats.Name = leaf
	parent.children[leaf] = n
}

func (m *FS) SubscribePasswordChanged(fn func()) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// FirePasswordChanged invokes every subscriber, emulating the SDK socket
// event. Test helper.
func (m *FS) FirePasswordChanged() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// cloud implements fs.Cloud over the same state.
type cloud FS

func (c *cloud) UploadStream(ctx context.Context, src io.Reader, parentUUID, name string) (fs.Stats, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return fs.Stats{}, err
	}
	now := time.Now().UnixMilli()
	chunks := int64(len(data)) / fs.UploadChunkSize
	if int64(len(data))%fs.UploadChunkSize != 0 || len(data) == 0 {
		chunks++
	}
	st := fs.Stats{
		UUID:         uuid.NewString(),
		Type:         fs.KindFile,
		Name:         name,
		Size:         int64(len(data)),
		MTimeMS:      now,
		BirthtimeMS:  now,
		LastModified: now,
		Creation:     now,
		Mime:         mime.TypeByExtension(path.Ext(name)),
		Key:          uuid.NewString(),
		Bucket:       "memfs",
		Region:       "local",
		Version:      2,
		Chunks:       chunks,
	}

	m := (*FS)(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.space.Used += st.Size
	// Stays out of the tree until the caller rewrites the index.
	m.pending[st.UUID] = &node{stats: st, data: data}
	return st, nil
}

func (c *cloud) DownloadRange(ctx context.Context, src fs.Stats, start, end int64) (io.ReadCloser, error) {
	m := (*FS)(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.findByUUID(m.root, src.UUID)
	if n == nil {
		return nil, fs.ErrNotFound
	}
	data := n.data
	if end < 0 || end > int64(len(data)) {
		end = int64(len(data))
	}
	if start < 0 || start > end {
		return nil, fs.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data[start:end]...))), nil
}

func (c *cloud) EditFileMetadata(ctx context.Context, id string, meta fs.FileMetadata) error {
	m := (*FS)(c)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.findByUUID(m.root, id)
	if n == nil {
		return fs.ErrNotFound
	}
	n.stats.Name = meta.Name
	n.stats.LastModified = meta.LastModified
	n.stats.Creation = meta.Creation
	n.stats.Hash = meta.Hash
	n.stats.Mime = meta.Mime
	return nil
}

// findByUUID scans the tree and pending items. Caller holds mu.
func (m *FS) findByUUID(n *node, id string) *node {
	if n.stats.UUID == id {
		return n
	}
	for _, c := range n.children {
		if found := m.findByUUID(c, id); found != nil {
			return found
		}
	}
	if p, ok := m.pending[id]; ok && p.stats.UUID == id {
		return p
	}
	return nil
}

var _ fs.Backend = (*FS)(nil)
